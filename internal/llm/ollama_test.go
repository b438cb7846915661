package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}

		json.NewEncoder(w).Encode(chatResponse{
			Model:   "test-model",
			Message: Message{Role: "assistant", Content: "hello there"},
			Done:    true,
		})
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL)
	resp, err := c.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "hello there" {
		t.Errorf("unexpected content %q", resp.Message.Content)
	}
	if resp.HasToolCall() {
		t.Error("expected no tool calls")
	}
}

func TestChatToolCall(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "test-model",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "current_time", "arguments": {}}}]
			},
			"done": true
		}`))
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL)
	resp, err := c.Chat(context.Background(), "test-model", nil, []map[string]any{{"type": "function"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	call, ok := resp.FirstToolCall()
	if !ok {
		t.Fatal("expected a tool call")
	}
	if call.Function.Name != "current_time" {
		t.Errorf("expected current_time, got %q", call.Function.Name)
	}
}

func TestChatModelNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL)
	_, err := c.Chat(context.Background(), "nope", nil, nil)

	var nf *ModelNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ModelNotFoundError, got %v", err)
	}
	if nf.Model != "nope" {
		t.Errorf("expected model nope, got %q", nf.Model)
	}
}

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantName string
		wantNil  bool
	}{
		{
			name:     "raw object",
			content:  `{"name": "web_search", "arguments": {"query": "golang"}}`,
			wantName: "web_search",
		},
		{
			name:     "array",
			content:  `[{"name": "web_fetch", "arguments": {"url": "https://example.com"}}]`,
			wantName: "web_fetch",
		},
		{
			name:     "tagged",
			content:  `<tool_call>{"name": "current_time", "arguments": {}}</tool_call>`,
			wantName: "current_time",
		},
		{
			name:     "unclosed tag",
			content:  `<tool_call>{"name": "current_time", "arguments": {}}`,
			wantName: "current_time",
		},
		{name: "plain text", content: "Just a normal answer.", wantNil: true},
		{name: "empty", content: "", wantNil: true},
		{name: "json without name", content: `{"foo": "bar"}`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := parseTextToolCalls(tt.content)
			if tt.wantNil {
				if calls != nil {
					t.Errorf("expected nil, got %v", calls)
				}
				return
			}
			if len(calls) == 0 {
				t.Fatal("expected a parsed tool call")
			}
			if calls[0].Function.Name != tt.wantName {
				t.Errorf("expected %q, got %q", tt.wantName, calls[0].Function.Name)
			}
		})
	}
}
