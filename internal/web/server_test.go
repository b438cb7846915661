package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magpiebot/magpie/internal/agent"
	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/memory"
	"github.com/magpiebot/magpie/internal/usage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResponder returns a fixed reply or error and records the last
// context key it saw.
type fakeResponder struct {
	reply   string
	err     error
	lastKey string
}

func (f *fakeResponder) Respond(ctx context.Context, contextKey, prompt string) (string, error) {
	f.lastKey = contextKey
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestServer(t *testing.T, responder Responder, mem *memory.Store) *Server {
	t.Helper()
	return NewServer(Config{Scope: "room-user"}, responder, mem, testLogger())
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleChat(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	responder := &fakeResponder{reply: "**bold** answer"}
	mem := memory.NewStore(memory.Config{TTL: time.Hour}, nil, testLogger())
	s := newTestServer(t, responder, mem)

	rec := postChat(t, s, `{"message": "hi", "room": "r1", "user": "alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "**bold** answer" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if !strings.Contains(resp.HTML, "<strong>bold</strong>") {
		t.Errorf("markdown not rendered: %q", resp.HTML)
	}
	if resp.ContextKey != "room:r1:user:alice" {
		t.Errorf("context key = %q", resp.ContextKey)
	}

	// Turn persisted on success.
	turns, _ := mem.History("room:r1:user:alice")
	if len(turns) != 1 || turns[0].Assistant != "**bold** answer" {
		t.Errorf("turn not stored: %+v", turns)
	}
}

func TestChatDefaultsIdentity(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	s := newTestServer(t, responder, nil)

	rec := postChat(t, s, `{"message": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if responder.lastKey != "room:web:user:anonymous" {
		t.Errorf("default context key = %q", responder.lastKey)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	s := newTestServer(t, &fakeResponder{reply: "ok"}, nil)

	if rec := postChat(t, s, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", rec.Code)
	}
	if rec := postChat(t, s, `{"room": "r1"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing message: status = %d", rec.Code)
	}
}

func TestChatErrorDoesNotStoreTurn(t *testing.T) {
	mem := memory.NewStore(memory.Config{TTL: time.Hour}, nil, testLogger())
	s := newTestServer(t, &fakeResponder{err: llm.ErrConnection}, mem)

	rec := postChat(t, s, `{"message": "hi", "room": "r1", "user": "a"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
	if turns, _ := mem.History("room:r1:user:a"); len(turns) != 0 {
		t.Error("failed request must not persist a turn")
	}
}

func TestUserFacingError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantSubstr string
	}{
		{llm.ErrConnection, http.StatusBadGateway, "unreachable"},
		{&llm.ModelNotFoundError{Model: "qwen3:4b"}, http.StatusBadGateway, "qwen3:4b"},
		{&llm.TimeoutError{Timeout: 90 * time.Second}, http.StatusGatewayTimeout, "1m30s"},
		{&agent.IterationLimitError{Iterations: 5}, http.StatusInternalServerError, "5 rounds"},
		{llm.ErrEmptyResponse, http.StatusBadGateway, "empty"},
		{fmt.Errorf("internal details leak"), http.StatusInternalServerError, "Something went wrong"},
	}
	for _, tt := range tests {
		msg, status := userFacingError(tt.err)
		if status != tt.wantStatus {
			t.Errorf("%v: status = %d, want %d", tt.err, status, tt.wantStatus)
		}
		if !strings.Contains(msg, tt.wantSubstr) {
			t.Errorf("%v: message %q missing %q", tt.err, msg, tt.wantSubstr)
		}
	}
	// Unknown errors must not leak internals.
	if msg, _ := userFacingError(fmt.Errorf("secret db password")); strings.Contains(msg, "secret") {
		t.Errorf("raw error leaked: %q", msg)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeResponder{reply: "ok"}, nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health: %d %s", rec.Code, rec.Body)
	}
}

func TestChatWebsocketRoundtrip(t *testing.T) {
	responder := &fakeResponder{reply: "pong"}
	s := newTestServer(t, responder, nil)

	srv := httptest.NewServer(http.HandlerFunc(s.handleChatWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatRequest{Message: "ping", Room: "r", User: "u"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp chatResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Reply != "pong" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.ContextKey != "room:r:user:u" {
		t.Errorf("context key = %q", resp.ContextKey)
	}

	// Second turn on the same connection.
	responder.reply = "pong again"
	if err := conn.WriteJSON(chatRequest{Message: "ping", Room: "r", User: "u"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Reply != "pong again" {
		t.Errorf("second reply = %q", resp.Reply)
	}
}

func TestChatWebsocketErrorFrame(t *testing.T) {
	s := newTestServer(t, &fakeResponder{err: llm.ErrConnection}, nil)

	srv := httptest.NewServer(http.HandlerFunc(s.handleChatWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatRequest{Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var frame chatError
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(frame.Error, "unreachable") {
		t.Errorf("error frame = %q", frame.Error)
	}
}

func TestUsageEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeResponder{reply: "ok"}, nil)

	// Without a store the endpoint is a 404.
	rec := httptest.NewRecorder()
	s.handleUsage(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("no store: status = %d", rec.Code)
	}

	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("usage store: %v", err)
	}
	defer store.Close()
	if err := store.Add(context.Background(), usage.Record{Model: "m", InputTokens: 12, OutputTokens: 3}); err != nil {
		t.Fatalf("add record: %v", err)
	}
	s.SetUsageStore(store)

	rec = httptest.NewRecorder()
	s.handleUsage(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var report usageReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Total == nil || report.Total.TotalInputTokens != 12 {
		t.Errorf("total = %+v", report.Total)
	}
	if report.ByModel["m"] == nil {
		t.Errorf("by_model = %+v", report.ByModel)
	}
}
