package web

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/magpiebot/magpie/internal/memory"
)

// chatRequest is one user message. Room, user, and thread identify the
// conversation; missing fields fall back to defaults so curl-style
// clients work without ceremony.
type chatRequest struct {
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
	User    string `json:"user,omitempty"`
	Thread  string `json:"thread,omitempty"`
}

// chatResponse carries the assistant's reply, both as plain text and
// rendered to HTML for browser clients.
type chatResponse struct {
	Reply      string `json:"reply"`
	HTML       string `json:"html,omitempty"`
	ContextKey string `json:"context_key"`
}

type chatError struct {
	Error string `json:"error"`
}

var markdown = goldmark.New()

func (r *chatRequest) contextKey(scope string) string {
	room := r.Room
	if room == "" {
		room = "web"
	}
	user := r.User
	if user == "" {
		user = "anonymous"
	}
	return memory.ContextKey(scope, room, user, r.Thread)
}

// handleChat answers POST /api/chat: run the orchestrator, persist the
// turn on success, and return the reply.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatError{Error: "invalid JSON body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, chatError{Error: "message is required"})
		return
	}

	key := req.contextKey(s.cfg.Scope)
	reply, err := s.agent.Respond(r.Context(), key, req.Message)
	if err != nil {
		msg, status := userFacingError(err)
		s.logger.Error("chat request failed", "context", key, "error", err)
		writeJSON(w, status, chatError{Error: msg})
		return
	}

	if s.memory != nil {
		s.memory.AddTurn(key, req.Message, reply, map[string]string{"via": "web"})
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:      reply,
		HTML:       renderMarkdown(reply),
		ContextKey: key,
	})
}

// renderMarkdown converts the assistant's reply to HTML. On conversion
// failure the HTML field is simply omitted; the plain text reply is
// always present.
func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
