// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegramtest provides a fake Telegram Bot API server for tests.
package telegramtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/telegram"
)

// Token is the bot token the fake server accepts.
const Token = "123456:fake-token"

// BotUsername is the username returned by getMe.
const BotUsername = "taskrelay_bot"

// SentMessage is a message received by the fake sendMessage method.
type SentMessage struct {
	ChatID    int64
	Text      string
	ParseMode string
}

// Server is a fake Telegram Bot API server.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	sent          []SentMessage
	updates       []telegram.Update
	commands      []telegram.BotCommand
	forbidden     map[int64]bool
	rejectMarkup  bool
	rateLimitLeft int
}

// New starts a fake server that is closed when the test ends.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{forbidden: make(map[int64]bool)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// Client returns a telegram.Client talking to s.
func (s *Server) Client() *telegram.Client {
	return telegram.New(telegram.Config{
		Token:   Token,
		BaseURL: s.URL,
	})
}

// Forbid makes sendMessage to chatID fail with 403 Forbidden.
func (s *Server) Forbid(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forbidden[chatID] = true
}

// RejectMarkup makes sendMessage reject every message with a parse mode.
func (s *Server) RejectMarkup(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectMarkup = reject
}

// RateLimit makes the next n requests fail with 429 Too Many Requests.
func (s *Server) RateLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitLeft = n
}

// QueueUpdate adds an incoming text message from user in a private chat.
func (s *Server) QueueUpdate(user telegram.User, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.updates) + 1)
	u := user
	s.updates = append(s.updates, telegram.Update{
		UpdateID: id,
		Message: &telegram.Message{
			MessageID: id,
			From:      &u,
			Chat:      telegram.Chat{ID: user.ID, Type: "private"},
			Text:      text,
		},
	})
}

// Sent returns a copy of all messages sent so far.
func (s *Server) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// Commands returns the last command menu set by setMyCommands.
func (s *Server) Commands() []telegram.BotCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// WaitSent waits until at least n messages were sent and returns them.
func (s *Server) WaitSent(t *testing.T, n int) []SentMessage {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		sent := s.Sent()
		if len(sent) >= n {
			return sent
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages, got %d: %+v", n, len(sent), sent)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+Token+"/")
	if !ok {
		respond(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	s.mu.Lock()
	if s.rateLimitLeft > 0 {
		s.rateLimitLeft--
		s.mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 0","parameters":{"retry_after":0}}`))
		return
	}
	s.mu.Unlock()

	switch method {
	case "getMe":
		respond(w, http.StatusOK, "", telegram.User{ID: 1, IsBot: true, FirstName: "Task Relay", Username: BotUsername})
	case "setMyCommands":
		var req struct {
			Commands []telegram.BotCommand `json:"commands"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond(w, http.StatusBadRequest, "Bad Request: "+err.Error(), nil)
			return
		}
		s.mu.Lock()
		s.commands = req.Commands
		s.mu.Unlock()
		respond(w, http.StatusOK, "", true)
	case "getUpdates":
		s.getUpdates(w, r)
	case "sendMessage":
		s.sendMessage(w, r)
	default:
		respond(w, http.StatusNotFound, "Not Found: method not found", nil)
	}
}

func (s *Server) getUpdates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset int64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, "Bad Request: "+err.Error(), nil)
		return
	}

	pending := func() []telegram.Update {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []telegram.Update
		for _, u := range s.updates {
			if u.UpdateID >= req.Offset {
				out = append(out, u)
			}
		}
		return out
	}

	// A short stand-in for long polling.
	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		if out := pending(); len(out) > 0 || time.Now().After(deadline) {
			respond(w, http.StatusOK, "", out)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID    int64  `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, "Bad Request: "+err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forbidden[req.ChatID] {
		respond(w, http.StatusForbidden, "Forbidden: bot was blocked by the user", nil)
		return
	}
	if s.rejectMarkup && req.ParseMode != "" {
		respond(w, http.StatusBadRequest, "Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 3", nil)
		return
	}
	s.sent = append(s.sent, SentMessage{ChatID: req.ChatID, Text: req.Text, ParseMode: req.ParseMode})
	respond(w, http.StatusOK, "", map[string]any{"message_id": len(s.sent), "chat": map[string]any{"id": req.ChatID}})
}

func respond(w http.ResponseWriter, status int, description string, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{"ok": status == http.StatusOK}
	if status == http.StatusOK {
		resp["result"] = result
	} else {
		resp["error_code"] = status
		resp["description"] = description
	}
	json.NewEncoder(w).Encode(resp)
}
