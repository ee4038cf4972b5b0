// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package admin implements the taskrelay admin HTTP API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go.astrophena.name/taskrelay/cmd/taskrelay/internal/session"
	"go.astrophena.name/taskrelay/internal/logger"
	"go.astrophena.name/taskrelay/internal/util/set"
	"go.astrophena.name/taskrelay/internal/version"
	"go.astrophena.name/taskrelay/internal/web"
)

// Sessions is the part of the session supervisor exposed over HTTP.
type Sessions interface {
	Sessions() []session.Info
	Stop(ctx context.Context, userID int64) error
}

// Keywords lists keywords of a user.
type Keywords interface {
	List(ctx context.Context, userID int64) ([]string, error)
}

// Allowlist loads and replaces the allow-list.
type Allowlist interface {
	Load() (set.Set[string], error)
	Save(names []string) error
}

// Config configures the admin API.
type Config struct {
	Sessions  Sessions
	Keywords  Keywords
	Allowlist Allowlist
	Health    *web.HealthHandler // optional
	Logs      logger.Streamer    // optional
}

// Handler returns an HTTP handler serving the admin API.
func Handler(c Config) http.Handler {
	a := &api{c: c}
	if c.Health == nil {
		a.c.Health = web.NewHealth()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", a.handleIndex)
	r.Handle("/health", a.c.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", a.handleVersion)
		r.Get("/sessions", a.handleSessions)
		r.Delete("/sessions/{userID}", a.handleStopSession)
		r.Get("/keywords/{userID}", a.handleKeywords)
		r.Get("/allowlist", a.handleAllowlist)
		r.Put("/allowlist", a.handlePutAllowlist)
	})
	if c.Logs != nil {
		r.Get("/debug/logs", c.Logs.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSONError(w, r, web.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSONError(w, r, web.ErrMethodNotAllowed)
	})
	return r
}

type api struct{ c Config }

func (a *api) handleIndex(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, map[string]any{
		"endpoints": []string{
			"GET /health",
			"GET /api/version",
			"GET /api/sessions",
			"DELETE /api/sessions/{userID}",
			"GET /api/keywords/{userID}",
			"GET /api/allowlist",
			"PUT /api/allowlist",
			"GET /debug/logs",
		},
	})
}

func (a *api) handleVersion(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, version.Version())
}

func (a *api) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.c.Sessions.Sessions()
	if sessions == nil {
		sessions = []session.Info{}
	}
	web.RespondJSON(w, sessions)
}

func (a *api) handleStopSession(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if err := a.c.Sessions.Stop(r.Context(), userID); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			err = fmt.Errorf("session of %d %w", userID, web.ErrNotFound)
		}
		web.RespondJSONError(w, r, err)
		return
	}
	logger.Get(r.Context()).Info("session stopped over admin API", "user_id", userID)
	web.RespondJSON(w, map[string]any{"status": "ok", "user_id": userID})
}

func (a *api) handleKeywords(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	list, err := a.c.Keywords.List(r.Context(), userID)
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	web.RespondJSON(w, list)
}

func (a *api) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	users, err := a.c.Allowlist.Load()
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	list := users.ToSortedSlice()
	if list == nil {
		list = []string{}
	}
	web.RespondJSON(w, list)
}

func (a *api) handlePutAllowlist(w http.ResponseWriter, r *http.Request) {
	var names []string
	if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("%w: want a JSON array of usernames: %v", web.ErrBadRequest, err))
		return
	}
	if err := a.c.Allowlist.Save(names); err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("failed to write allow-list: %v", err))
		return
	}
	logger.Get(r.Context()).Info("allow-list replaced over admin API", "count", len(names))
	w.WriteHeader(http.StatusNoContent)
}

func userIDParam(r *http.Request) (int64, error) {
	s := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user ID %q", web.ErrBadRequest, s)
	}
	return id, nil
}
