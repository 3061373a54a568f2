// Package enginetest provides an in-process stand-in for the remote game server.
// It applies whatever the test scripts and records every request it sees.
package enginetest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/go-chi/chi/v5"
)

// Call is one request received by the fake.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Server serves /api/v1/matches/{id}/... from a scripted snapshot.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	snapshot types.Snapshot
	lobby    types.LobbyMatch
	calls    []Call
	stateErr error

	// Hooks run under the server lock and may mutate the snapshot. A returned
	// error is sent back as 400 {"error": err.Error()}.
	OnMove      func(req types.MoveRequest, snap *types.Snapshot) error
	OnEndTurn   func(seat types.Seat, snap *types.Snapshot) error
	OnPurchase  func(req types.PurchaseRequest, snap *types.Snapshot) error
	OnActivate  func(req types.ActivatePowerRequest, snap *types.Snapshot) error
	OnSurrender func(req types.SurrenderRequest, snap *types.Snapshot) error
}

func New(t testing.TB, initial types.Snapshot) *Server {
	t.Helper()
	s := &Server{snapshot: initial}

	r := chi.NewRouter()
	r.Route("/api/v1/matches/{id}", func(r chi.Router) {
		r.Get("/", s.handleLobby)
		r.Get("/state", s.handleState)
		r.Post("/move", handlePost(s, func(req types.MoveRequest) error {
			if s.OnMove == nil {
				return nil
			}
			return s.OnMove(req, &s.snapshot)
		}))
		r.Post("/end-turn", handlePost(s, func(req types.EndTurnRequest) error {
			if s.OnEndTurn == nil {
				return nil
			}
			return s.OnEndTurn(req.Seat, &s.snapshot)
		}))
		r.Post("/purchase", handlePost(s, func(req types.PurchaseRequest) error {
			if s.OnPurchase == nil {
				return nil
			}
			return s.OnPurchase(req, &s.snapshot)
		}))
		r.Post("/activate-power", handlePost(s, func(req types.ActivatePowerRequest) error {
			if s.OnActivate == nil {
				return nil
			}
			return s.OnActivate(req, &s.snapshot)
		}))
		r.Post("/surrender", handlePost(s, func(req types.SurrenderRequest) error {
			if s.OnSurrender == nil {
				return nil
			}
			return s.OnSurrender(req, &s.snapshot)
		}))
	})

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base to hand to engine.NewClient.
func (s *Server) URL() string { return s.srv.URL + "/api/v1" }

func (s *Server) SetSnapshot(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

func (s *Server) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Server) SetLobby(m types.LobbyMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobby = m
}

// FailState makes GET .../state answer 500 with err's text until called with nil.
func (s *Server) FailState(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateErr = err
}

// Calls returns every recorded request whose path ends with suffix.
func (s *Server) Calls(suffix string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if strings.HasSuffix(c.Path, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) record(r *http.Request, body []byte) {
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r, nil)
	if s.stateErr != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": s.stateErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot)
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r, nil)
	writeJSON(w, http.StatusOK, s.lobby)
}

func handlePost[T any](s *Server, apply func(T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.record(r, body)

		var req T
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
			return
		}
		if err := apply(req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Reject builds the error a hook returns to refuse a request with msg.
func Reject(msg string) error { return errors.New(msg) }
