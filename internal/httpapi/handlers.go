package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/damas-client/internal/engine"
	"github.com/DoyleJ11/damas-client/internal/power"
	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/internal/types"
	"github.com/DoyleJ11/damas-client/internal/ws"
	"github.com/go-chi/chi/v5"
)

// PresenceReader is the read side of the presence store.
type PresenceReader interface {
	Current() (presence.Record, bool)
	Viewing() (int64, bool)
}

type presenceBody struct {
	Active         *presence.Record `json:"active"`
	ViewingMatchID int64            `json:"viewing_match_id,omitempty"`
}

func GetPresence(p PresenceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body presenceBody
		if rec, ok := p.Current(); ok {
			body.Active = &rec
		}
		body.ViewingMatchID, _ = p.Viewing()
		writeJSON(w, http.StatusOK, body)
	}
}

func GetState(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.NewMatchView(s.View()))
	}
}

// ClickCell handles POST /cells/{row}/{col}/click. ?mode=target aims a power
// instead of selecting or moving.
func ClickCell(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err1 := strconv.Atoi(chi.URLParam(r, "row"))
		col, err2 := strconv.Atoi(chi.URLParam(r, "col"))
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "row and col must be integers")
			return
		}
		cm := types.ClientMessage{Type: "ClickCell", Row: row, Col: col}
		if r.URL.Query().Get("mode") == "target" {
			cm.Type = "TargetCell"
		}
		outcome, err := ws.Dispatch(r.Context(), s, cm)
		respond(w, s, outcome, err)
	}
}

func Purchase(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Purchase(r.Context(), chi.URLParam(r, "slug"))
		respond(w, s, "", err)
	}
}

func Activate(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Activate(r.Context(), chi.URLParam(r, "slug"))
		respond(w, s, "", err)
	}
}

func Surrender(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, s, "", s.Surrender(r.Context()))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func respond(w http.ResponseWriter, s *session.Session, outcome string, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), types.ServerMessage{Type: "Error", Outcome: outcome, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.ServerMessage{Type: "MatchView", Outcome: outcome, View: types.NewMatchView(s.View())})
}

func statusFor(err error) int {
	var fe *engine.FetchError
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNotYourTurn):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSeat), errors.Is(err, session.ErrNoUser):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnknownPower):
		return http.StatusNotFound
	case errors.Is(err, power.ErrLocalValidation), errors.Is(err, session.ErrCannotAfford), errors.Is(err, session.ErrNoSnapshot):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ServerMessage{Type: "Error", Error: msg})
}
