package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/damas-client/internal/chat"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/internal/ws"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Bridge is what the local renderer API serves.
type Bridge struct {
	Session  *session.Session
	Presence PresenceReader
	Chat     *chat.Hub
	Author   string
	Logger   *zap.Logger
}

func SetupRoutes(b Bridge) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/presence", GetPresence(b.Presence))
	r.Get("/state", GetState(b.Session))
	r.Post("/cells/{row}/{col}/click", ClickCell(b.Session))
	r.Route("/powers/{slug}", func(r chi.Router) {
		r.Post("/purchase", Purchase(b.Session))
		r.Post("/activate", Activate(b.Session))
	})
	r.Post("/surrender", Surrender(b.Session))
	r.Get("/ws", ws.Handler(b.Session, b.Chat, b.Author, b.Logger))
	return r
}
