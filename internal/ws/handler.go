package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/damas-client/internal/chat"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/internal/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = time.Minute
)

// Handler streams the session's view and the match chat to one renderer and
// applies the commands it sends back. Each connection is its own chat sender.
func Handler(sess *session.Session, h *chat.Hub, author string, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := h.Room(r.Context(), sess.MatchID())
		if err != nil {
			http.Error(w, "chat unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := chat.NewSenderID()
		log := logger.With(zap.String("client", clientID))
		log.Debug("renderer connected")

		chatOut := make(chan chat.Message, 16)
		room.Inbox() <- chat.Join{ClientID: clientID, Outbox: chatOut}
		defer func() { room.Inbox() <- chat.Leave{ClientID: clientID} }()

		// Views replace each other, so only the newest pending one is kept.
		views := make(chan session.View, 1)
		push := func(v session.View) {
			for {
				select {
				case views <- v:
					return
				default:
				}
				select {
				case <-views:
				default:
				}
			}
		}
		unsub := sess.OnChange(push)
		defer unsub()
		push(sess.View())

		send := func(ctx context.Context, msg types.ServerMessage) {
			payload, _ := json.Marshal(msg)
			ctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				log.Debug("write failed", zap.Error(err))
			}
		}

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case v := <-views:
					send(writeCtx, types.ServerMessage{Type: "MatchView", View: types.NewMatchView(v)})
				case m, ok := <-chatOut:
					if !ok {
						chatOut = nil
						continue
					}
					send(writeCtx, types.ServerMessage{Type: "Chat", Chat: &m})
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("renderer read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(r.Context(), types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			if cm.Type == "Chat" {
				msg := chat.Message{ID: cm.ID, SenderID: clientID, Author: author, Text: cm.Text, CreatedAt: time.Now()}
				if msg.ID == "" {
					msg.ID = uuid.NewString()
				}
				room.Inbox() <- chat.Post{Message: msg}
				send(r.Context(), types.ServerMessage{Type: "Chat", Chat: &msg})
				continue
			}

			outcome, err := Dispatch(r.Context(), sess, cm)
			if err != nil {
				send(r.Context(), types.ServerMessage{Type: "Error", Outcome: outcome, Error: err.Error()})
			}
		}
	}
}

var ErrUnknownCommand = errors.New("unknown type")

// Dispatch applies one renderer command to sess. The outcome names what a board
// click did.
func Dispatch(ctx context.Context, sess *session.Session, cm types.ClientMessage) (string, error) {
	switch cm.Type {
	case "ClickCell":
		res, err := sess.ClickCell(ctx, cm.Row, cm.Col)
		return res.Outcome.String(), err
	case "TargetCell":
		res, err := sess.TargetCell(cm.Row, cm.Col)
		return res.Outcome.String(), err
	case "ClearSelection":
		sess.ClearSelection()
		return "", nil
	case "Purchase":
		return "", sess.Purchase(ctx, cm.PowerSlug)
	case "Activate":
		return "", sess.Activate(ctx, cm.PowerSlug)
	case "Surrender":
		return "", sess.Surrender(ctx)
	case "Refresh":
		_, err := sess.Refresh(ctx)
		return "", err
	default:
		return "", ErrUnknownCommand
	}
}
