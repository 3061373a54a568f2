// Package chat relays match-room chat between every client viewing the same
// match. Rooms and the hub are single-goroutine actors driven through an inbox.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryLimit is how many messages a room keeps for late joiners and dedupe.
const HistoryLimit = 50

// ChannelName is the broadcast channel name of a match's room.
func ChannelName(matchID int64) string { return fmt.Sprintf("match-room-chat-%d", matchID) }

// NewSenderID identifies one client for echo suppression.
func NewSenderID() string { return uuid.NewString() }

type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Msg interface{ isRoomMsg() }

// Join registers a client. ClientID doubles as its sender id, so the client
// never receives its own posts back.
type Join struct {
	ClientID string
	Outbox   chan Message
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

// Post relays Message to everyone but its sender. A missing id is generated;
// an id already seen is dropped.
type Post struct {
	Message Message
}

func (Post) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type View struct {
	MatchID    int64
	NumClients int
	History    []Message
}

type Room struct {
	matchID int64
	inbox   chan Msg
	clients map[string]chan Message
	history []Message
	seen    map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRoom(parent context.Context, matchID int64) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		matchID: matchID,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan Message),
		seen:    make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go r.loop()
	return r
}

func (r *Room) MatchID() int64 { return r.matchID }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.clients[msg.ClientID] = msg.Outbox
				r.replay(msg.ClientID, msg.Outbox)

			case Leave:
				delete(r.clients, msg.ClientID)

			case Post:
				r.post(msg.Message)

			case GetState:
				history := make([]Message, len(r.history))
				copy(history, r.history)
				msg.Reply <- View{MatchID: r.matchID, NumClients: len(r.clients), History: history}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// replay sends the kept history to a new client, stopping early if its outbox
// fills up.
func (r *Room) replay(id string, out chan Message) {
	for _, m := range r.history {
		if m.SenderID == id {
			continue
		}
		select {
		case out <- m:
		default:
			return
		}
	}
}

func (r *Room) post(m Message) {
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, dup := r.seen[m.ID]; dup {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	r.seen[m.ID] = struct{}{}
	r.history = append(r.history, m)
	if over := len(r.history) - HistoryLimit; over > 0 {
		for _, old := range r.history[:over] {
			delete(r.seen, old.ID)
		}
		r.history = append([]Message(nil), r.history[over:]...)
	}
	r.broadcast(m)
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) broadcast(m Message) {
	for id, ch := range r.clients {
		if id == m.SenderID {
			continue
		}
		select {
		case ch <- m:
		default:
			// Slow client, drop it.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }
