package chat

import "context"

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the match's room, creating it on first use.
type EnsureRoom struct {
	MatchID int64
	Reply   chan *Room
}

// GetRoom replies with nil when the match has no room.
type GetRoom struct {
	MatchID int64
	Reply   chan *Room
}

// CloseRoom shuts the room down and forgets it.
type CloseRoom struct {
	MatchID int64
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (CloseRoom) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[int64]*Room
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[int64]*Room),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Room is a blocking helper around EnsureRoom.
func (h *Hub) Room(ctx context.Context, matchID int64) (*Room, error) {
	reply := make(chan *Room, 1)
	select {
	case h.inbox <- EnsureRoom{MatchID: matchID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rm := <-reply:
		return rm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			clear(h.rooms)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				if rm := h.rooms[msg.MatchID]; rm != nil {
					msg.Reply <- rm
					break
				}
				rm := NewRoom(h.ctx, msg.MatchID)
				h.rooms[msg.MatchID] = rm
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- h.rooms[msg.MatchID]

			case CloseRoom:
				if rm := h.rooms[msg.MatchID]; rm != nil {
					rm.Inbox() <- Shutdown{}
					delete(h.rooms, msg.MatchID)
				}

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
			}
		}
	}
}
