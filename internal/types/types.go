package types

import (
	"time"

	"github.com/DoyleJ11/damas-client/internal/chat"
	"github.com/DoyleJ11/damas-client/internal/power"
	"github.com/DoyleJ11/damas-client/internal/session"
	damas "github.com/DoyleJ11/damas-client/pkg/types"
)

// ClientMessage is a command sent by a renderer over the bridge websocket.
type ClientMessage struct {
	Type      string `json:"type"` // "ClickCell" | "TargetCell" | "ClearSelection" | "Purchase" | "Activate" | "Surrender" | "Refresh" | "Chat"
	Row       int    `json:"row,omitempty"`
	Col       int    `json:"col,omitempty"`
	PowerSlug string `json:"power_slug,omitempty"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
}

type ServerMessage struct {
	Type    string        `json:"type"` // "MatchView" | "Chat" | "Error"
	View    *MatchView    `json:"view,omitempty"`
	Chat    *chat.Message `json:"chat,omitempty"`
	Outcome string        `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type SelectionView struct {
	Row     int          `json:"row"`
	Col     int          `json:"col"`
	PieceID int64        `json:"piece_id,omitempty"`
	Piece   *damas.Piece `json:"piece,omitempty"`
	Trap    *damas.Trap  `json:"trap,omitempty"`
}

// MatchView is everything a renderer draws for one seat.
type MatchView struct {
	MatchID           int64                 `json:"match_id"`
	Seat              damas.Seat            `json:"seat"`
	Snapshot          *damas.Snapshot       `json:"snapshot,omitempty"`
	SelectionState    string                `json:"selection_state"`
	Selection         *SelectionView        `json:"selection,omitempty"`
	Busy              bool                  `json:"busy"`
	Error             string                `json:"error,omitempty"`
	MyInventory       []damas.InventoryItem `json:"my_inventory"`
	OpponentInventory []damas.InventoryItem `json:"opponent_inventory"`
	RecentMoves       []damas.MoveRecord    `json:"recent_moves"`
	LastPoll          *time.Time            `json:"last_poll,omitempty"`
	PollFailures      int                   `json:"poll_failures"`
}

// RecentMovesShown is how many moves a MatchView carries.
const RecentMovesShown = 10

func NewMatchView(v session.View) *MatchView {
	mv := &MatchView{
		MatchID:        v.MatchID,
		Seat:           v.Seat,
		Snapshot:       v.Snapshot,
		SelectionState: v.SelectionState.String(),
		Busy:           v.Busy,
		Error:          v.Error,
		RecentMoves:    session.RecentMoves(v.Snapshot, RecentMovesShown),
		PollFailures:   v.Poll.ConsecutiveFailures,
	}
	if t := v.Poll.LastSuccess; !t.IsZero() {
		mv.LastPoll = &t
	}
	if v.Snapshot != nil {
		mv.MyInventory = power.Mine(v.Snapshot.Inventory, v.Seat)
		mv.OpponentInventory = power.Opponent(v.Snapshot.Inventory, v.Seat)
	}
	if sel := v.Selection; sel != nil {
		mv.Selection = &SelectionView{Row: sel.Row, Col: sel.Col, PieceID: sel.PieceID, Piece: sel.Piece, Trap: sel.Trap}
	}
	return mv
}
