package types

// Request bodies sent to the remote engine.

type MoveRequest struct {
	Seat    Seat  `json:"seat"`
	PieceID int64 `json:"pieceId"`
	From    Coord `json:"from"`
	To      Coord `json:"to"`
}

type EndTurnRequest struct {
	Seat Seat `json:"seat"`
}

type PurchaseRequest struct {
	Seat      Seat   `json:"seat"`
	PowerSlug string `json:"powerSlug"`
	Qty       int    `json:"qty"`
}

// ActivatePowerRequest carries either a piece or a target cell, depending on the power.
type ActivatePowerRequest struct {
	Seat      Seat   `json:"seat"`
	PowerSlug string `json:"powerSlug"`
	PieceID   *int64 `json:"pieceId,omitempty"`
	Target    *Coord `json:"target,omitempty"`
}

type SurrenderRequest struct {
	UserID int64 `json:"userId"`
}

// LobbyPlayer is a seat holder as reported by GET /matches/{id}.
type LobbyPlayer struct {
	UserID  int64 `json:"userId"`
	Seat    Seat  `json:"seat"`
	IsReady bool  `json:"isReady"`
	Coins   int   `json:"coins"`
}

// LobbyMatch is the pre-game room view of a match.
type LobbyMatch struct {
	ID      int64         `json:"id"`
	Status  MatchStatus   `json:"status"`
	Players []LobbyPlayer `json:"players"`
}

// SeatOf returns the seat held by userID, or Spectator.
func (m LobbyMatch) SeatOf(userID int64) Seat {
	for _, p := range m.Players {
		if p.UserID == userID {
			return p.Seat
		}
	}
	return Spectator
}
