package types

// Seat is one of the two player slots of a match. The empty seat is a spectator.
type Seat string

const (
	SeatA     Seat = "A"
	SeatB     Seat = "B"
	Spectator Seat = ""
)

// ParseSeat normalises user input to a seat; anything but A or B is a spectator.
func ParseSeat(s string) Seat {
	switch Seat(s) {
	case SeatA, "a":
		return SeatA
	case SeatB, "b":
		return SeatB
	default:
		return Spectator
	}
}

// Opponent returns the other playing seat.
func (s Seat) Opponent() Seat {
	switch s {
	case SeatA:
		return SeatB
	case SeatB:
		return SeatA
	default:
		return Spectator
	}
}

type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"
	StatusOngoing  MatchStatus = "ongoing"
	StatusFinished MatchStatus = "finished"
)

// ParseStatus maps unknown or unset values to StatusWaiting.
func ParseStatus(s string) MatchStatus {
	switch MatchStatus(s) {
	case StatusOngoing:
		return StatusOngoing
	case StatusFinished:
		return StatusFinished
	default:
		return StatusWaiting
	}
}

type Coord struct {
	R int `json:"r"`
	C int `json:"c"`
}

type Piece struct {
	ID            int64           `json:"id"`
	Row           int             `json:"row"`
	Col           int             `json:"col"`
	Seat          Seat            `json:"seat"`
	Alive         bool            `json:"alive"`
	Crowned       bool            `json:"crowned"`
	StatusEffects map[string]bool `json:"statusEffects,omitempty"`
}

func (p Piece) Shielded() bool { return p.StatusEffects["shield"] }

type Trap struct {
	Row      int  `json:"row"`
	Col      int  `json:"col"`
	Revealed bool `json:"revealed"`
}

type DoubleMove struct {
	Active    bool `json:"active"`
	Remaining int  `json:"remaining"`
}

// TurnState is the server's view of what the seat still owes in the current turn.
type TurnState struct {
	MustContinueCapture bool       `json:"mustContinueCapture"`
	DoubleMove          DoubleMove `json:"doubleMove"`
}

type PlayerView struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Seat      Seat      `json:"seat"`
	Username  string    `json:"username,omitempty"`
	Coins     int       `json:"coins"`
	IsReady   bool      `json:"isReady,omitempty"`
	TurnState TurnState `json:"turnState"`
}

type InventoryItem struct {
	ID        int64  `json:"id"`
	Seat      Seat   `json:"seat"`
	PowerSlug string `json:"powerSlug"`
	Qty       int    `json:"qty"`
}

type MoveRecord struct {
	ID        int64 `json:"id"`
	TurnIndex int   `json:"turnIndex"`
	BySeat    Seat  `json:"bySeat"`
	PieceID   int64 `json:"pieceId"`
	From      Coord `json:"from"`
	To        Coord `json:"to"`
}

type MatchInfo struct {
	Status      MatchStatus `json:"status"`
	CurrentTurn Seat        `json:"currentTurn,omitempty"`
	TurnCounter int         `json:"turnCounter"`
}

// Snapshot is one polled server view of a match. It is replaced whole, never merged.
type Snapshot struct {
	Match     MatchInfo       `json:"match"`
	Pieces    []Piece         `json:"pieces"`
	Traps     []Trap          `json:"traps"`
	Players   []PlayerView    `json:"players"`
	Inventory []InventoryItem `json:"inventory"`
	Moves     []MoveRecord    `json:"moves"`
}

// PieceAt returns the live piece on (row, col), if any.
func (s *Snapshot) PieceAt(row, col int) *Piece {
	if s == nil {
		return nil
	}
	for i := range s.Pieces {
		p := &s.Pieces[i]
		if p.Alive && p.Row == row && p.Col == col {
			return p
		}
	}
	return nil
}

func (s *Snapshot) TrapAt(row, col int) *Trap {
	if s == nil {
		return nil
	}
	for i := range s.Traps {
		if s.Traps[i].Row == row && s.Traps[i].Col == col {
			return &s.Traps[i]
		}
	}
	return nil
}

func (s *Snapshot) Player(seat Seat) *PlayerView {
	if s == nil || seat == Spectator {
		return nil
	}
	for i := range s.Players {
		if s.Players[i].Seat == seat {
			return &s.Players[i]
		}
	}
	return nil
}

// OutOfTurn reports whether the snapshot names a current turn that is not seat's.
func (s *Snapshot) OutOfTurn(seat Seat) bool {
	return s != nil && s.Match.CurrentTurn != "" && s.Match.CurrentTurn != seat
}

// IsTurnOf reports whether the snapshot explicitly names seat as the current turn.
func (s *Snapshot) IsTurnOf(seat Seat) bool {
	return s != nil && seat != Spectator && s.Match.CurrentTurn == seat
}
