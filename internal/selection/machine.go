// Package selection implements the two-click board interaction: pick one of your
// pieces, then click where it should go.
package selection

import (
	"errors"

	"github.com/DoyleJ11/damas-client/pkg/types"
)

// ErrStaleSelection marks a selection dropped because the board moved under it.
// It is never shown to the user.
var ErrStaleSelection = errors.New("selection no longer matches the board")

type State int

const (
	Empty State = iota
	PieceSelected
	// CellTargeted holds an arbitrary cell aimed at by a power.
	CellTargeted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case PieceSelected:
		return "piece_selected"
	case CellTargeted:
		return "cell_targeted"
	default:
		return "unknown"
	}
}

// Cell is what sits on one board square in a given snapshot.
type Cell struct {
	Row   int
	Col   int
	Piece *types.Piece
	Trap  *types.Trap
}

// CellAt resolves (row, col) against snap.
func CellAt(snap *types.Snapshot, row, col int) Cell {
	return Cell{Row: row, Col: col, Piece: snap.PieceAt(row, col), Trap: snap.TrapAt(row, col)}
}

// Selection is the chosen square together with what was on it when chosen.
type Selection struct {
	Row     int
	Col     int
	PieceID int64
	Piece   *types.Piece
	Trap    *types.Trap
}

func (s Selection) Coord() types.Coord { return types.Coord{R: s.Row, C: s.Col} }

func (s Selection) HasPiece() bool { return s.Piece != nil }

type Outcome int

const (
	Ignored Outcome = iota
	Selected
	Deselected
	MoveAttempted
	OutOfTurn
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Selected:
		return "selected"
	case Deselected:
		return "deselected"
	case MoveAttempted:
		return "move_attempted"
	case OutOfTurn:
		return "out_of_turn"
	default:
		return "unknown"
	}
}

// Move is a well-formed move request. Legality is the server's call.
type Move struct {
	PieceID int64
	From    types.Coord
	To      types.Coord
}

func (m Move) Request(seat types.Seat) types.MoveRequest {
	return types.MoveRequest{Seat: seat, PieceID: m.PieceID, From: m.From, To: m.To}
}

type Result struct {
	Outcome Outcome
	Move    *Move
}

// Machine is the selection state for one seat viewing one match. It is not safe
// for concurrent use; the owner serialises access.
type Machine struct {
	seat  types.Seat
	state State
	sel   Selection
}

func New(seat types.Seat) *Machine {
	return &Machine{seat: seat}
}

func (m *Machine) Seat() types.Seat { return m.seat }

func (m *Machine) State() State { return m.state }

// Current returns the selection, if any.
func (m *Machine) Current() (Selection, bool) {
	if m.state == Empty {
		return Selection{}, false
	}
	return m.sel, true
}

// Click feeds one board click. A move attempt does not change the state: the
// selection stays until the submission completes or fails.
func (m *Machine) Click(snap *types.Snapshot, cell Cell) Result {
	if snap == nil || m.seat == types.Spectator {
		return Result{Outcome: Ignored}
	}
	if snap.OutOfTurn(m.seat) {
		return Result{Outcome: OutOfTurn}
	}

	switch m.state {
	case PieceSelected:
		if cell.Row == m.sel.Row && cell.Col == m.sel.Col {
			m.Clear()
			return Result{Outcome: Deselected}
		}
		return Result{
			Outcome: MoveAttempted,
			Move: &Move{
				PieceID: m.sel.PieceID,
				From:    m.sel.Coord(),
				To:      types.Coord{R: cell.Row, C: cell.Col},
			},
		}

	case CellTargeted:
		if cell.Row == m.sel.Row && cell.Col == m.sel.Col {
			m.Clear()
			return Result{Outcome: Deselected}
		}
		m.Clear()
		return m.selectOwn(cell)

	default:
		return m.selectOwn(cell)
	}
}

func (m *Machine) selectOwn(cell Cell) Result {
	if cell.Piece == nil || !cell.Piece.Alive || cell.Piece.Seat != m.seat {
		return Result{Outcome: Ignored}
	}
	m.state = PieceSelected
	m.sel = fromCell(cell)
	return Result{Outcome: Selected}
}

// Target aims at any cell, occupied or not, for powers that act on opponent
// pieces or empty squares. The same turn gating as Click applies.
func (m *Machine) Target(snap *types.Snapshot, cell Cell) Result {
	if snap == nil || m.seat == types.Spectator {
		return Result{Outcome: Ignored}
	}
	if snap.OutOfTurn(m.seat) {
		return Result{Outcome: OutOfTurn}
	}
	if m.state != Empty && cell.Row == m.sel.Row && cell.Col == m.sel.Col {
		m.Clear()
		return Result{Outcome: Deselected}
	}
	m.state = CellTargeted
	m.sel = fromCell(cell)
	return Result{Outcome: Selected}
}

func fromCell(cell Cell) Selection {
	sel := Selection{Row: cell.Row, Col: cell.Col, Trap: cell.Trap}
	if cell.Piece != nil {
		p := *cell.Piece
		sel.Piece = &p
		sel.PieceID = p.ID
	}
	return sel
}

func (m *Machine) Clear() {
	m.state = Empty
	m.sel = Selection{}
}

// Invalidate reconciles the selection with a fresh snapshot. It returns
// ErrStaleSelection when the selection had to be dropped. A surviving selection
// picks up the snapshot's current view of its square.
func (m *Machine) Invalidate(snap *types.Snapshot) error {
	if m.state == Empty || snap == nil {
		return nil
	}
	cell := CellAt(snap, m.sel.Row, m.sel.Col)

	switch m.state {
	case PieceSelected:
		if cell.Piece == nil || cell.Piece.Seat != m.seat {
			m.Clear()
			return ErrStaleSelection
		}
	case CellTargeted:
		hadPiece := m.sel.Piece != nil
		hadTrap := m.sel.Trap != nil
		if hadPiece != (cell.Piece != nil) || (hadPiece && cell.Piece.ID != m.sel.PieceID) || (!hadPiece && hadTrap != (cell.Trap != nil)) {
			m.Clear()
			return ErrStaleSelection
		}
	}

	m.sel = fromCell(cell)
	return nil
}
