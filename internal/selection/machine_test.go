package selection

import (
	"testing"

	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func board(turn types.Seat, pieces ...types.Piece) *types.Snapshot {
	return &types.Snapshot{
		Match:  types.MatchInfo{Status: types.StatusOngoing, CurrentTurn: turn},
		Pieces: pieces,
	}
}

func piece(id int64, seat types.Seat, row, col int) types.Piece {
	return types.Piece{ID: id, Seat: seat, Row: row, Col: col, Alive: true}
}

func TestMachine_Transitions(t *testing.T) {
	snap := board(types.SeatA,
		piece(1, types.SeatA, 3, 4),
		piece(2, types.SeatB, 6, 1),
	)

	cases := []struct {
		name      string
		clicks    [][2]int
		want      Outcome
		wantState State
	}{
		{name: "empty cell ignored", clicks: [][2]int{{0, 0}}, want: Ignored, wantState: Empty},
		{name: "opponent piece ignored", clicks: [][2]int{{6, 1}}, want: Ignored, wantState: Empty},
		{name: "own piece selected", clicks: [][2]int{{3, 4}}, want: Selected, wantState: PieceSelected},
		{name: "same cell deselects", clicks: [][2]int{{3, 4}, {3, 4}}, want: Deselected, wantState: Empty},
		{name: "other cell is a move attempt", clicks: [][2]int{{3, 4}, {4, 5}}, want: MoveAttempted, wantState: PieceSelected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(types.SeatA)
			var res Result
			for _, c := range tc.clicks {
				res = m.Click(snap, CellAt(snap, c[0], c[1]))
			}
			assert.Equal(t, tc.want, res.Outcome)
			assert.Equal(t, tc.wantState, m.State())
		})
	}
}

func TestMachine_MoveAttemptCarriesSelection(t *testing.T) {
	snap := board(types.SeatA, piece(1, types.SeatA, 3, 4))
	m := New(types.SeatA)

	m.Click(snap, CellAt(snap, 3, 4))
	res := m.Click(snap, CellAt(snap, 4, 5))

	require.NotNil(t, res.Move)
	assert.Equal(t, Move{PieceID: 1, From: types.Coord{R: 3, C: 4}, To: types.Coord{R: 4, C: 5}}, *res.Move)
	assert.Equal(t, types.MoveRequest{Seat: types.SeatA, PieceID: 1, From: types.Coord{R: 3, C: 4}, To: types.Coord{R: 4, C: 5}}, res.Move.Request(types.SeatA))
}

func TestMachine_TurnGating(t *testing.T) {
	snap := board(types.SeatB, piece(1, types.SeatA, 3, 4))
	m := New(types.SeatA)

	res := m.Click(snap, CellAt(snap, 3, 4))
	assert.Equal(t, OutOfTurn, res.Outcome)
	assert.Equal(t, Empty, m.State())

	noTurn := board("", piece(1, types.SeatA, 3, 4))
	assert.Equal(t, Selected, m.Click(noTurn, CellAt(noTurn, 3, 4)).Outcome, "unset current turn does not gate")
}

func TestMachine_IgnoresWithoutSnapshotOrSeat(t *testing.T) {
	snap := board(types.SeatA, piece(1, types.SeatA, 3, 4))

	assert.Equal(t, Ignored, New(types.SeatA).Click(nil, Cell{Row: 3, Col: 4}).Outcome)
	assert.Equal(t, Ignored, New(types.Spectator).Click(snap, CellAt(snap, 3, 4)).Outcome)
}

func TestMachine_InvalidateWhenPieceGone(t *testing.T) {
	snap := board(types.SeatA, piece(1, types.SeatA, 3, 4))
	m := New(types.SeatA)
	m.Click(snap, CellAt(snap, 3, 4))

	dead := piece(1, types.SeatA, 3, 4)
	dead.Alive = false
	cases := []struct {
		name string
		next *types.Snapshot
	}{
		{name: "piece moved away", next: board(types.SeatA, piece(1, types.SeatA, 4, 5))},
		{name: "piece captured", next: board(types.SeatA, dead)},
		{name: "square taken by opponent", next: board(types.SeatA, piece(9, types.SeatB, 3, 4))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(types.SeatA)
			m.Click(snap, CellAt(snap, 3, 4))

			err := m.Invalidate(tc.next)
			assert.ErrorIs(t, err, ErrStaleSelection)
			_, ok := m.Current()
			assert.False(t, ok)
		})
	}

	require.NoError(t, m.Invalidate(snap))
	sel, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, int64(1), sel.PieceID)
}

func TestMachine_InvalidateIsIdempotent(t *testing.T) {
	snap := board(types.SeatA, piece(1, types.SeatA, 3, 4))
	m := New(types.SeatA)
	m.Click(snap, CellAt(snap, 3, 4))

	require.NoError(t, m.Invalidate(snap))
	first, _ := m.Current()
	require.NoError(t, m.Invalidate(snap))
	second, _ := m.Current()

	assert.Equal(t, first, second)
	assert.Equal(t, PieceSelected, m.State())
}

func TestMachine_Target(t *testing.T) {
	snap := board(types.SeatA, piece(1, types.SeatA, 3, 4), piece(2, types.SeatB, 6, 1))
	m := New(types.SeatA)

	res := m.Target(snap, CellAt(snap, 5, 5))
	assert.Equal(t, Selected, res.Outcome)
	assert.Equal(t, CellTargeted, m.State())
	sel, _ := m.Current()
	assert.False(t, sel.HasPiece())

	require.NoError(t, m.Invalidate(snap))
	occupied := board(types.SeatA, piece(1, types.SeatA, 3, 4), piece(2, types.SeatB, 5, 5))
	assert.ErrorIs(t, m.Invalidate(occupied), ErrStaleSelection)

	m.Target(snap, CellAt(snap, 6, 1))
	sel, _ = m.Current()
	assert.Equal(t, int64(2), sel.PieceID)
	assert.Equal(t, Deselected, m.Target(snap, CellAt(snap, 6, 1)).Outcome)

	m.Target(snap, CellAt(snap, 6, 1))
	assert.Equal(t, Selected, m.Click(snap, CellAt(snap, 3, 4)).Outcome, "clicking an own piece leaves targeting")
	assert.Equal(t, PieceSelected, m.State())
}
