package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/damas-client/internal/engine"
	"github.com/DoyleJ11/damas-client/internal/enginetest"
	"github.com/DoyleJ11/damas-client/internal/power"
	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/DoyleJ11/damas-client/internal/selection"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wait = time.Second
	tick = 2 * time.Millisecond
)

func board() types.Snapshot {
	return types.Snapshot{
		Match: types.MatchInfo{Status: types.StatusOngoing, CurrentTurn: types.SeatA, TurnCounter: 4},
		Pieces: []types.Piece{
			{ID: 1, Row: 3, Col: 4, Seat: types.SeatA, Alive: true},
			{ID: 2, Row: 6, Col: 1, Seat: types.SeatB, Alive: true},
			{ID: 3, Row: 5, Col: 6, Seat: types.SeatB, Alive: false},
		},
		Players: []types.PlayerView{
			{ID: 10, UserID: 100, Seat: types.SeatA, Coins: 30},
			{ID: 11, UserID: 200, Seat: types.SeatB, Coins: 50},
		},
		Inventory: []types.InventoryItem{
			{ID: 1, Seat: types.SeatA, PowerSlug: "escudo", Qty: 1},
			{ID: 2, Seat: types.SeatA, PowerSlug: "trampa", Qty: 0},
			{ID: 3, Seat: types.SeatB, PowerSlug: "aturdimiento", Qty: 2},
		},
		Moves: []types.MoveRecord{
			{ID: 1, TurnIndex: 1, BySeat: types.SeatA, PieceID: 1},
			{ID: 2, TurnIndex: 2, BySeat: types.SeatB, PieceID: 2},
			{ID: 3, TurnIndex: 3, BySeat: types.SeatA, PieceID: 1},
		},
	}
}

// movePiece applies req to snap the way a permissive server would.
func movePiece(req types.MoveRequest, snap *types.Snapshot) error {
	for i := range snap.Pieces {
		if snap.Pieces[i].ID == req.PieceID {
			snap.Pieces[i].Row, snap.Pieces[i].Col = req.To.R, req.To.C
			return nil
		}
	}
	return enginetest.Reject("Piece not found")
}

func flipTurn(seat types.Seat, snap *types.Snapshot) error {
	snap.Match.CurrentTurn = seat.Opponent()
	snap.Match.TurnCounter++
	return nil
}

type harness struct {
	srv   *enginetest.Server
	sess  *session.Session
	store *presence.Store
	clock *clock.Mock
}

func start(t *testing.T, srv *enginetest.Server, cfg session.Config) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := presence.Open(ctx, presence.NewMemoryBackend().Slot(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Set(ctx, presence.Record{MatchID: cfg.MatchID, Seat: cfg.Seat, Status: types.StatusOngoing}))

	mock := clock.NewMock()
	sess, err := session.New(engine.NewClient(srv.URL()), store, cfg, session.WithClock(mock))
	require.NoError(t, err)
	require.NoError(t, sess.Start())
	t.Cleanup(sess.Stop)

	require.Eventually(t, func() bool { return sess.PollStatus().HasSnapshot }, wait, tick)
	return &harness{srv: srv, sess: sess, store: store, clock: mock}
}

var seatA = session.Config{MatchID: 7, Seat: types.SeatA, UserID: 100}

func TestSession_PlainMoveEndsTurnAndClearsSelection(t *testing.T) {
	srv := enginetest.New(t, board())
	srv.OnMove = movePiece
	srv.OnEndTurn = flipTurn
	h := start(t, srv, seatA)
	ctx := context.Background()

	res, err := h.sess.ClickCell(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, selection.Selected, res.Outcome)

	res, err = h.sess.ClickCell(ctx, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, selection.MoveAttempted, res.Outcome)

	moves := srv.Calls("/move")
	require.Len(t, moves, 1)
	var sent types.MoveRequest
	require.NoError(t, json.Unmarshal(moves[0].Body, &sent))
	assert.Equal(t, types.MoveRequest{Seat: types.SeatA, PieceID: 1, From: types.Coord{R: 3, C: 4}, To: types.Coord{R: 4, C: 5}}, sent)

	assert.Len(t, srv.Calls("/end-turn"), 1)

	snap, ok := h.sess.Snapshot()
	require.True(t, ok)
	assert.Equal(t, types.SeatB, snap.Match.CurrentTurn)
	_, selected := h.sess.Selection()
	assert.False(t, selected)
	assert.NoError(t, h.sess.LastError())
}

func TestSession_CaptureChainKeepsTurnOpen(t *testing.T) {
	srv := enginetest.New(t, board())
	srv.OnMove = func(req types.MoveRequest, snap *types.Snapshot) error {
		snap.Players[0].TurnState.MustContinueCapture = true
		return movePiece(req, snap)
	}
	srv.OnEndTurn = flipTurn
	h := start(t, srv, seatA)
	ctx := context.Background()

	_, _ = h.sess.ClickCell(ctx, 3, 4)
	_, err := h.sess.ClickCell(ctx, 5, 6)
	require.NoError(t, err)

	assert.Empty(t, srv.Calls("/end-turn"))
	snap, _ := h.sess.Snapshot()
	assert.Equal(t, types.SeatA, snap.Match.CurrentTurn)

	// The same seat keeps playing from the piece's new square.
	res, err := h.sess.ClickCell(ctx, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, selection.Selected, res.Outcome)
}

func TestSession_EndTurnErrors(t *testing.T) {
	cases := []struct {
		name   string
		reject string
		banner string
	}{
		{name: "capture sentinel is swallowed", reject: engine.MustContinueMessage},
		{name: "anything else is shown", reject: "Match is over", banner: "Match is over"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := enginetest.New(t, board())
			srv.OnMove = movePiece
			srv.OnEndTurn = func(types.Seat, *types.Snapshot) error { return enginetest.Reject(tc.reject) }
			h := start(t, srv, seatA)
			ctx := context.Background()

			_, _ = h.sess.ClickCell(ctx, 3, 4)
			_, err := h.sess.ClickCell(ctx, 4, 5)
			require.NoError(t, err, "the move itself was accepted")

			if tc.banner == "" {
				assert.NoError(t, h.sess.LastError())
			} else {
				require.Error(t, h.sess.LastError())
				assert.Equal(t, tc.banner, h.sess.LastError().Error())
			}
			_, selected := h.sess.Selection()
			assert.False(t, selected)
		})
	}
}

func TestSession_RejectedMoveKeepsSelection(t *testing.T) {
	srv := enginetest.New(t, board())
	srv.OnMove = func(types.MoveRequest, *types.Snapshot) error { return enginetest.Reject("Illegal move") }
	h := start(t, srv, seatA)
	ctx := context.Background()

	_, _ = h.sess.ClickCell(ctx, 3, 4)
	polls := len(srv.Calls("/state"))

	_, err := h.sess.ClickCell(ctx, 3, 6)
	require.Error(t, err)
	assert.Equal(t, "Illegal move", err.Error())
	assert.Equal(t, "Illegal move", h.sess.LastError().Error())

	sel, ok := h.sess.Selection()
	require.True(t, ok)
	assert.Equal(t, types.Coord{R: 3, C: 4}, sel.Coord())
	assert.Empty(t, srv.Calls("/end-turn"))
	assert.Len(t, srv.Calls("/state"), polls, "no refresh after a rejected move")
}

func TestSession_OutOfTurnClick(t *testing.T) {
	snap := board()
	snap.Match.CurrentTurn = types.SeatB
	h := start(t, enginetest.New(t, snap), seatA)

	res, err := h.sess.ClickCell(context.Background(), 3, 4)
	assert.ErrorIs(t, err, session.ErrNotYourTurn)
	assert.Equal(t, selection.OutOfTurn, res.Outcome)
	_, selected := h.sess.Selection()
	assert.False(t, selected)
}

func TestSession_SelectionDroppedWhenBoardChanges(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, seatA)
	ctx := context.Background()

	_, _ = h.sess.ClickCell(ctx, 3, 4)
	_, ok := h.sess.Selection()
	require.True(t, ok)

	next := board()
	next.Pieces[0].Alive = false
	srv.SetSnapshot(next)
	_, err := h.sess.Refresh(ctx)
	require.NoError(t, err)

	_, ok = h.sess.Selection()
	assert.False(t, ok)
	assert.NoError(t, h.sess.LastError(), "stale selections are not user errors")
}

func TestSession_SameSnapshotTwiceIsStable(t *testing.T) {
	h := start(t, enginetest.New(t, board()), seatA)
	ctx := context.Background()

	_, _ = h.sess.ClickCell(ctx, 3, 4)
	_, err := h.sess.Refresh(ctx)
	require.NoError(t, err)
	first := h.sess.View()
	mine := h.sess.MyInventory()

	_, err = h.sess.Refresh(ctx)
	require.NoError(t, err)
	second := h.sess.View()

	assert.Equal(t, first.Selection, second.Selection)
	assert.Equal(t, first.SelectionState, second.SelectionState)
	assert.Equal(t, first.Snapshot, second.Snapshot)
	assert.Equal(t, mine, h.sess.MyInventory())
}

func TestSession_ActivateValidatesLocally(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, seatA)
	ctx := context.Background()

	err := h.sess.Activate(ctx, "escudo")
	assert.ErrorIs(t, err, power.ErrMissingSelection)

	_, err = h.sess.TargetCell(6, 1)
	require.NoError(t, err)
	err = h.sess.Activate(ctx, "escudo")
	assert.ErrorIs(t, err, power.ErrWrongOwner)
	assert.ErrorIs(t, h.sess.LastError(), power.ErrLocalValidation)

	err = h.sess.Activate(ctx, "trampa")
	assert.ErrorIs(t, err, power.ErrCellNotEmpty)

	assert.Empty(t, srv.Calls("/activate-power"), "local rejections never reach the server")
}

func TestSession_ActivateSendsTarget(t *testing.T) {
	srv := enginetest.New(t, board())
	srv.OnActivate = func(req types.ActivatePowerRequest, snap *types.Snapshot) error {
		if req.Target == nil {
			return enginetest.Reject("target required")
		}
		snap.Traps = append(snap.Traps, types.Trap{Row: req.Target.R, Col: req.Target.C})
		return nil
	}
	h := start(t, srv, seatA)
	ctx := context.Background()

	_, err := h.sess.TargetCell(4, 3)
	require.NoError(t, err)
	require.NoError(t, h.sess.Activate(ctx, "trampa"))

	calls := srv.Calls("/activate-power")
	require.Len(t, calls, 1)
	var sent types.ActivatePowerRequest
	require.NoError(t, json.Unmarshal(calls[0].Body, &sent))
	assert.Equal(t, types.SeatA, sent.Seat)
	assert.Nil(t, sent.PieceID)
	require.NotNil(t, sent.Target)
	assert.Equal(t, types.Coord{R: 4, C: 3}, *sent.Target)

	snap, _ := h.sess.Snapshot()
	assert.NotNil(t, snap.TrapAt(4, 3))
	_, ok := h.sess.Selection()
	assert.False(t, ok, "the targeted cell now holds a trap")
}

func TestSession_ShopAndPowersNeedOwnTurn(t *testing.T) {
	cases := []struct {
		name   string
		turn   types.Seat
		status types.MatchStatus
	}{
		{name: "opponent's turn", turn: types.SeatB, status: types.StatusOngoing},
		{name: "no turn assigned yet", turn: "", status: types.StatusWaiting},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := board()
			snap.Match.CurrentTurn = tc.turn
			snap.Match.Status = tc.status
			srv := enginetest.New(t, snap)
			h := start(t, srv, seatA)
			ctx := context.Background()

			assert.ErrorIs(t, h.sess.Activate(ctx, "doble_mov"), session.ErrNotYourTurn)
			assert.ErrorIs(t, h.sess.Purchase(ctx, "escudo"), session.ErrNotYourTurn)
			assert.Empty(t, srv.Calls("/activate-power"))
			assert.Empty(t, srv.Calls("/purchase"))
			assert.ErrorIs(t, h.sess.LastError(), session.ErrNotYourTurn)
		})
	}
}

func TestSession_Purchase(t *testing.T) {
	srv := enginetest.New(t, board())
	srv.OnPurchase = func(req types.PurchaseRequest, snap *types.Snapshot) error {
		snap.Players[0].Coins -= 20
		snap.Inventory[0].Qty += req.Qty
		return nil
	}
	h := start(t, srv, seatA)
	ctx := context.Background()

	err := h.sess.Purchase(ctx, "coronacion")
	assert.ErrorIs(t, err, session.ErrCannotAfford)
	assert.Empty(t, srv.Calls("/purchase"))

	err = h.sess.Purchase(ctx, "rayo")
	assert.ErrorIs(t, err, session.ErrUnknownPower)

	require.NoError(t, h.sess.Purchase(ctx, "escudo"))
	calls := srv.Calls("/purchase")
	require.Len(t, calls, 1)
	var sent types.PurchaseRequest
	require.NoError(t, json.Unmarshal(calls[0].Body, &sent))
	assert.Equal(t, types.PurchaseRequest{Seat: types.SeatA, PowerSlug: "escudo", Qty: 1}, sent)

	snap, _ := h.sess.Snapshot()
	assert.Equal(t, 10, snap.Player(types.SeatA).Coins)
	mine := h.sess.MyInventory()
	require.Len(t, mine, 1)
	assert.Equal(t, 2, mine[0].Qty)
}

func TestSession_SpectatorCannotAct(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, session.Config{MatchID: 7, Seat: types.Spectator, UserID: 300})
	ctx := context.Background()

	res, err := h.sess.ClickCell(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, selection.Ignored, res.Outcome)
	assert.ErrorIs(t, h.sess.Purchase(ctx, "escudo"), session.ErrNoSeat)
	assert.ErrorIs(t, h.sess.Activate(ctx, "doble_mov"), session.ErrNoSeat)
	assert.Empty(t, h.sess.MyInventory())
	assert.Len(t, h.sess.OpponentInventory(), 3)
}

func TestSession_Surrender(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, seatA)

	require.NoError(t, h.sess.Surrender(context.Background()))

	calls := srv.Calls("/surrender")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"userId":100}`, string(calls[0].Body))
	_, ok := h.store.Current()
	assert.False(t, ok)
	assert.False(t, h.sess.PollStatus().Running)
	_, viewing := h.store.Viewing()
	assert.False(t, viewing)
}

func TestSession_PollErrorBanner(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, seatA)
	ctx := context.Background()

	srv.FailState(errors.New("database unavailable"))
	_, err := h.sess.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, "database unavailable", h.sess.LastError().Error())
	snap, ok := h.sess.Snapshot()
	require.True(t, ok, "last good snapshot survives")
	assert.Equal(t, types.SeatA, snap.Match.CurrentTurn)

	srv.FailState(nil)
	_, err = h.sess.Refresh(ctx)
	require.NoError(t, err)
	assert.NoError(t, h.sess.LastError())
}

func TestSession_FinishedMatchClearsPresence(t *testing.T) {
	srv := enginetest.New(t, board())
	h := start(t, srv, seatA)

	done := board()
	done.Match.Status = types.StatusFinished
	srv.SetSnapshot(done)
	h.clock.Add(time.Second)

	assert.Eventually(t, func() bool {
		_, ok := h.store.Current()
		return !ok
	}, wait, tick)
}

func TestSession_RecentMoves(t *testing.T) {
	h := start(t, enginetest.New(t, board()), seatA)

	got := h.sess.RecentMoves(2)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].TurnIndex)
	assert.Equal(t, 2, got[1].TurnIndex)
	assert.Len(t, h.sess.RecentMoves(10), 3)
	assert.Empty(t, h.sess.RecentMoves(0))
}

func TestSession_OnChange(t *testing.T) {
	h := start(t, enginetest.New(t, board()), seatA)

	views := make(chan session.View, 8)
	unsub := h.sess.OnChange(func(v session.View) { views <- v })

	_, err := h.sess.ClickCell(context.Background(), 3, 4)
	require.NoError(t, err)

	select {
	case v := <-views:
		assert.Equal(t, selection.PieceSelected, v.SelectionState)
		require.NotNil(t, v.Selection)
		assert.Equal(t, int64(1), v.Selection.PieceID)
	case <-time.After(wait):
		t.Fatal("no view published")
	}

	unsub()
	h.sess.ClearSelection()
	select {
	case <-views:
		t.Fatal("view published after unsubscribe")
	default:
	}
}

func TestNew_RejectsInvalidMatch(t *testing.T) {
	_, err := session.New(nil, nil, session.Config{MatchID: 0, Seat: types.SeatA})
	assert.Error(t, err)
}
