// Package session runs one seat's view of one match: it polls state, turns board
// clicks into moves, closes turns and submits shop and power actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/damas-client/internal/power"
	"github.com/DoyleJ11/damas-client/internal/reconciler"
	"github.com/DoyleJ11/damas-client/internal/selection"
	"github.com/DoyleJ11/damas-client/internal/turn"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	ErrNoSeat       = errors.New("spectators cannot act in this match")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrBusy         = errors.New("another action is still being submitted")
	ErrCannotAfford = errors.New("not enough coins")
	ErrUnknownPower = errors.New("unknown power")
	ErrNoUser       = errors.New("no signed-in user")
	ErrNoSnapshot   = errors.New("match state not loaded yet")
)

// Engine is every remote call a session makes.
type Engine interface {
	reconciler.Fetcher
	turn.Engine
	Purchase(ctx context.Context, matchID int64, req types.PurchaseRequest) error
	ActivatePower(ctx context.Context, matchID int64, req types.ActivatePowerRequest) error
	Surrender(ctx context.Context, matchID int64, userID int64) error
}

// Presence is the part of the presence store a session drives.
type Presence interface {
	reconciler.Presence
	SetViewing(matchID int64)
	ClearViewing()
}

type Config struct {
	MatchID int64
	Seat    types.Seat
	UserID  int64
}

// View is a consistent copy of everything a renderer needs.
type View struct {
	MatchID        int64
	Seat           types.Seat
	Snapshot       *types.Snapshot
	SelectionState selection.State
	Selection      *selection.Selection
	Busy           bool
	Error          string
	Poll           reconciler.Status
}

type Session struct {
	cfg      Config
	api      Engine
	presence Presence
	recon    *reconciler.Reconciler
	policy   *turn.Policy
	logger   *zap.Logger

	mu        sync.Mutex
	machine   *selection.Machine
	busy      bool
	banner    error
	pollError bool
	unsubs    []func()
	listeners map[int]func(View)
	nextID    int
}

type Option func(*options)

type options struct {
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithPollInterval(d time.Duration) Option { return func(o *options) { o.interval = d } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// New builds a session. pres may be nil when nothing should be remembered.
func New(api Engine, pres Presence, cfg Config, opts ...Option) (*Session, error) {
	if cfg.MatchID <= 0 {
		return nil, reconciler.ErrInvalidMatch
	}
	o := options{clock: clock.New(), interval: reconciler.DefaultInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.Int64("match", cfg.MatchID), zap.String("seat", string(cfg.Seat)))

	ropts := []reconciler.Option{
		reconciler.WithClock(o.clock),
		reconciler.WithInterval(o.interval),
		reconciler.WithLogger(logger),
	}
	if pres != nil {
		ropts = append(ropts, reconciler.WithPresence(pres))
	}
	recon := reconciler.New(api, ropts...)

	return &Session{
		cfg:       cfg,
		api:       api,
		presence:  pres,
		recon:     recon,
		policy:    turn.NewPolicy(api, recon, logger),
		logger:    logger,
		machine:   selection.New(cfg.Seat),
		listeners: make(map[int]func(View)),
	}, nil
}

func (s *Session) MatchID() int64 { return s.cfg.MatchID }

func (s *Session) Seat() types.Seat { return s.cfg.Seat }

// Start begins polling and marks the match as the one being viewed.
func (s *Session) Start() error {
	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.recon.OnSnapshot(s.applySnapshot),
		s.recon.OnError(s.applyPollError),
	)
	s.mu.Unlock()

	if s.presence != nil {
		s.presence.SetViewing(s.cfg.MatchID)
	}
	return s.recon.Start(s.cfg.MatchID, s.cfg.Seat)
}

// Stop ends polling. It must not be called from an OnChange callback.
func (s *Session) Stop() {
	s.recon.Stop()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	if s.presence != nil {
		s.presence.ClearViewing()
	}
}

// Refresh polls immediately.
func (s *Session) Refresh(ctx context.Context) (*types.Snapshot, error) {
	return s.recon.FetchOnce(ctx)
}

func (s *Session) applySnapshot(snap *types.Snapshot) {
	s.mu.Lock()
	if err := s.machine.Invalidate(snap); errors.Is(err, selection.ErrStaleSelection) {
		s.logger.Debug("selection dropped after board change")
	}
	if s.pollError {
		s.banner = nil
		s.pollError = false
	}
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, view)
}

func (s *Session) applyPollError(err error) {
	s.mu.Lock()
	s.banner = err
	s.pollError = true
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, view)
}

// ClickCell feeds a board click. When it completes a selection into a move, the
// move is submitted and the turn policy runs before ClickCell returns.
func (s *Session) ClickCell(ctx context.Context, row, col int) (selection.Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return selection.Result{Outcome: selection.Ignored}, ErrBusy
	}
	snap, _ := s.recon.Snapshot()
	res := s.machine.Click(snap, selection.CellAt(snap, row, col))
	switch res.Outcome {
	case selection.OutOfTurn:
		s.setBannerLocked(ErrNotYourTurn)
		s.mu.Unlock()
		s.changed()
		return res, ErrNotYourTurn
	case selection.MoveAttempted:
		s.busy = true
		s.banner = nil
		s.pollError = false
		s.mu.Unlock()
		s.changed()
	default:
		s.mu.Unlock()
		if res.Outcome != selection.Ignored {
			s.changed()
		}
		return res, nil
	}

	req := res.Move.Request(s.cfg.Seat)
	out, err := s.policy.Play(ctx, s.cfg.MatchID, req)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.setBannerLocked(err)
		s.logger.Info("move rejected", zap.Error(err))
	} else {
		s.machine.Clear()
		if out.EndTurnErr != nil {
			s.setBannerLocked(out.EndTurnErr)
		}
	}
	s.mu.Unlock()
	s.changed()
	return res, err
}

// TargetCell aims the selection at any cell for a power.
func (s *Session) TargetCell(row, col int) (selection.Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return selection.Result{Outcome: selection.Ignored}, ErrBusy
	}
	snap, _ := s.recon.Snapshot()
	res := s.machine.Target(snap, selection.CellAt(snap, row, col))
	var err error
	if res.Outcome == selection.OutOfTurn {
		err = ErrNotYourTurn
		s.setBannerLocked(err)
	}
	s.mu.Unlock()
	if res.Outcome != selection.Ignored {
		s.changed()
	}
	return res, err
}

// ClearSelection drops any selection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.machine.Clear()
	s.mu.Unlock()
	s.changed()
}

// Purchase buys one unit of slug for the acting seat.
func (s *Session) Purchase(ctx context.Context, slug string) error {
	p, ok := power.Lookup(slug)
	if !ok {
		return s.fail(fmt.Errorf("%w: %q", ErrUnknownPower, slug))
	}
	return s.submit(ctx, "purchase", func(snap *types.Snapshot) error {
		if me := snap.Player(s.cfg.Seat); me == nil || me.Coins < p.Price {
			return ErrCannotAfford
		}
		return nil
	}, func(ctx context.Context) error {
		return s.api.Purchase(ctx, s.cfg.MatchID, types.PurchaseRequest{Seat: s.cfg.Seat, PowerSlug: slug, Qty: 1})
	})
}

// Activate validates the current selection against slug's requirements and, if
// it passes, asks the engine to apply the power.
func (s *Session) Activate(ctx context.Context, slug string) error {
	var req types.ActivatePowerRequest
	return s.submit(ctx, "activate", func(*types.Snapshot) error {
		var sel *selection.Selection
		if cur, ok := s.machine.Current(); ok {
			sel = &cur
		}
		var err error
		req, err = power.Request(slug, sel, s.cfg.Seat)
		return err
	}, func(ctx context.Context) error {
		return s.api.ActivatePower(ctx, s.cfg.MatchID, req)
	})
}

// submit runs the shared guard, send and refresh sequence for shop and power
// actions. They need the snapshot to name the acting seat as the current turn.
// check runs under the session lock against the current snapshot.
func (s *Session) submit(ctx context.Context, op string, check func(*types.Snapshot) error, send func(context.Context) error) error {
	if s.cfg.Seat == types.Spectator {
		return s.fail(ErrNoSeat)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	snap, ok := s.recon.Snapshot()
	var err error
	switch {
	case !ok:
		err = ErrNoSnapshot
	case !snap.IsTurnOf(s.cfg.Seat):
		err = ErrNotYourTurn
	default:
		err = check(snap)
	}
	if err != nil {
		s.setBannerLocked(err)
		s.mu.Unlock()
		s.changed()
		return err
	}
	s.busy = true
	s.banner = nil
	s.pollError = false
	s.mu.Unlock()

	err = send(ctx)
	if err == nil {
		s.logger.Info(op+" accepted")
		if _, rerr := s.recon.FetchOnce(ctx); rerr != nil {
			s.logger.Warn("refresh after "+op+" failed", zap.Error(rerr))
		}
	}

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.setBannerLocked(err)
	}
	s.mu.Unlock()
	s.changed()
	return err
}

// Surrender concedes the match, forgets it and stops polling.
func (s *Session) Surrender(ctx context.Context) error {
	if s.cfg.UserID <= 0 {
		return s.fail(ErrNoUser)
	}
	if err := s.api.Surrender(ctx, s.cfg.MatchID, s.cfg.UserID); err != nil {
		return s.fail(err)
	}
	s.logger.Info("surrendered")
	if s.presence != nil {
		if err := s.presence.Clear(ctx); err != nil {
			s.logger.Warn("clearing presence failed", zap.Error(err))
		}
	}
	s.Stop()
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.setBannerLocked(err)
	s.mu.Unlock()
	s.changed()
	return err
}

func (s *Session) setBannerLocked(err error) {
	s.banner = err
	s.pollError = false
}

// LastError is the message the user should currently see, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Session) Snapshot() (*types.Snapshot, bool) { return s.recon.Snapshot() }

func (s *Session) PollStatus() reconciler.Status { return s.recon.Status() }

// Selection returns the current selection, if any.
func (s *Session) Selection() (selection.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// MyInventory lists the acting seat's powers still in stock.
func (s *Session) MyInventory() []types.InventoryItem {
	snap, _ := s.recon.Snapshot()
	if snap == nil {
		return nil
	}
	return power.Mine(snap.Inventory, s.cfg.Seat)
}

func (s *Session) OpponentInventory() []types.InventoryItem {
	snap, _ := s.recon.Snapshot()
	if snap == nil {
		return nil
	}
	return power.Opponent(snap.Inventory, s.cfg.Seat)
}

// RecentMoves returns at most n moves, newest first.
func (s *Session) RecentMoves(n int) []types.MoveRecord {
	snap, _ := s.recon.Snapshot()
	return RecentMoves(snap, n)
}

// RecentMoves returns at most n of snap's moves, newest first.
func RecentMoves(snap *types.Snapshot, n int) []types.MoveRecord {
	if snap == nil || n <= 0 {
		return nil
	}
	moves := make([]types.MoveRecord, len(snap.Moves))
	copy(moves, snap.Moves)
	sort.SliceStable(moves, func(i, j int) bool { return moves[i].TurnIndex > moves[j].TurnIndex })
	if len(moves) > n {
		moves = moves[:n]
	}
	return moves
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	snap, _ := s.recon.Snapshot()
	v := View{
		MatchID:        s.cfg.MatchID,
		Seat:           s.cfg.Seat,
		Snapshot:       snap,
		SelectionState: s.machine.State(),
		Busy:           s.busy,
		Poll:           s.recon.Status(),
	}
	if sel, ok := s.machine.Current(); ok {
		v.Selection = &sel
	}
	if s.banner != nil {
		v.Error = s.banner.Error()
	}
	return v
}

// OnChange calls fn with a fresh View after every snapshot, selection or error
// change until unsubscribed.
func (s *Session) OnChange(fn func(View)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) listenersLocked() []func(View) {
	out := make([]func(View), 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Session) changed() {
	s.mu.Lock()
	view, listeners := s.viewLocked(), s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, view)
}

func notify(listeners []func(View), v View) {
	for _, l := range listeners {
		l(v)
	}
}
