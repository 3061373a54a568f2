// Package reconciler keeps a local copy of one match's server state by polling.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultInterval = time.Second

var (
	ErrInvalidMatch = errors.New("match id must be positive")
	ErrNotStarted   = errors.New("reconciler is not polling a match")
	ErrStopped      = errors.New("reconciler stopped while the request was in flight")
)

// Fetcher is the remote state endpoint.
type Fetcher interface {
	State(ctx context.Context, matchID int64, seat types.Seat) (*types.Snapshot, error)
}

// Presence receives match status transitions.
type Presence interface {
	Current() (presence.Record, bool)
	Update(ctx context.Context, p presence.Partial) error
	Clear(ctx context.Context) error
}

// Status describes how fresh the held snapshot is.
type Status struct {
	MatchID             int64
	Seat                types.Seat
	Running             bool
	HasSnapshot         bool
	LastSuccess         time.Time
	LastError           error
	ConsecutiveFailures int
}

type Reconciler struct {
	api      Fetcher
	presence Presence
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	// pollMu serialises requests: scheduled ticks skip while one is in flight,
	// manual refreshes wait for it.
	pollMu sync.Mutex

	mu          sync.RWMutex
	gen         uint64
	matchID     int64
	seat        types.Seat
	cancel      context.CancelFunc
	done        chan struct{}
	snap        *types.Snapshot
	lastStatus  types.MatchStatus
	lastSuccess time.Time
	lastErr     error
	failures    int

	snapListeners map[int]func(*types.Snapshot)
	errListeners  map[int]func(error)
	nextID        int
}

type Option func(*Reconciler)

func WithClock(c clock.Clock) Option { return func(r *Reconciler) { r.clock = c } }

func WithInterval(d time.Duration) Option { return func(r *Reconciler) { r.interval = d } }

func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// WithPresence makes the reconciler clear p once when the match finishes and
// mirror other status changes into it.
func WithPresence(p Presence) Option { return func(r *Reconciler) { r.presence = p } }

func New(api Fetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:           api,
		clock:         clock.New(),
		interval:      DefaultInterval,
		logger:        zap.NewNop(),
		snapListeners: make(map[int]func(*types.Snapshot)),
		errListeners:  make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	return r
}

// Start polls matchID at the configured interval, beginning immediately. A running
// poll for another match is stopped first. Restarting the same match keeps the
// last snapshot.
func (r *Reconciler) Start(matchID int64, seat types.Seat) error {
	if matchID <= 0 {
		return ErrInvalidMatch
	}
	r.Stop()

	r.mu.Lock()
	r.gen++
	gen := r.gen
	if r.matchID != matchID || r.seat != seat {
		r.snap = nil
		r.lastStatus = ""
		r.lastErr = nil
		r.failures = 0
	}
	r.matchID = matchID
	r.seat = seat
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	// The ticker exists before Start returns so a fake clock cannot race it.
	ticker := r.clock.Ticker(r.interval)
	r.mu.Unlock()

	r.logger.Info("polling match state",
		zap.Int64("match", matchID),
		zap.String("seat", string(seat)),
		zap.Duration("interval", r.interval),
	)
	go r.loop(ctx, gen, ticker, done)
	return nil
}

func (r *Reconciler) loop(ctx context.Context, gen uint64, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	r.tick(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, gen)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context, gen uint64) {
	if !r.pollMu.TryLock() {
		r.logger.Debug("skipping tick, poll in flight")
		return
	}
	defer r.pollMu.Unlock()
	_, _ = r.fetch(ctx, gen)
}

// FetchOnce polls right now, after any request already in flight. On failure the
// previous snapshot is kept and the error is returned. Requests are not coalesced
// with the timer, so a refresh right before a tick fetches twice.
func (r *Reconciler) FetchOnce(ctx context.Context) (*types.Snapshot, error) {
	r.mu.RLock()
	gen, matchID := r.gen, r.matchID
	r.mu.RUnlock()
	if matchID == 0 {
		return nil, ErrNotStarted
	}

	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	return r.fetch(ctx, gen)
}

func (r *Reconciler) fetch(ctx context.Context, gen uint64) (*types.Snapshot, error) {
	r.mu.RLock()
	matchID, seat := r.matchID, r.seat
	r.mu.RUnlock()

	snap, err := r.api.State(ctx, matchID, seat)

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	if err != nil {
		r.lastErr = err
		r.failures++
		failures := r.failures
		listeners := errListenersLocked(r.errListeners)
		r.mu.Unlock()

		r.logger.Warn("match state poll failed",
			zap.Int64("match", matchID),
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
		for _, l := range listeners {
			l(err)
		}
		return nil, err
	}

	prevStatus := r.lastStatus
	r.snap = snap
	r.lastStatus = snap.Match.Status
	r.lastSuccess = r.clock.Now()
	r.lastErr = nil
	r.failures = 0
	listeners := snapListenersLocked(r.snapListeners)
	r.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	r.syncPresence(ctx, matchID, prevStatus, snap.Match.Status)
	return snap, nil
}

// syncPresence is edge-triggered: it only acts when the polled status changes.
func (r *Reconciler) syncPresence(ctx context.Context, matchID int64, prev, next types.MatchStatus) {
	if r.presence == nil || prev == next {
		return
	}
	if next == types.StatusFinished {
		r.logger.Info("match finished, clearing presence", zap.Int64("match", matchID))
		if err := r.presence.Clear(ctx); err != nil {
			r.logger.Warn("clearing presence failed", zap.Error(err))
		}
		return
	}
	rec, ok := r.presence.Current()
	if !ok || rec.MatchID != matchID {
		return
	}
	if err := r.presence.Update(ctx, presence.StatusUpdate(next)); err != nil {
		r.logger.Warn("updating presence status failed", zap.Error(err))
	}
}

// Stop cancels the timer. Requests already in flight finish but their results
// are dropped. It waits for the poll loop, so it must not be called from an
// OnSnapshot or OnError callback.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	if cancel != nil {
		r.gen++
		r.matchID = 0
	}
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Snapshot returns the last good snapshot. Callers must treat it as read-only.
func (r *Reconciler) Snapshot() (*types.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap, r.snap != nil
}

func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		MatchID:             r.matchID,
		Seat:                r.seat,
		Running:             r.cancel != nil,
		HasSnapshot:         r.snap != nil,
		LastSuccess:         r.lastSuccess,
		LastError:           r.lastErr,
		ConsecutiveFailures: r.failures,
	}
}

// OnSnapshot calls fn with every newly applied snapshot until unsubscribed.
func (r *Reconciler) OnSnapshot(fn func(*types.Snapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.snapListeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.snapListeners, id)
	}
}

// OnError calls fn with every failed poll until unsubscribed.
func (r *Reconciler) OnError(fn func(error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.errListeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.errListeners, id)
	}
}

func snapListenersLocked(m map[int]func(*types.Snapshot)) []func(*types.Snapshot) {
	out := make([]func(*types.Snapshot), 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}

func errListenersLocked(m map[int]func(error)) []func(error) {
	out := make([]func(error), 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}
