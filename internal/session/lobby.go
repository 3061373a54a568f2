package session

import (
	"context"
	"sync"
	"time"

	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultLobbyInterval = 6 * time.Second

type LobbyFetcher interface {
	Match(ctx context.Context, matchID int64) (*types.LobbyMatch, error)
}

// Tracker adopts lobby views into presence. *presence.Store implements it.
type Tracker interface {
	Track(ctx context.Context, rec presence.Record) error
}

// LobbyWatcher polls a match's pre-game room and keeps presence in line with it
// until the match starts.
type LobbyWatcher struct {
	api      LobbyFetcher
	tracker  Tracker
	matchID  int64
	userID   int64
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	latest  *types.LobbyMatch
	lastErr error
}

type LobbyOption func(*LobbyWatcher)

func WithLobbyClock(c clock.Clock) LobbyOption { return func(w *LobbyWatcher) { w.clock = c } }

func WithLobbyInterval(d time.Duration) LobbyOption {
	return func(w *LobbyWatcher) { w.interval = d }
}

func WithLobbyLogger(l *zap.Logger) LobbyOption { return func(w *LobbyWatcher) { w.logger = l } }

// NewLobbyWatcher watches matchID on behalf of userID. tracker may be nil.
func NewLobbyWatcher(api LobbyFetcher, tracker Tracker, matchID, userID int64, opts ...LobbyOption) *LobbyWatcher {
	w := &LobbyWatcher{
		api:      api,
		tracker:  tracker,
		matchID:  matchID,
		userID:   userID,
		clock:    clock.New(),
		interval: DefaultLobbyInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = DefaultLobbyInterval
	}
	return w
}

// WaitUntilStarted polls right away and then on every interval until the match
// is ongoing or finished, returning that view. Fetch failures are logged and
// retried on the next tick.
func (w *LobbyWatcher) WaitUntilStarted(ctx context.Context) (types.LobbyMatch, error) {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		if m, ok := w.poll(ctx); ok && m.Status != types.StatusWaiting {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return types.LobbyMatch{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *LobbyWatcher) poll(ctx context.Context) (types.LobbyMatch, bool) {
	m, err := w.api.Match(ctx, w.matchID)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		w.logger.Warn("match room poll failed", zap.Int64("match", w.matchID), zap.Error(err))
		return types.LobbyMatch{}, false
	}
	if m.ID == 0 {
		m.ID = w.matchID
	}
	m.Status = types.ParseStatus(string(m.Status))

	if w.tracker != nil && w.userID > 0 {
		rec := presence.Record{MatchID: m.ID, Seat: m.SeatOf(w.userID), Status: m.Status}
		if err := w.tracker.Track(ctx, rec); err != nil {
			w.logger.Warn("tracking presence failed", zap.Error(err))
		}
	}

	w.mu.Lock()
	w.latest = m
	w.lastErr = nil
	w.mu.Unlock()
	return *m, true
}

// Latest is the last room view fetched, if any.
func (w *LobbyWatcher) Latest() (types.LobbyMatch, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return types.LobbyMatch{}, false
	}
	return *w.latest, true
}

func (w *LobbyWatcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}
