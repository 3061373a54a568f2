// Package presence remembers which match and seat the user is engaged in, across
// restarts and across every client sharing the same durable slot.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Backoff bounds for re-establishing a dropped slot watch.
const (
	DefaultRewatchDelay = 500 * time.Millisecond
	MaxRewatchDelay     = 30 * time.Second
)

// Record is the active match. A missing record means there is nothing to resume.
type Record struct {
	MatchID int64             `json:"matchId"`
	Seat    types.Seat        `json:"seat"`
	Status  types.MatchStatus `json:"status"`
}

// Partial carries the fields Update merges into an existing record.
type Partial struct {
	Seat   *types.Seat
	Status *types.MatchStatus
}

// StatusUpdate is shorthand for a Partial that only touches the status.
func StatusUpdate(s types.MatchStatus) Partial { return Partial{Status: &s} }

// Listener receives the current record after every change; ok is false once cleared.
type Listener func(rec Record, ok bool)

type Store struct {
	slot         Slot
	logger       *zap.Logger
	clock        clock.Clock
	rewatchDelay time.Duration

	mu        sync.Mutex
	rec       *Record
	viewing   int64
	listeners map[int]Listener
	nextID    int

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Store)

func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithRewatchDelay sets the first wait before a dropped watch is re-established.
func WithRewatchDelay(d time.Duration) Option { return func(s *Store) { s.rewatchDelay = d } }

// Open hydrates from slot and starts following changes made by other clients.
// Malformed or invalid durable data is treated as no record.
func Open(ctx context.Context, slot Slot, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		slot:         slot,
		logger:       logger,
		clock:        clock.New(),
		rewatchDelay: DefaultRewatchDelay,
		listeners:    make(map[int]Listener),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rewatchDelay <= 0 {
		s.rewatchDelay = DefaultRewatchDelay
	}

	rec, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	s.rec = rec

	watchCtx, cancel := context.WithCancel(context.Background())
	changes, err := slot.Watch(watchCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("presence: watch slot: %w", err)
	}
	s.cancel = cancel
	go s.follow(watchCtx, changes)
	return s, nil
}

func normalize(rec Record) (Record, bool) {
	if rec.MatchID <= 0 {
		return Record{}, false
	}
	return Record{
		MatchID: rec.MatchID,
		Seat:    types.ParseSeat(string(rec.Seat)),
		Status:  types.ParseStatus(string(rec.Status)),
	}, true
}

// read loads and decodes the slot; nil means no usable record.
func (s *Store) read(ctx context.Context) (*Record, error) {
	raw, err := s.slot.Load(ctx)
	if errors.Is(err, ErrSlotEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("ignoring malformed presence record", zap.Error(err))
		return nil, nil
	}
	n, ok := normalize(rec)
	if !ok {
		return nil, nil
	}
	return &n, nil
}

// Current returns the active record, if any.
func (s *Store) Current() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, false
	}
	return *s.rec, true
}

// Set replaces the record. A non-positive match id clears it instead; the seat is
// normalised and an unset status becomes waiting.
func (s *Store) Set(ctx context.Context, rec Record) error {
	n, ok := normalize(rec)
	if !ok {
		return s.Clear(ctx)
	}
	return s.mutate(ctx, func(*Record) *Record { return &n }, false)
}

// Update merges p into the existing record and does nothing when there is none,
// so a late write cannot resurrect a cleared match. Merging a finished status
// clears the record.
func (s *Store) Update(ctx context.Context, p Partial) error {
	return s.mutate(ctx, func(prev *Record) *Record {
		if prev == nil {
			return nil
		}
		next := *prev
		if p.Seat != nil {
			next.Seat = types.ParseSeat(string(*p.Seat))
		}
		if p.Status != nil {
			next.Status = types.ParseStatus(string(*p.Status))
		}
		if next.Status == types.StatusFinished {
			return nil
		}
		return &next
	}, false)
}

// Clear forgets the record and always deletes the slot key, so unreadable
// durable data is removed too.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(*Record) *Record { return nil }, true)
}

// Track adopts a lobby view of the user's match: finished matches and matches
// where the user holds no seat clear the record, anything else sets it.
func (s *Store) Track(ctx context.Context, rec Record) error {
	n, ok := normalize(rec)
	if !ok || n.Status == types.StatusFinished || n.Seat == types.Spectator {
		return s.Clear(ctx)
	}
	return s.Set(ctx, n)
}

// mutate applies fn, persists the result and notifies listeners. The slot key is
// deleted rather than written empty when the record goes away. With force the
// slot is written even when the in-memory record did not change.
func (s *Store) mutate(ctx context.Context, fn func(prev *Record) *Record, force bool) error {
	s.mu.Lock()
	prev := s.rec
	next := fn(prev)
	if prev == nil && next == nil && !force {
		s.mu.Unlock()
		return nil
	}
	s.rec = next
	notify := prev != nil || next != nil

	var err error
	if next == nil {
		err = s.slot.Delete(ctx)
	} else {
		var raw []byte
		raw, err = json.Marshal(next)
		if err == nil {
			err = s.slot.Store(ctx, raw)
		}
	}
	var listeners []Listener
	if notify {
		listeners = s.listenersLocked()
	}
	s.mu.Unlock()

	publish(listeners, next)
	if err != nil {
		return fmt.Errorf("presence: persist record: %w", err)
	}
	return nil
}

// follow reloads the slot on every change signal. When the watch channel closes
// while the store is still open, the watch is re-established with backoff and the
// slot is re-read once to pick up anything missed meanwhile.
func (s *Store) follow(ctx context.Context, changes <-chan struct{}) {
	defer close(s.done)
	for {
		for range changes {
			s.reload(ctx)
		}
		if ctx.Err() != nil {
			return
		}
		var ok bool
		if changes, ok = s.rewatch(ctx); !ok {
			return
		}
		s.reload(ctx)
	}
}

func (s *Store) rewatch(ctx context.Context) (<-chan struct{}, bool) {
	delay := s.rewatchDelay
	for {
		s.logger.Warn("presence slot watch dropped", zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.clock.After(delay):
		}
		changes, err := s.slot.Watch(ctx)
		if err == nil {
			s.logger.Info("presence slot watch restored")
			return changes, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		s.logger.Warn("presence slot rewatch failed", zap.Error(err))
		delay = min(delay*2, MaxRewatchDelay)
	}
}

// reload reads under the lock so a concurrent local write cannot be overtaken by
// an older durable value.
func (s *Store) reload(ctx context.Context) {
	s.mu.Lock()
	rec, err := s.read(ctx)
	if err != nil {
		s.mu.Unlock()
		if ctx.Err() == nil {
			s.logger.Warn("presence slot reload failed", zap.Error(err))
		}
		return
	}
	if sameRecord(s.rec, rec) {
		s.mu.Unlock()
		return
	}
	s.rec = rec
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.logger.Debug("presence changed by another client", zap.Bool("present", rec != nil))
	publish(listeners, rec)
}

func sameRecord(a, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OnPresenceChange registers fn and returns its unsubscribe func.
func (s *Store) OnPresenceChange(fn Listener) func() {
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

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func publish(listeners []Listener, rec *Record) {
	for _, l := range listeners {
		if rec == nil {
			l(Record{}, false)
		} else {
			l(*rec, true)
		}
	}
}

// SetViewing records the match currently on screen. It is never persisted.
func (s *Store) SetViewing(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if matchID <= 0 {
		s.viewing = 0
		return
	}
	s.viewing = matchID
}

func (s *Store) Viewing() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing, s.viewing > 0
}

func (s *Store) ClearViewing() { s.SetViewing(0) }

// Close stops following the slot. The durable record is left untouched.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	return nil
}
