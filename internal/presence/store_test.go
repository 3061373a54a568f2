package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, slot Slot) *Store {
	t.Helper()
	s, err := Open(context.Background(), slot, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetSurvivesReload(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	first := openStore(t, backend.Slot())
	require.NoError(t, first.Set(ctx, Record{MatchID: 7, Seat: types.SeatA, Status: types.StatusOngoing}))
	require.NoError(t, first.Close())

	reloaded := openStore(t, backend.Slot())
	rec, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, Record{MatchID: 7, Seat: types.SeatA, Status: types.StatusOngoing}, rec)
}

func TestStore_SetNormalises(t *testing.T) {
	cases := []struct {
		name   string
		in     Record
		want   Record
		wantOK bool
	}{
		{
			name:   "zero match id clears",
			in:     Record{MatchID: 0, Seat: types.SeatA, Status: types.StatusOngoing},
			wantOK: false,
		},
		{
			name:   "negative match id clears",
			in:     Record{MatchID: -3, Seat: types.SeatB},
			wantOK: false,
		},
		{
			name:   "unset status defaults to waiting",
			in:     Record{MatchID: 4, Seat: types.SeatB},
			want:   Record{MatchID: 4, Seat: types.SeatB, Status: types.StatusWaiting},
			wantOK: true,
		},
		{
			name:   "lowercase seat",
			in:     Record{MatchID: 4, Seat: "a", Status: types.StatusOngoing},
			want:   Record{MatchID: 4, Seat: types.SeatA, Status: types.StatusOngoing},
			wantOK: true,
		},
		{
			name:   "unknown status becomes waiting",
			in:     Record{MatchID: 5, Seat: types.SeatA, Status: "paused"},
			want:   Record{MatchID: 5, Seat: types.SeatA, Status: types.StatusWaiting},
			wantOK: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := NewMemoryBackend()
			s := openStore(t, backend.Slot())
			require.NoError(t, s.Set(context.Background(), Record{MatchID: 99, Seat: types.SeatA}))

			require.NoError(t, s.Set(context.Background(), tc.in))
			rec, ok := s.Current()
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, rec)
			}
			_, present := backend.Raw()
			assert.Equal(t, tc.wantOK, present, "slot key must be deleted, not nulled, when cleared")
		})
	}
}

func TestStore_UpdateNeverResurrects(t *testing.T) {
	backend := NewMemoryBackend()
	s := openStore(t, backend.Slot())
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, StatusUpdate(types.StatusOngoing)))
	_, ok := s.Current()
	assert.False(t, ok)
	_, present := backend.Raw()
	assert.False(t, present)

	require.NoError(t, s.Set(ctx, Record{MatchID: 3, Seat: types.SeatB}))
	require.NoError(t, s.Update(ctx, StatusUpdate(types.StatusOngoing)))
	rec, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, Record{MatchID: 3, Seat: types.SeatB, Status: types.StatusOngoing}, rec)

	require.NoError(t, s.Update(ctx, StatusUpdate(types.StatusFinished)))
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestStore_MalformedSlotIsAbsence(t *testing.T) {
	for _, raw := range []string{`{not json`, `null`, `{"matchId":0,"seat":"A"}`, `"hello"`} {
		backend := NewMemoryBackend()
		backend.Put([]byte(raw))

		s := openStore(t, backend.Slot())
		_, ok := s.Current()
		assert.False(t, ok, "raw=%s", raw)
	}
}

func TestStore_CrossTabConvergence(t *testing.T) {
	backend := NewMemoryBackend()
	tabA := openStore(t, backend.Slot())
	tabB := openStore(t, backend.Slot())

	var mu sync.Mutex
	var seen []Record
	unsubscribe := tabB.OnPresenceChange(func(rec Record, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			seen = append(seen, rec)
		}
	})
	defer unsubscribe()

	want := Record{MatchID: 9, Seat: types.SeatB, Status: types.StatusWaiting}
	require.NoError(t, tabA.Set(context.Background(), want))

	assert.Eventually(t, func() bool {
		rec, ok := tabB.Current()
		return ok && rec == want
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []Record{want}, seen)
	mu.Unlock()

	require.NoError(t, tabA.Clear(context.Background()))
	assert.Eventually(t, func() bool {
		_, ok := tabB.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStore_LastWriterWins(t *testing.T) {
	backend := NewMemoryBackend()
	tabA := openStore(t, backend.Slot())
	tabB := openStore(t, backend.Slot())
	ctx := context.Background()

	require.NoError(t, tabA.Set(ctx, Record{MatchID: 1, Seat: types.SeatA}))
	require.NoError(t, tabB.Set(ctx, Record{MatchID: 2, Seat: types.SeatB}))

	want := Record{MatchID: 2, Seat: types.SeatB, Status: types.StatusWaiting}
	assert.Eventually(t, func() bool {
		rec, ok := tabA.Current()
		return ok && rec == want
	}, time.Second, 5*time.Millisecond)
}

func TestStore_Track(t *testing.T) {
	s := openStore(t, NewMemoryBackend().Slot())
	ctx := context.Background()

	require.NoError(t, s.Track(ctx, Record{MatchID: 5, Seat: types.SeatA, Status: types.StatusOngoing}))
	_, ok := s.Current()
	require.True(t, ok)

	require.NoError(t, s.Track(ctx, Record{MatchID: 5, Seat: types.Spectator, Status: types.StatusOngoing}))
	_, ok = s.Current()
	assert.False(t, ok, "no seat means nothing to resume")

	require.NoError(t, s.Track(ctx, Record{MatchID: 5, Seat: types.SeatA, Status: types.StatusOngoing}))
	require.NoError(t, s.Track(ctx, Record{MatchID: 5, Seat: types.SeatA, Status: types.StatusFinished}))
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestStore_ListenerUnsubscribe(t *testing.T) {
	s := openStore(t, NewMemoryBackend().Slot())
	calls := 0
	unsubscribe := s.OnPresenceChange(func(Record, bool) { calls++ })

	require.NoError(t, s.Set(context.Background(), Record{MatchID: 1, Seat: types.SeatA}))
	unsubscribe()
	require.NoError(t, s.Set(context.Background(), Record{MatchID: 2, Seat: types.SeatA}))

	assert.Equal(t, 1, calls)
}

func TestStore_Viewing(t *testing.T) {
	s := openStore(t, NewMemoryBackend().Slot())

	_, ok := s.Viewing()
	assert.False(t, ok)

	s.SetViewing(12)
	id, ok := s.Viewing()
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	s.ClearViewing()
	_, ok = s.Viewing()
	assert.False(t, ok)
}

// flakySlot hands out watch channels that close at once for the first drops
// calls, then fails the next fails calls, then delegates.
type flakySlot struct {
	Slot

	mu      sync.Mutex
	drops   int
	fails   int
	watches int
}

func (f *flakySlot) Watch(ctx context.Context) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches++
	if f.drops > 0 {
		f.drops--
		ch := make(chan struct{})
		close(ch)
		return ch, nil
	}
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("listen: connection refused")
	}
	return f.Slot.Watch(ctx)
}

func (f *flakySlot) watchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches
}

func TestStore_RewatchesAfterWatchDrops(t *testing.T) {
	backend := NewMemoryBackend()
	mock := clock.NewMock()
	ctx := context.Background()

	tabA := openStore(t, backend.Slot())
	flaky := &flakySlot{Slot: backend.Slot(), drops: 1, fails: 1}
	tabB, err := Open(ctx, flaky, nil, WithClock(mock), WithRewatchDelay(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tabB.Close() })

	want := Record{MatchID: 9, Seat: types.SeatB, Status: types.StatusOngoing}
	require.NoError(t, tabA.Set(ctx, want))

	assert.Eventually(t, func() bool {
		mock.Add(time.Second)
		rec, ok := tabB.Current()
		return ok && rec == want
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, flaky.watchCalls())

	require.NoError(t, tabA.Clear(ctx))
	assert.Eventually(t, func() bool {
		_, ok := tabB.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStore_CloseWhileRewatching(t *testing.T) {
	flaky := &flakySlot{Slot: NewMemoryBackend().Slot(), drops: 1}
	s, err := Open(context.Background(), flaky, nil, WithClock(clock.NewMock()))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked while waiting to rewatch")
	}
}

func TestStore_ClearDeletesUnreadableSlot(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Put([]byte(`{not json`))

	s := openStore(t, backend.Slot())
	calls := 0
	unsubscribe := s.OnPresenceChange(func(Record, bool) { calls++ })
	defer unsubscribe()

	require.NoError(t, s.Clear(context.Background()))

	_, present := backend.Raw()
	assert.False(t, present)
	assert.Zero(t, calls, "nothing was active, so nothing changed")
}
