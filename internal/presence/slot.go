package presence

import (
	"context"
	"errors"
	"sync"
)

// StorageKey names the durable slot holding the serialized active match.
const StorageKey = "xtreme_active_match"

var ErrSlotEmpty = errors.New("presence slot is empty")

// Slot is one durable key/value cell shared by every client of the same origin.
//
// Watch signals that the slot may have changed; the receiver re-reads it. Signals
// coalesce, and a backend may or may not signal its own writes.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, value []byte) error
	Delete(ctx context.Context) error
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// MemoryBackend is a process-local origin. Each Slot it hands out behaves like a
// browser tab: writes through one handle notify every other handle, never itself.
type MemoryBackend struct {
	mu      sync.Mutex
	value   []byte
	present bool
	nextID  int
	watches map[int]chan struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{watches: make(map[int]chan struct{})}
}

// Slot opens a new handle on the backend.
func (b *MemoryBackend) Slot() Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return &memorySlot{backend: b, id: b.nextID}
}

// Raw returns the stored bytes, for tests that corrupt or inspect the slot.
func (b *MemoryBackend) Raw() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.value...), b.present
}

// Put writes raw bytes without notifying anyone.
func (b *MemoryBackend) Put(value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = append([]byte(nil), value...)
	b.present = true
}

func (b *MemoryBackend) notifyOthers(from int) {
	for id, ch := range b.watches {
		if id == from {
			continue
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type memorySlot struct {
	backend *MemoryBackend
	id      int
}

func (s *memorySlot) Load(context.Context) ([]byte, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if !s.backend.present {
		return nil, ErrSlotEmpty
	}
	return append([]byte(nil), s.backend.value...), nil
}

func (s *memorySlot) Store(_ context.Context, value []byte) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.value = append([]byte(nil), value...)
	s.backend.present = true
	s.backend.notifyOthers(s.id)
	return nil
}

func (s *memorySlot) Delete(context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.value = nil
	s.backend.present = false
	s.backend.notifyOthers(s.id)
	return nil
}

func (s *memorySlot) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.backend.mu.Lock()
	if _, dup := s.backend.watches[s.id]; dup {
		s.backend.mu.Unlock()
		return nil, errors.New("presence: slot is already watched")
	}
	s.backend.watches[s.id] = ch
	s.backend.mu.Unlock()

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() {
			s.backend.mu.Lock()
			delete(s.backend.watches, s.id)
			s.backend.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
