package presence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileSlot keeps the slot in a single JSON file so that several client processes
// on one machine share it. Writes go through a temp file and rename.
type FileSlot struct {
	path   string
	logger *zap.Logger
}

func NewFileSlot(path string, logger *zap.Logger) (*FileSlot, error) {
	if path == "" {
		return nil, errors.New("presence: file slot needs a path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("presence: create slot dir: %w", err)
	}
	return &FileSlot{path: path, logger: logger}, nil
}

func (s *FileSlot) Path() string { return s.path }

func (s *FileSlot) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("presence: read slot: %w", err)
	}
	return data, nil
}

func (s *FileSlot) Store(_ context.Context, value []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("presence: write slot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("presence: write slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("presence: write slot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("presence: write slot: %w", err)
	}
	return nil
}

// Delete removes the file; a missing file is already the cleared state.
func (s *FileSlot) Delete(context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("presence: delete slot: %w", err)
	}
	return nil
}

// Watch follows the slot's directory, since rename replaces the file itself.
func (s *FileSlot) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("presence: watch slot: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("presence: watch slot: %w", err)
	}

	out := make(chan struct{}, 1)
	name := filepath.Clean(s.path)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("presence slot watch error", zap.String("path", s.path), zap.Error(err))
			}
		}
	}()
	return out, nil
}
