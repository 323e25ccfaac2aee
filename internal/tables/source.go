package tables

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/hswatch/internal/engine"
)

// StaticSource serves rows set in memory. It implements engine.TableSource
// and is safe for concurrent use.
type StaticSource[T any] struct {
	mu      sync.Mutex
	rows    []T
	changed bool
	err     error
}

// NewStaticSource creates a source serving rows.
func NewStaticSource[T any](rows []T) *StaticSource[T] {
	return &StaticSource[T]{rows: slices.Clone(rows), changed: true}
}

// Acquire implements engine.TableSource.
func (s *StaticSource[T]) Acquire() ([]T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, false, s.err
	}
	changed := s.changed
	s.changed = false
	return s.rows, changed, nil
}

// Set replaces the rows and makes the table available.
func (s *StaticSource[T]) Set(rows []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = slices.Clone(rows)
	s.changed = true
	s.err = nil
}

// Fail makes the table unavailable until the next Set.
func (s *StaticSource[T]) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = fmt.Errorf("%s: %w", reason, engine.ErrTableUnavailable)
}

// FileSource serves a table file, reloading it when Reload is called or,
// while Watch runs, when the file changes on disk. A file that fails to
// load makes the table unavailable until a later load succeeds.
type FileSource[T any] struct {
	schema *Schema
	kind   Kind
	path   string
	log    *slog.Logger

	mu      sync.Mutex
	rows    []T
	digest  string
	changed bool
	err     error
}

// NewFileSource creates a source for path and performs the first load.
// A failed first load is not an error: the source starts unavailable.
func NewFileSource[T any](schema *Schema, kind Kind, path string, log *slog.Logger) *FileSource[T] {
	if log == nil {
		log = slog.Default()
	}
	s := &FileSource[T]{schema: schema, kind: kind, path: path, log: log}
	s.Reload()
	return s
}

// Acquire implements engine.TableSource.
func (s *FileSource[T]) Acquire() ([]T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, false, s.err
	}
	changed := s.changed
	s.changed = false
	return s.rows, changed, nil
}

// Reload reads and validates the file now. Rewriting the file with
// identical contents does not mark the table changed.
func (s *FileSource[T]) Reload() error {
	rows, digest, err := loadFile[T](s.schema, s.kind, s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = fmt.Errorf("%w: %w", engine.ErrTableUnavailable, err)
		s.digest = ""
		s.log.Warn("table load failed",
			"kind", s.kind,
			"path", s.path,
			"error", err,
		)
		return err
	}

	if s.err == nil && digest == s.digest {
		s.log.Debug("table unchanged", "kind", s.kind, "digest", digest[:12])
		return nil
	}

	s.rows = rows
	s.digest = digest
	s.changed = true
	s.err = nil
	s.log.Info("table loaded",
		"kind", s.kind,
		"path", s.path,
		"entries", len(rows),
		"digest", digest[:12],
	)
	return nil
}

// Digest returns the content digest of the loaded file, or "" while the
// table is unavailable.
func (s *FileSource[T]) Digest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest
}

// DefaultDebounce is how long Watch waits for writes to settle before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
func (s *FileSource[T]) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("table watcher error", "kind", s.kind, "error", err)
		case <-timerCh:
			timerCh = nil
			_ = s.Reload()
		}
	}
}
