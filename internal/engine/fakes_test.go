package engine

import (
	"context"
	"errors"
	"time"
)

// memBlock is an in-memory PersistentBlock with failure injection.
type memBlock struct {
	data     []byte
	readErr  error
	writeErr error
	writes   int
	journal  []ResetRecord
}

func (b *memBlock) ReadBlock(context.Context) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	if b.data == nil {
		return nil, ErrBlockNotFound
	}
	return append([]byte(nil), b.data...), nil
}

func (b *memBlock) WriteBlock(_ context.Context, block []byte) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = append([]byte(nil), block...)
	b.writes++
	return nil
}

func (b *memBlock) RecordReset(_ context.Context, rec ResetRecord) error {
	b.journal = append(b.journal, rec)
	return nil
}

// countingActuator records processor reset requests.
type countingActuator struct {
	calls int
	err   error
}

func (a *countingActuator) PerformProcessorReset() error {
	a.calls++
	return a.err
}

var errInjected = errors.New("injected failure")

// seqTime returns the given microsecond timestamps in order, repeating the last.
type seqTime struct {
	micros []int64
	i      int
}

func (s *seqTime) Now() time.Time {
	v := s.micros[min(s.i, len(s.micros)-1)]
	s.i++
	return time.UnixMicro(v)
}

// manualTime is a TimeSource moved by hand.
type manualTime struct{ now time.Time }

func (m *manualTime) Now() time.Time          { return m.now }
func (m *manualTime) Advance(d time.Duration) { m.now = m.now.Add(d) }

// staticTable is a TableSource whose rows and availability are set by the test.
type staticTable[T any] struct {
	rows    []T
	err     error
	changed bool
}

func newStaticTable[T any](rows ...T) *staticTable[T] {
	return &staticTable[T]{rows: rows, changed: true}
}

func (s *staticTable[T]) Acquire() ([]T, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	changed := s.changed
	s.changed = false
	return s.rows, changed, nil
}

func (s *staticTable[T]) Set(rows ...T) {
	s.rows = rows
	s.changed = true
	s.err = nil
}

func (s *staticTable[T]) Fail() { s.err = ErrTableUnavailable }

// recordingBus records every payload sent.
type recordingBus struct {
	sent [][]byte
	err  error
}

func (b *recordingBus) Send(p []byte) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, append([]byte(nil), p...))
	return nil
}

// beatRegistry is a mapRegistry that also accepts heartbeats.
type beatRegistry struct {
	mapRegistry
	beats map[string]int
}

func (r *beatRegistry) Beat(name string) { r.beats[name]++ }

// countingWatchdog counts services.
type countingWatchdog struct {
	services int
	err      error
}

func (w *countingWatchdog) Service() error {
	w.services++
	return w.err
}
