// Package testutil provides test doubles for the engine's external interfaces.
package testutil

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/roach88/hswatch/internal/engine"
)

// NewLogger returns a logger writing to t's log at debug level.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Text())
}

// Bus records every payload sent. Fail makes subsequent sends fail.
type Bus struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

// Send implements engine.Bus.
func (b *Bus) Send(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, slices.Clone(p))
	return nil
}

// Sent returns a copy of every payload sent so far.
func (b *Bus) Sent() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

// Fail makes sends return err. A nil err restores normal operation.
func (b *Bus) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Actuator counts processor reset requests instead of resetting anything.
type Actuator struct {
	mu    sync.Mutex
	calls int
	err   error
}

// PerformProcessorReset implements engine.ResetActuator.
func (a *Actuator) PerformProcessorReset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

// Calls returns how many resets were requested.
func (a *Actuator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Fail makes later reset requests return err after being counted.
func (a *Actuator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Subscriber tracks event subscriptions. Per-category failures are injected
// with FailSubscribe and FailUnsubscribe.
type Subscriber struct {
	mu        sync.Mutex
	active    map[engine.EventCategory]bool
	failSub   map[engine.EventCategory]error
	failUnsub map[engine.EventCategory]error
}

// Subscribe implements engine.EventSubscriber.
func (s *Subscriber) Subscribe(cat engine.EventCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSub[cat]; err != nil {
		return err
	}
	if s.active == nil {
		s.active = make(map[engine.EventCategory]bool)
	}
	s.active[cat] = true
	return nil
}

// Unsubscribe implements engine.EventSubscriber.
func (s *Subscriber) Unsubscribe(cat engine.EventCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUnsub[cat]; err != nil {
		return err
	}
	delete(s.active, cat)
	return nil
}

// Active reports whether cat is currently subscribed.
func (s *Subscriber) Active(cat engine.EventCategory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[cat]
}

// FailSubscribe makes Subscribe(cat) return err.
func (s *Subscriber) FailSubscribe(cat engine.EventCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSub == nil {
		s.failSub = make(map[engine.EventCategory]error)
	}
	s.failSub[cat] = err
}

// FailUnsubscribe makes Unsubscribe(cat) return err.
func (s *Subscriber) FailUnsubscribe(cat engine.EventCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnsub == nil {
		s.failUnsub = make(map[engine.EventCategory]error)
	}
	s.failUnsub[cat] = err
}

// MemoryBlock is an in-memory engine.PersistentBlock that also keeps the
// reset journal. It survives engine restarts when shared between engines.
type MemoryBlock struct {
	mu       sync.Mutex
	data     []byte
	readErr  error
	writeErr error
	journal  []engine.ResetRecord
}

// ReadBlock implements engine.PersistentBlock.
func (b *MemoryBlock) ReadBlock(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	if b.data == nil {
		return nil, engine.ErrBlockNotFound
	}
	return slices.Clone(b.data), nil
}

// WriteBlock implements engine.PersistentBlock.
func (b *MemoryBlock) WriteBlock(_ context.Context, block []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = slices.Clone(block)
	return nil
}

// RecordReset implements engine.ResetJournal.
func (b *MemoryBlock) RecordReset(_ context.Context, rec engine.ResetRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = append(b.journal, rec)
	return nil
}

// Journal returns the recorded resets, oldest first.
func (b *MemoryBlock) Journal() []engine.ResetRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.journal)
}

// Raw returns the stored bytes, or nil before the first write.
func (b *MemoryBlock) Raw() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.data)
}

// Corrupt overwrites the stored bytes without going through the engine.
func (b *MemoryBlock) Corrupt(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = slices.Clone(data)
}

// FailRead makes ReadBlock return err. A nil err restores normal operation.
func (b *MemoryBlock) FailRead(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// FailWrite makes WriteBlock return err. A nil err restores normal operation.
func (b *MemoryBlock) FailWrite(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}
