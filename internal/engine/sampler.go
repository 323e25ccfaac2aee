package engine

import (
	"context"
	"runtime"
	"sync/atomic"
)

// DiagRingSize is the number of decimated idle timestamps kept for diagnostics.
const DiagRingSize = 16

// DefaultUtilMask samples a timestamp once every 256 idle ticks.
const DefaultUtilMask uint32 = 0xFF

// IdleSampler is the free-running idle counter shared between the idle task
// and the foreground cycle.
//
// Only the idle task writes it. Every field is a single atomic word, so the
// foreground reads without locks and accepts slightly stale values.
type IdleSampler struct {
	count atomic.Uint32
	mask  atomic.Uint32
	ring  [DiagRingSize]atomic.Uint32
	next  atomic.Uint32
	clock TimeSource
}

// NewIdleSampler creates a sampler stamping ring entries from clock.
func NewIdleSampler(clock TimeSource, mask uint32) *IdleSampler {
	if clock == nil {
		clock = SystemTime()
	}
	s := &IdleSampler{clock: clock}
	s.mask.Store(mask)
	return s
}

// Increment records one idle tick. When the running total's low bits match
// the mask, the current time in microseconds is written to the ring.
func (s *IdleSampler) Increment() {
	c := s.count.Add(1)
	m := s.mask.Load()
	if c&m != m {
		return
	}
	i := s.next.Add(1) - 1
	s.ring[i%DiagRingSize].Store(uint32(s.clock.Now().UnixMicro()))
}

// Count returns the idle tick total.
func (s *IdleSampler) Count() uint32 { return s.count.Load() }

// Mask returns the decimation mask.
func (s *IdleSampler) Mask() uint32 { return s.mask.Load() }

// SetMask replaces the decimation mask.
func (s *IdleSampler) SetMask(mask uint32) { s.mask.Store(mask) }

// Samples returns the recorded timestamps, oldest first.
func (s *IdleSampler) Samples() []uint32 {
	next := s.next.Load()
	n := min(next, DiagRingSize)
	out := make([]uint32, 0, n)
	for i := next - n; i != next; i++ {
		out = append(out, s.ring[i%DiagRingSize].Load())
	}
	return out
}

// IdleTask is the lowest-priority background loop feeding an IdleSampler.
// It yields after every tick so it only runs when nothing else wants the CPU.
type IdleTask struct {
	sampler *IdleSampler
}

// NewIdleTask creates the background task for sampler.
func NewIdleTask(sampler *IdleSampler) *IdleTask {
	return &IdleTask{sampler: sampler}
}

// Run increments the sampler until ctx is done. It always returns nil.
func (t *IdleTask) Run(ctx context.Context) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			return nil
		default:
		}
		t.sampler.Increment()
		runtime.Gosched()
	}
}
