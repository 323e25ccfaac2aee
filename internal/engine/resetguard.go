package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/hswatch/internal/ir"
)

// DefaultMaxResets bounds watchdog-triggered processor resets when no valid
// persisted maximum exists.
const DefaultMaxResets uint16 = 5

// ResetGuard bounds how many processor resets the watchdog may trigger,
// persistently across restarts.
//
// The guard's counters live in an 8-byte block holding each value next to
// its bitwise complement. A block that fails the complement check is never
// trusted: the performed count falls back to zero.
type ResetGuard struct {
	block      PersistentBlock
	log        *slog.Logger
	defaultMax uint16

	state ir.ResetGuardState
	inUse bool
}

// NewResetGuard creates a guard backed by block. Call Load before use.
func NewResetGuard(block PersistentBlock, defaultMax uint16, log *slog.Logger) *ResetGuard {
	if log == nil {
		log = slog.Default()
	}
	return &ResetGuard{
		block:      block,
		log:        log,
		defaultMax: defaultMax,
		state:      ir.NewResetGuardState(0, defaultMax),
	}
}

// Load reads and validates the persisted block.
//
//   - absent block: defaults are written
//   - read error: defaults are used in memory, the store is marked not in use
//   - corrupt block: performed resets to 0, max is kept when its own pair
//     validates (else defaulted), the store is marked not in use
//
// The returned error wraps ErrResetGuardCorrupt or ErrPersistFailed; the
// guard is usable in every case.
func (g *ResetGuard) Load(ctx context.Context) error {
	b, err := g.block.ReadBlock(ctx)
	if errors.Is(err, ErrBlockNotFound) {
		g.state = ir.NewResetGuardState(0, g.defaultMax)
		return g.persist(ctx)
	}
	if err != nil {
		g.state = ir.NewResetGuardState(0, g.defaultMax)
		g.inUse = false
		return fmt.Errorf("read reset guard block: %w: %w", ErrPersistFailed, err)
	}

	var s ir.ResetGuardState
	if err := s.UnmarshalBinary(b); err != nil {
		g.state = ir.NewResetGuardState(0, g.defaultMax)
		g.inUse = false
		return fmt.Errorf("%w: %w", ErrResetGuardCorrupt, err)
	}
	if err := s.Validate(); err != nil {
		maxResets := g.defaultMax
		if s.MaxValid() {
			maxResets = s.MaxResets
		}
		g.state = ir.NewResetGuardState(0, maxResets)
		g.inUse = false
		return fmt.Errorf("%w: %w", ErrResetGuardCorrupt, err)
	}

	g.state = s
	g.inUse = true
	return nil
}

// RequestReset performs a guarded processor reset.
//
// The reset is refused with ErrResetLimitReached once performed reaches
// max, and with ErrPersistFailed when the incremented count cannot be made
// durable. Otherwise the count is persisted, journaled when the block keeps
// a journal, and the actuator is invoked. An actuator error is returned
// wrapped in ErrActuatorFailed; the increment stands.
func (g *ResetGuard) RequestReset(ctx context.Context, rec ResetRecord, act ResetActuator) error {
	if g.state.ResetsPerformed >= g.state.MaxResets {
		return fmt.Errorf("%d of %d performed: %w",
			g.state.ResetsPerformed, g.state.MaxResets, ErrResetLimitReached)
	}

	prev := g.state
	g.state = ir.NewResetGuardState(prev.ResetsPerformed+1, prev.MaxResets)
	if err := g.persist(ctx); err != nil {
		g.state = prev
		return err
	}

	if j, ok := g.block.(ResetJournal); ok {
		rec.State = g.state
		if err := j.RecordReset(ctx, rec); err != nil {
			g.log.Warn("reset journal write failed",
				"boot_id", rec.BootID,
				"cycle", rec.Cycle,
				"error", err,
			)
		}
	}

	if err := act.PerformProcessorReset(); err != nil {
		return fmt.Errorf("%w: %w", ErrActuatorFailed, err)
	}
	return nil
}

// Set overrides both values, resyncs the complements and persists.
func (g *ResetGuard) Set(ctx context.Context, performed, maxResets uint16) error {
	g.state = ir.NewResetGuardState(performed, maxResets)
	return g.persist(ctx)
}

// State returns the in-memory block.
func (g *ResetGuard) State() ir.ResetGuardState { return g.state }

// InUse reports whether the persistent store currently holds the in-memory state.
func (g *ResetGuard) InUse() bool { return g.inUse }

func (g *ResetGuard) persist(ctx context.Context) error {
	b, err := g.state.MarshalBinary()
	if err == nil {
		err = g.block.WriteBlock(ctx, b)
	}
	if err != nil {
		g.inUse = false
		return fmt.Errorf("write reset guard block: %w: %w", ErrPersistFailed, err)
	}
	g.inUse = true
	return nil
}
