package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/hswatch/internal/ir"
)

// LivenessRegistry resolves a resource name to its current execution count.
// The second result is false when the resource cannot be resolved.
type LivenessRegistry interface {
	LivenessCount(name string, kind ir.ResourceKind) (uint32, bool)
}

// Beater is implemented by registries that accept heartbeats. When the
// engine's registry is a Beater the engine beats its own name once per cycle.
type Beater interface {
	Beat(name string)
}

// Bus transmits a message-action payload.
type Bus interface {
	Send(payload []byte) error
}

// ResetActuator performs the processor reset. It may not return.
type ResetActuator interface {
	PerformProcessorReset() error
}

// ErrBlockNotFound is returned by PersistentBlock.ReadBlock before the first write.
var ErrBlockNotFound = errors.New("persistent block not found")

// PersistentBlock stores the Reset Guard block across restarts.
// WriteBlock must replace the whole block in a single write.
type PersistentBlock interface {
	ReadBlock(ctx context.Context) ([]byte, error)
	WriteBlock(ctx context.Context, block []byte) error
}

// ResetRecord describes one reset accepted by the Reset Guard.
type ResetRecord struct {
	BootID string             `json:"boot_id"`
	Cycle  int64              `json:"cycle"`
	Origin string             `json:"origin"`
	State  ir.ResetGuardState `json:"state"`
}

// ResetJournal is implemented by persistent blocks that also keep a reset
// history. The Reset Guard appends to it after the counter is persisted.
type ResetJournal interface {
	RecordReset(ctx context.Context, rec ResetRecord) error
}

// ErrTableUnavailable is returned by TableSource.Acquire when no valid table
// can be leased this cycle.
var ErrTableUnavailable = errors.New("table unavailable")

// TableSource leases a rule table. Acquire is called once per cycle and the
// engine copies what it keeps, so a source may reuse the returned slice.
// changed reports whether the contents differ from the previous successful
// Acquire.
type TableSource[T any] interface {
	Acquire() (rows []T, changed bool, err error)
}

// EventCategory selects one of the two fault-event message streams.
type EventCategory int

const (
	CategoryLong EventCategory = iota
	CategoryShort
)

func (c EventCategory) String() string {
	switch c {
	case CategoryLong:
		return "long"
	case CategoryShort:
		return "short"
	default:
		return "unknown"
	}
}

// EventSubscriber manages the engine's fault-event subscriptions.
type EventSubscriber interface {
	Subscribe(cat EventCategory) error
	Unsubscribe(cat EventCategory) error
}

// WatchdogTimer is an external hardware or OS watchdog serviced once per cycle.
type WatchdogTimer interface {
	Service() error
}

// TimeSource supplies wall-clock time for the idle sampler and report rate limiting.
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// SystemTime returns the TimeSource backed by time.Now.
func SystemTime() TimeSource { return systemTime{} }
