// Package registry keeps the in-process liveness counters watched by the
// Application Monitor and reported as execution counters.
//
// Each resource (task, child task, device, ISR) owns a monotonically
// increasing counter it bumps whenever it makes progress. The registry is
// safe for concurrent use: resources beat from their own goroutines while
// the engine reads on the cycle goroutine.
package registry

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/hswatch/internal/ir"
)

type key struct {
	name string
	kind ir.ResourceKind
}

// Registry maps (name, kind) to a liveness counter.
type Registry struct {
	mu       sync.RWMutex
	counters map[key]*atomic.Uint32
	desc     *prometheus.Desc
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		counters: make(map[key]*atomic.Uint32),
		desc: prometheus.NewDesc(
			"hswatch_liveness_count",
			"Liveness counter by resource name and kind",
			[]string{"name", "kind"}, nil,
		),
	}
}

// Register creates the counter for name if it does not exist. KindNone
// resources cannot be registered.
func (r *Registry) Register(name string, kind ir.ResourceKind) bool {
	if kind == ir.KindNone || strings.TrimSpace(name) == "" {
		return false
	}
	r.counter(name, kind)
	return true
}

// Beat increments name's application counter, registering it on first use.
// It implements engine.Beater.
func (r *Registry) Beat(name string) {
	r.Increment(name, ir.KindAppMain)
}

// Increment bumps the counter for (name, kind), registering it on first use.
func (r *Registry) Increment(name string, kind ir.ResourceKind) {
	if kind == ir.KindNone {
		return
	}
	r.counter(name, kind).Add(1)
}

// Set stores an absolute count for (name, kind), registering it on first use.
// Used by resources that keep their own counters.
func (r *Registry) Set(name string, kind ir.ResourceKind, count uint32) {
	if kind == ir.KindNone {
		return
	}
	r.counter(name, kind).Store(count)
}

// LivenessCount implements engine.LivenessRegistry.
func (r *Registry) LivenessCount(name string, kind ir.ResourceKind) (uint32, bool) {
	r.mu.RLock()
	c, ok := r.counters[key{ir.NormalizeName(name), kind}]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

// Entry is one registered counter.
type Entry struct {
	Name  string          `json:"name"`
	Kind  ir.ResourceKind `json:"kind"`
	Count uint32          `json:"count"`
}

// Snapshot returns every counter sorted by name, then kind.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.counters))
	for k, c := range r.counters {
		out = append(out, Entry{Name: k.name, Kind: k.kind, Count: c.Load()})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Kind) - int(b.Kind)
	})
	return out
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.desc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, e := range r.Snapshot() {
		ch <- prometheus.MustNewConstMetric(r.desc, prometheus.CounterValue,
			float64(e.Count), e.Name, e.Kind.String())
	}
}

func (r *Registry) counter(name string, kind ir.ResourceKind) *atomic.Uint32 {
	k := key{ir.NormalizeName(name), kind}

	r.mu.RLock()
	c, ok := r.counters[k]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[k]; ok {
		return c
	}
	c = &atomic.Uint32{}
	r.counters[k] = c
	return c
}
