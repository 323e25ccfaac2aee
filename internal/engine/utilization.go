package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/time/rate"
)

// UtilizationConfig calibrates the idle-tick to duty-cycle conversion and
// the hogging detector.
type UtilizationConfig struct {
	// Total is the utilization scale representing 100%.
	Total uint32
	// Mult1, Div and Mult2 convert an interval's idle ticks to idle units:
	// idle = ((ticks * Mult1) / Div) * Mult2.
	Mult1 uint32
	Mult2 uint32
	Div   uint32
	// Mask is the idle sampler decimation mask.
	Mask uint32
	// CallsPerMark is the number of time-sync signals per measured interval.
	CallsPerMark uint32
	// HoggingThreshold is the utilization above which a cycle counts as hogging.
	HoggingThreshold uint32
	// MaxHoggingCycles is how many consecutive hogging cycles are tolerated.
	MaxHoggingCycles uint32
	// AverageIntervals and PeakIntervals size the rolling windows.
	AverageIntervals int
	PeakIntervals    int
	// HogReportInterval is the minimum wall time between two hogging reports.
	HogReportInterval time.Duration
}

// DefaultUtilizationConfig returns an identity calibration in 0.01% units.
func DefaultUtilizationConfig() UtilizationConfig {
	return UtilizationConfig{
		Total:             10000,
		Mult1:             1,
		Mult2:             1,
		Div:               1,
		Mask:              DefaultUtilMask,
		CallsPerMark:      1,
		HoggingThreshold:  9900,
		MaxHoggingCycles:  5,
		AverageIntervals:  4,
		PeakIntervals:     64,
		HogReportInterval: time.Minute,
	}
}

// Validate checks the configuration.
func (c UtilizationConfig) Validate() error {
	var err error
	if c.Total == 0 {
		err = errors.Join(err, errors.New("total must be positive"))
	}
	if c.Mult1 == 0 || c.Mult2 == 0 || c.Div == 0 {
		err = errors.Join(err, ErrInvalidCalibration)
	}
	if c.CallsPerMark == 0 {
		err = errors.Join(err, errors.New("calls per mark must be positive"))
	}
	if c.AverageIntervals <= 0 || c.PeakIntervals <= 0 {
		err = errors.Join(err, errors.New("window sizes must be positive"))
	}
	if c.AverageIntervals > c.PeakIntervals {
		err = errors.Join(err, fmt.Errorf("average window %d exceeds peak window %d",
			c.AverageIntervals, c.PeakIntervals))
	}
	if c.HogReportInterval < 0 {
		err = errors.Join(err, errors.New("hog report interval must not be negative"))
	}
	return err
}

// UtilizationSnapshot is the rolling utilization state.
type UtilizationSnapshot struct {
	Current       uint32 `json:"current"`
	Average       uint32 `json:"average"`
	Peak          uint32 `json:"peak"`
	Hogging       bool   `json:"hogging"`
	HoggingCycles uint32 `json:"hogging_cycles"`
}

// IntervalCount is one bucket of the diagnostics report.
type IntervalCount struct {
	Interval uint32 `json:"interval"`
	Count    int    `json:"count"`
}

// DiagnosticsReport ranks the most frequent timestamp deltas in the idle
// sampler ring. Used to calibrate the mask and conversion factors.
type DiagnosticsReport struct {
	Top  []IntervalCount `json:"top"`
	Mask uint32          `json:"mask"`
}

// diagTopN is how many distinct deltas the diagnostics report keeps.
const diagTopN = 4

// UtilizationMonitor converts idle ticks into a duty cycle and detects
// sustained CPU hogging. Everything except the sampler is foreground state.
type UtilizationMonitor struct {
	cfg     UtilizationConfig
	sampler *IdleSampler
	limiter *rate.Limiter

	markCalls    uint32
	lastMark     uint32
	haveMark     bool
	lastInterval uint32
	haveInterval bool

	samples []uint32
	next    int
	filled  int
	current uint32

	hoggingCycles uint32
	hogging       bool
}

// NewUtilizationMonitor creates a monitor reading sampler. cfg must be valid.
func NewUtilizationMonitor(cfg UtilizationConfig, sampler *IdleSampler) *UtilizationMonitor {
	sampler.SetMask(cfg.Mask)
	limit := rate.Inf
	if cfg.HogReportInterval > 0 {
		limit = rate.Every(cfg.HogReportInterval)
	}
	return &UtilizationMonitor{
		cfg:     cfg,
		sampler: sampler,
		limiter: rate.NewLimiter(limit, 1),
		samples: make([]uint32, cfg.PeakIntervals),
	}
}

// Mark handles one time-sync signal. Every CallsPerMark signals it closes
// the measured interval. The first mark only sets the baseline.
func (m *UtilizationMonitor) Mark() {
	m.markCalls++
	if m.markCalls < m.cfg.CallsPerMark {
		return
	}
	m.markCalls = 0

	now := m.sampler.Count()
	if m.haveMark {
		m.lastInterval = now - m.lastMark
		m.haveInterval = true
	}
	m.lastMark = now
	m.haveMark = true
}

// LastIntervalTicks returns the idle ticks counted in the last closed interval.
func (m *UtilizationMonitor) LastIntervalTicks() uint32 { return m.lastInterval }

// Utilization converts the last interval into utilization units, clamped to
// [0, Total]. It returns 0 when the divisor is zero.
func (m *UtilizationMonitor) Utilization() uint32 {
	if m.cfg.Div == 0 {
		return 0
	}
	idle := (uint64(m.lastInterval) * uint64(m.cfg.Mult1)) / uint64(m.cfg.Div) * uint64(m.cfg.Mult2)
	if idle >= uint64(m.cfg.Total) {
		return 0
	}
	return m.cfg.Total - uint32(idle)
}

// Cycle runs one monitor cycle: record the current utilization and, when
// checkHog is set, advance the hogging detector. It reports whether a
// hogging report is due; reports are rate limited against now. Cycles
// before the first closed interval are skipped.
func (m *UtilizationMonitor) Cycle(now time.Time, checkHog bool) bool {
	if !m.haveInterval {
		return false
	}

	m.current = m.Utilization()
	m.samples[m.next] = m.current
	m.next = (m.next + 1) % len(m.samples)
	m.filled = min(m.filled+1, len(m.samples))

	if !checkHog {
		return false
	}
	if m.current <= m.cfg.HoggingThreshold {
		m.hoggingCycles = 0
		m.hogging = false
		return false
	}

	m.hoggingCycles++
	if m.hoggingCycles <= m.cfg.MaxHoggingCycles {
		return false
	}
	m.hogging = true
	return m.limiter.AllowN(now, 1)
}

// ClearHogging drops the hogging latch and counter.
func (m *UtilizationMonitor) ClearHogging() {
	m.hoggingCycles = 0
	m.hogging = false
}

// Snapshot returns the current, rolling average and peak utilization.
func (m *UtilizationMonitor) Snapshot() UtilizationSnapshot {
	s := UtilizationSnapshot{
		Current:       m.current,
		Hogging:       m.hogging,
		HoggingCycles: m.hoggingCycles,
	}
	if m.filled == 0 {
		return s
	}

	n := min(m.cfg.AverageIntervals, m.filled)
	var sum uint64
	for i := 1; i <= n; i++ {
		sum += uint64(m.samples[(m.next-i+len(m.samples))%len(m.samples)])
	}
	s.Average = uint32(sum / uint64(n))

	for i := 1; i <= m.filled; i++ {
		s.Peak = max(s.Peak, m.samples[(m.next-i+len(m.samples))%len(m.samples)])
	}
	return s
}

// SetCalibration replaces the conversion factors. Any zero argument is
// rejected with ErrInvalidCalibration and the previous values are kept.
func (m *UtilizationMonitor) SetCalibration(mult1, mult2, div uint32) error {
	if mult1 == 0 || mult2 == 0 || div == 0 {
		return fmt.Errorf("mult1=%d mult2=%d div=%d: %w", mult1, mult2, div, ErrInvalidCalibration)
	}
	m.cfg.Mult1, m.cfg.Mult2, m.cfg.Div = mult1, mult2, div
	return nil
}

// Calibration returns the conversion factors.
func (m *UtilizationMonitor) Calibration() (mult1, mult2, div uint32) {
	return m.cfg.Mult1, m.cfg.Mult2, m.cfg.Div
}

// SetMask replaces the idle sampler decimation mask.
func (m *UtilizationMonitor) SetMask(mask uint32) {
	m.cfg.Mask = mask
	m.sampler.SetMask(mask)
}

// Diagnostics buckets the deltas between consecutive sampler timestamps and
// returns the most frequent ones. Ties keep first-seen order.
func (m *UtilizationMonitor) Diagnostics() DiagnosticsReport {
	stamps := m.sampler.Samples()

	var buckets []IntervalCount
	for i := 1; i < len(stamps); i++ {
		delta := stamps[i] - stamps[i-1]
		idx := slices.IndexFunc(buckets, func(b IntervalCount) bool { return b.Interval == delta })
		if idx < 0 {
			buckets = append(buckets, IntervalCount{Interval: delta, Count: 1})
			continue
		}
		buckets[idx].Count++
	}

	slices.SortStableFunc(buckets, func(a, b IntervalCount) int {
		return b.Count - a.Count
	})
	if len(buckets) > diagTopN {
		buckets = buckets[:diagTopN]
	}
	return DiagnosticsReport{Top: buckets, Mask: m.sampler.Mask()}
}
