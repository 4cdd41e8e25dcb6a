// Package health implements the Pattern Health Monitor (C6): a bounded
// ring of success-rate snapshots per pattern, classified into a health
// status, with transition notifications emitted exactly once per change.
package health

import (
	"sync"
	"time"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Status is a pattern's current health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
	StatusBroken   Status = "broken"
	// StatusUnknown is returned when too few samples exist to classify.
	StatusUnknown Status = "unknown"
)

const (
	maxSnapshots       = 30
	maxSnapshotAge     = 30 * 24 * time.Hour
	minSampleSize      = 5
)

// Snapshot is one observed success-rate sample.
type Snapshot struct {
	Timestamp   time.Time
	SuccessRate float64
	SampleSize  int
}

// Health tracks one pattern's ring of snapshots and classification state.
type Health struct {
	Status                Status
	CurrentSuccessRate    float64
	History                []Snapshot
	LastHealthCheck        time.Time
	DegradationDetectedAt  time.Time
	ConsecutiveFailures    int
}

// Transition is emitted exactly once per status change.
type Transition struct {
	PatternID        string
	PreviousStatus   Status
	NewStatus        Status
	SuggestedActions []string
	At               time.Time
}

// Monitor tracks Health per pattern id.
type Monitor struct {
	mu     sync.Mutex
	now    func() time.Time
	states map[string]*Health

	onTransition func(Transition)
}

// Config tunes Monitor behavior.
type Config struct {
	// OnTransition, if set, is invoked synchronously on every status
	// transition (wired to C12 in the composed engine).
	OnTransition func(Transition)
}

// New builds an empty Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{
		now:          time.Now,
		states:       make(map[string]*Health),
		onTransition: cfg.OnTransition,
	}
}

func (m *Monitor) stateFor(patternID string) *Health {
	h, ok := m.states[patternID]
	if !ok {
		h = &Health{Status: StatusUnknown}
		m.states[patternID] = h
	}
	return h
}

// classify applies the success-rate/consecutive-failure thresholds.
// Evaluation requires sampleSize >= minSampleSize; below that, the
// previous status is kept.
func classify(successRate float64, consecutiveFailures, sampleSize int) (Status, bool) {
	if sampleSize < minSampleSize {
		return "", false
	}
	switch {
	case successRate >= 0.7 && consecutiveFailures < 3:
		return StatusHealthy, true
	case successRate < 0.2:
		return StatusBroken, true
	case successRate < 0.5:
		return StatusFailing, true
	default:
		return StatusDegraded, true
	}
}

// Record appends an observed outcome for patternID (success or failure),
// updates the rolling snapshot history, and reclassifies. It returns the
// Transition if a status change occurred this call.
func (m *Monitor) Record(patternID string, success bool, failuresByCategory map[core.FailureCategory]int64) *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.stateFor(patternID)
	now := m.now()

	if success {
		h.ConsecutiveFailures = 0
	} else {
		h.ConsecutiveFailures++
	}

	// Derive this call's rolling rate from the bounded history plus the
	// new observation, rather than needing the caller to hand in raw
	// totals.
	rate, n := rollingRate(h.History, success)

	// Each stored snapshot holds exactly this one observation, so the
	// next rollingRate call sums the window without recounting samples.
	observed := 0.0
	if success {
		observed = 1
	}
	snapshot := Snapshot{Timestamp: now, SuccessRate: observed, SampleSize: 1}
	h.History = appendBoundedSnapshots(h.History, snapshot)
	h.CurrentSuccessRate = rate
	h.LastHealthCheck = now

	newStatus, evaluated := classify(rate, h.ConsecutiveFailures, n)
	if !evaluated {
		return nil
	}

	previous := h.Status
	if newStatus == previous {
		if newStatus != StatusHealthy && h.DegradationDetectedAt.IsZero() {
			h.DegradationDetectedAt = now
		}
		return nil
	}

	h.Status = newStatus
	if newStatus == StatusHealthy {
		h.DegradationDetectedAt = time.Time{}
	} else if h.DegradationDetectedAt.IsZero() {
		h.DegradationDetectedAt = now
	}

	t := Transition{
		PatternID:        patternID,
		PreviousStatus:   previous,
		NewStatus:        newStatus,
		SuggestedActions: suggestActions(newStatus, failuresByCategory),
		At:               now,
	}
	if m.onTransition != nil {
		m.onTransition(t)
	}
	return &t
}

// rollingRate computes a success rate over the bounded history window
// plus one new observation, capping the window at maxSnapshots samples of
// size 1 each (i.e. one observation per snapshot).
func rollingRate(history []Snapshot, latestSuccess bool) (float64, int) {
	successes := 0
	total := 0
	for _, snap := range history {
		total += snap.SampleSize
		successes += int(snap.SuccessRate * float64(snap.SampleSize))
	}
	total++
	if latestSuccess {
		successes++
	}
	if total == 0 {
		return 0, 0
	}
	return float64(successes) / float64(total), total
}

func appendBoundedSnapshots(history []Snapshot, s Snapshot) []Snapshot {
	cutoff := s.Timestamp.Add(-maxSnapshotAge)
	filtered := history[:0:0]
	for _, h := range history {
		if h.Timestamp.After(cutoff) {
			filtered = append(filtered, h)
		}
	}
	filtered = append(filtered, s)
	if len(filtered) > maxSnapshots {
		filtered = filtered[len(filtered)-maxSnapshots:]
	}
	return filtered
}

func suggestActions(status Status, failuresByCategory map[core.FailureCategory]int64) []string {
	if status == StatusHealthy {
		return nil
	}
	var dominant core.FailureCategory
	var max int64
	for cat, count := range failuresByCategory {
		if count > max {
			max = count
			dominant = cat
		}
	}

	switch dominant {
	case core.FailureAuthRequired:
		return []string{"review credentials or session blob", "consider skip_domain via anti-pattern"}
	case core.FailureRateLimited:
		return []string{"increase min_delay_ms on the per-domain scheduler", "reduce requests_per_minute"}
	case core.FailureWrongEndpoint:
		return []string{"re-learn the pattern from a fresh successful fetch", "check endpoint_template for drift"}
	case core.FailureParseError, core.FailureValidationFail, core.FailureContentTooShort:
		return []string{"review content_mapping and validation rules", "consider escalating to the next tier"}
	default:
		if status == StatusBroken {
			return []string{"archive the pattern and fall back to the next tier"}
		}
		return []string{"monitor for further degradation"}
	}
}

// Get returns the current Health for a pattern, if any samples exist.
func (m *Monitor) Get(patternID string) (Health, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.states[patternID]
	if !ok {
		return Health{}, false
	}
	return *h, true
}
