// Package metrics provides progress counters for the crawl and merge loops.
package metrics

import (
	"sync"
	"time"
)

// SourceStats is a point-in-time copy of one source's step counters.
type SourceStats struct {
	StepsRun     int64     `json:"steps_run"`
	StepFailures int64     `json:"step_failures"`
	LastStep     time.Time `json:"last_step"`
	LastError    string    `json:"last_error,omitempty"`
}

// MergeStats is a point-in-time copy of the merge sweep counters.
type MergeStats struct {
	Sweeps        int64     `json:"sweeps"`
	SweepFailures int64     `json:"sweep_failures"`
	LastSweep     time.Time `json:"last_sweep"`
	LastMatches   int       `json:"last_matches"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	StartedAt time.Time              `json:"started_at"`
	Sources   map[string]SourceStats `json:"sources"`
	Merge     MergeStats             `json:"merge"`
}

// Metrics tracks crawl and merge progress. All methods are safe for
// concurrent use and on a nil receiver, so components record
// unconditionally.
type Metrics struct {
	mu        sync.Mutex
	startedAt time.Time
	sources   map[string]*SourceStats
	merge     MergeStats
}

// New creates an empty metrics set.
func New() *Metrics {
	return &Metrics{
		startedAt: time.Now(),
		sources:   make(map[string]*SourceStats),
	}
}

// RecordStep counts one crawl step for the source. A non-nil err marks the
// step as failed.
func (m *Metrics) RecordStep(source string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.sources[source]
	if !ok {
		stats = &SourceStats{}
		m.sources[source] = stats
	}
	stats.StepsRun++
	stats.LastStep = time.Now()
	if err != nil {
		stats.StepFailures++
		stats.LastError = err.Error()
	} else {
		stats.LastError = ""
	}
}

// RecordSweep counts one merge sweep and, when it succeeded, the matches it
// found.
func (m *Metrics) RecordSweep(matches int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.merge.Sweeps++
	m.merge.LastSweep = time.Now()
	if err != nil {
		m.merge.SweepFailures++
		return
	}
	m.merge.LastMatches = matches
}

// Snapshot returns a copy of every counter for reporting.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{Sources: make(map[string]SourceStats)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sources := make(map[string]SourceStats, len(m.sources))
	for ns, stats := range m.sources {
		sources[ns] = *stats
	}
	return Snapshot{
		StartedAt: m.startedAt,
		Sources:   sources,
		Merge:     m.merge,
	}
}
