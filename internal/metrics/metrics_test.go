package metrics_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citehub/citehub/internal/metrics"
)

func TestRecordStepCountsSuccessesAndFailures(t *testing.T) {
	m := metrics.New()

	m.RecordStep("scholar", nil)
	m.RecordStep("scholar", errors.New("timed out"))
	m.RecordStep("scopus", nil)

	snap := m.Snapshot()

	scholar := snap.Sources["scholar"]
	require.EqualValues(t, 2, scholar.StepsRun)
	require.EqualValues(t, 1, scholar.StepFailures)
	require.Equal(t, "timed out", scholar.LastError)
	require.False(t, scholar.LastStep.IsZero())

	scopus := snap.Sources["scopus"]
	require.EqualValues(t, 1, scopus.StepsRun)
	require.EqualValues(t, 0, scopus.StepFailures)
	require.Empty(t, scopus.LastError)
}

func TestRecordStepClearsLastErrorOnSuccess(t *testing.T) {
	m := metrics.New()

	m.RecordStep("scholar", errors.New("timed out"))
	m.RecordStep("scholar", nil)

	snap := m.Snapshot()
	require.Empty(t, snap.Sources["scholar"].LastError)
	require.EqualValues(t, 1, snap.Sources["scholar"].StepFailures)
}

func TestRecordSweep(t *testing.T) {
	m := metrics.New()

	m.RecordSweep(3, nil)
	m.RecordSweep(0, errors.New("store unavailable"))

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.Merge.Sweeps)
	require.EqualValues(t, 1, snap.Merge.SweepFailures)
	// A failed sweep keeps the last successful match count.
	require.Equal(t, 3, snap.Merge.LastMatches)
	require.False(t, snap.Merge.LastSweep.IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	m := metrics.New()
	m.RecordStep("scholar", nil)

	snap := m.Snapshot()
	snap.Sources["scholar"] = metrics.SourceStats{StepsRun: 99}

	require.EqualValues(t, 1, m.Snapshot().Sources["scholar"].StepsRun)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *metrics.Metrics

	m.RecordStep("scholar", nil)
	m.RecordSweep(1, nil)

	snap := m.Snapshot()
	require.Empty(t, snap.Sources)
	require.True(t, snap.StartedAt.IsZero())
}
