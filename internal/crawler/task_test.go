package crawler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/fetch"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/metrics"
)

func newTestTask(t *testing.T, src crawler.Source, store crawler.TaskStore) *crawler.Task {
	t.Helper()
	task, err := crawler.NewTask(src, store, nil, logger.NewNop())
	require.NoError(t, err)
	return task
}

func TestTaskBackoffLadder(t *testing.T) {
	tests := []struct {
		failures int
		delay    time.Duration
	}{
		{failures: 1, delay: time.Second},
		{failures: 2, delay: 10 * time.Second},
		{failures: 3, delay: time.Minute},
		{failures: 4, delay: 10 * time.Minute},
		{failures: 5, delay: time.Hour},
		{failures: 6, delay: 24 * time.Hour},
		{failures: 7, delay: 24 * time.Hour},
		{failures: 9, delay: 24 * time.Hour},
	}

	for _, tt := range tests {
		src := &fakeSource{
			ns: "flaky",
			step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
				return nil, errors.New("upstream unavailable")
			},
		}
		task := newTestTask(t, src, newMemStore())

		for i := 0; i < tt.failures; i++ {
			require.NoError(t, task.Step(context.Background(), nil))
		}

		require.Equal(t, tt.failures, task.ConsecutiveErrors())
		wait := time.Until(task.Due())
		require.InDelta(t, tt.delay.Seconds(), wait.Seconds(), 2.0,
			"failure %d should wait %s", tt.failures, tt.delay)
	}
}

func TestTaskFailureKeepsStageAndState(t *testing.T) {
	src := &fakeSource{
		ns: "flaky",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return nil, errors.New("boom")
		},
	}
	store := newMemStore()
	task := newTestTask(t, src, store)

	require.NoError(t, task.Step(context.Background(), nil))

	require.Equal(t, stageOne{}, task.Stage())
	require.Nil(t, store.taskState, "failed steps must not persist state")
}

func TestTaskSuccessResetsErrorCount(t *testing.T) {
	fail := true
	src := &fakeSource{
		ns: "recovering",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return &crawler.StepResult{Next: stageTwo{Offset: 1}, Delay: time.Minute}, nil
		},
	}
	task := newTestTask(t, src, newMemStore())

	for i := 0; i < 3; i++ {
		require.NoError(t, task.Step(context.Background(), nil))
	}
	require.Equal(t, 3, task.ConsecutiveErrors())

	fail = false
	require.NoError(t, task.Step(context.Background(), nil))
	require.Equal(t, 0, task.ConsecutiveErrors())
	require.Equal(t, stageTwo{Offset: 1}, task.Stage())
}

func TestTaskDueJitterStaysWithinFivePercent(t *testing.T) {
	const delay = 10 * time.Hour
	src := &fakeSource{
		ns: "jittery",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{Delay: delay}, nil
		},
	}
	task := newTestTask(t, src, newMemStore())

	min := time.Duration(float64(delay) * 0.95)
	max := time.Duration(float64(delay) * 1.05)
	for i := 0; i < 200; i++ {
		before := time.Now()
		require.NoError(t, task.Step(context.Background(), nil))
		wait := task.Due().Sub(before)
		require.GreaterOrEqual(t, wait, min-time.Second)
		require.LessOrEqual(t, wait, max+time.Second)
	}
}

func TestTaskZeroDelayGetsNoJitter(t *testing.T) {
	src := &fakeSource{
		ns: "eager",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{Next: stageTwo{}}, nil
		},
	}
	task := newTestTask(t, src, newMemStore())

	before := time.Now()
	require.NoError(t, task.Step(context.Background(), nil))
	require.False(t, task.Due().Before(before))
	require.LessOrEqual(t, time.Until(task.Due()), time.Second)
}

func TestTaskMalformedResult(t *testing.T) {
	tests := []struct {
		name   string
		result *crawler.StepResult
	}{
		{name: "nil result", result: nil},
		{name: "negative delay", result: &crawler.StepResult{Delay: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				ns: "broken",
				step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
					return tt.result, nil
				},
			}
			task := newTestTask(t, src, newMemStore())

			err := task.Step(context.Background(), nil)
			require.ErrorIs(t, err, crawler.ErrMalformedResult)
		})
	}
}

func TestTaskStepAppliesResult(t *testing.T) {
	author := domain.Author{ID: "a1", Name: "Grace Hopper"}
	self := domain.Publication{ID: "p1", Name: "Compilers", Cites: 2}
	citing := []domain.Publication{
		{ID: "c1", Name: "Survey"},
		{ID: "c2", Name: "Follow-up"},
	}
	src := &fakeSource{
		ns: "prolific",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{
				Authors:   []domain.Author{author},
				SelfPubs:  []domain.Publication{self},
				Citations: map[string][]domain.Publication{"p1": citing},
				Next:      stageTwo{},
				Delay:     time.Minute,
			}, nil
		},
	}
	store := newMemStore()
	task := newTestTask(t, src, store)

	require.NoError(t, task.Step(context.Background(), nil))

	require.Equal(t, author, store.authors["a1"])
	require.ElementsMatch(t, []string{"p1"}, store.pubIDs())
	require.Contains(t, store.pubs, "c1")
	require.Contains(t, store.pubs, "c2")

	target := store.pubs["p1"]
	require.ElementsMatch(t,
		[]string{domain.PathFor("c1"), domain.PathFor("c2")},
		target.CitPaths)
	require.Equal(t, 1, store.saveCalls)
}

func TestTaskCitationLinksAreIdempotent(t *testing.T) {
	src := &fakeSource{
		ns: "repeat",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{
				SelfPubs: []domain.Publication{{ID: "p1", Name: "Paper"}},
				Citations: map[string][]domain.Publication{
					"p1": {{ID: "c1", Name: "Citer"}},
				},
				Delay: time.Minute,
			}, nil
		},
	}
	store := newMemStore()
	task := newTestTask(t, src, store)

	require.NoError(t, task.Step(context.Background(), nil))
	require.NoError(t, task.Step(context.Background(), nil))

	target := store.pubs["p1"]
	require.Equal(t, []string{domain.PathFor("c1")}, target.CitPaths)
}

func TestTaskCitationTargetMustExist(t *testing.T) {
	src := &fakeSource{
		ns: "dangling",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{
				Citations: map[string][]domain.Publication{
					"ghost": {{ID: "c1"}},
				},
				Delay: time.Minute,
			}, nil
		},
	}
	task := newTestTask(t, src, newMemStore())

	err := task.Step(context.Background(), nil)
	require.ErrorIs(t, err, errRecordNotFound)
}

func TestTaskNilNextWrapsToInitialStage(t *testing.T) {
	src := &fakeSource{
		ns:      "cyclic",
		initial: stageOne{Cursor: 5},
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{Delay: time.Hour}, nil
		},
	}
	task := newTestTask(t, src, newMemStore())

	require.NoError(t, task.Step(context.Background(), nil))
	require.Equal(t, stageOne{Cursor: 5}, task.Stage())
}

func TestTaskStateRoundTrip(t *testing.T) {
	src := &fakeSource{
		ns: "durable",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{Next: stageTwo{Offset: 7}, Delay: time.Hour}, nil
		},
	}
	store := newMemStore()

	first := newTestTask(t, src, store)
	require.NoError(t, first.Step(context.Background(), nil))

	second := newTestTask(t, src, store)
	require.Equal(t, stageTwo{Offset: 7}, second.Stage())
	require.True(t, second.Due().Equal(first.Due()),
		"restored due %s, want %s", second.Due(), first.Due())
}

func TestTaskRejectsUnknownPersistedStage(t *testing.T) {
	store := newMemStore().withDue(stageTwo{}, time.Now())
	var state map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(store.taskState, &state))
	state["stage"] = json.RawMessage("99")
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	store.taskState = raw

	_, err = crawler.NewTask(&fakeSource{ns: "strict"}, store, nil, logger.NewNop())
	require.ErrorIs(t, err, crawler.ErrUnknownStageTag)
}

func TestTaskStepHonorsCancellation(t *testing.T) {
	src := &fakeSource{
		ns: "slow",
		step: func(ctx context.Context, _ crawler.Stage, _ *fetch.Client) (*crawler.StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	task := newTestTask(t, src, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := task.Step(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, task.ConsecutiveErrors(),
		"cancellation must not count as a source failure")
}

func TestTaskResetRestoresInitialStage(t *testing.T) {
	src := &fakeSource{
		ns: "resettable",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			return &crawler.StepResult{Next: stageTwo{Offset: 3}, Delay: 24 * time.Hour}, nil
		},
	}
	store := newMemStore()
	task := newTestTask(t, src, store)

	require.NoError(t, task.Step(context.Background(), nil))
	require.Equal(t, stageTwo{Offset: 3}, task.Stage())

	require.NoError(t, task.Reset())
	require.Equal(t, stageOne{}, task.Stage())
	require.LessOrEqual(t, time.Until(task.Due()), time.Second)

	restored := newTestTask(t, src, store)
	require.Equal(t, stageOne{}, restored.Stage(), "reset must be persisted")
}

func TestTaskRecordsStepMetrics(t *testing.T) {
	fail := true
	src := &fakeSource{
		ns: "counted",
		step: func(context.Context, crawler.Stage, *fetch.Client) (*crawler.StepResult, error) {
			if fail {
				return nil, errors.New("upstream 503")
			}
			return &crawler.StepResult{Delay: time.Hour}, nil
		},
	}
	stats := metrics.New()
	task, err := crawler.NewTask(src, newMemStore(), stats, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, task.Step(context.Background(), nil))
	fail = false
	require.NoError(t, task.Step(context.Background(), nil))

	counted := stats.Snapshot().Sources["counted"]
	require.EqualValues(t, 2, counted.StepsRun)
	require.EqualValues(t, 1, counted.StepFailures)
	require.Empty(t, counted.LastError)
}
