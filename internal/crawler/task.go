package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/fetch"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/metrics"
)

// ErrorDelays is the fixed backoff ladder applied on consecutive step
// failures. The last entry repeats for every failure past the sixth.
var ErrorDelays = []time.Duration{
	time.Second,
	10 * time.Second,
	time.Minute,
	10 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// delayJitterPercent spreads task due times by up to this fraction of the
// step delay, so tasks sharing a delay do not re-fire in lockstep.
const delayJitterPercent = 0.05

// ErrMalformedResult marks a step that returned an unusable result. This is a
// programming defect in the source, distinct from a transient crawl failure,
// and is not retried.
var ErrMalformedResult = errors.New("step returned a malformed result")

// TaskStore is the slice of the record store a task writes through.
type TaskStore interface {
	Save() error
	SaveAuthor(author *domain.Author) error
	LoadPub(id string) (*domain.Publication, error)
	SavePub(pub *domain.Publication) error
	AddPubID(id string)
	LoadTaskState() (data []byte, ok bool, err error)
	SaveTaskState(data []byte) error
}

// taskState is the persisted form of a task's progress.
type taskState struct {
	StageTag int             `json:"stage"`
	Fields   json.RawMessage `json:"fields"`
	Due      time.Time       `json:"due"`
}

// Task is one resumable unit of crawling for one source. It owns its stage
// exclusively; only Step and Reset mutate it.
type Task struct {
	source Source
	store  TaskStore
	stats  *metrics.Metrics
	log    logger.Logger

	mu     sync.Mutex
	stage  Stage
	due    time.Time
	errors int
}

// NewTask builds a task from the source's persisted state, or from its
// initial stage when none exists. A persisted stage tag the source does not
// recognize is a fatal error. stats may be nil.
func NewTask(source Source, store TaskStore, stats *metrics.Metrics, log logger.Logger) (*Task, error) {
	t := &Task{
		source: source,
		store:  store,
		stats:  stats,
		log:    log.With(logger.String("source", source.Namespace())),
	}

	data, ok, err := store.LoadTaskState()
	if err != nil {
		return nil, err
	}
	if !ok {
		t.stage = source.InitialStage()
		return t, nil
	}

	var state taskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("malformed task state for %s: %w", source.Namespace(), err)
	}
	stage, err := source.DecodeStage(state.StageTag, state.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to restore stage for %s: %w", source.Namespace(), err)
	}

	t.stage = stage
	t.due = state.Due
	return t, nil
}

// Namespace returns the task's source namespace.
func (t *Task) Namespace() string {
	return t.source.Namespace()
}

// Due returns the instant the task next becomes eligible to run.
func (t *Task) Due() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.due
}

// ConsecutiveErrors returns the running failure count.
func (t *Task) ConsecutiveErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors
}

// Stage returns the task's current stage.
func (t *Task) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Reset drops the task back to the source's initial stage with an immediate
// due time, persisting the change. Used when the source's configuration
// fields change.
func (t *Task) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stage = t.source.InitialStage()
	t.due = time.Now()
	t.errors = 0
	return t.persist()
}

// Step runs one crawl step and applies its result. Transient step failures
// are absorbed into backoff and return nil; a returned error is a fatal
// defect (malformed result, unusable storage) the caller must surface.
func (t *Task) Step(ctx context.Context, client *fetch.Client) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.source.Step(ctx, t.stage, client)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.errors++
		delay := ErrorDelays[min(t.errors-1, len(ErrorDelays)-1)]
		t.due = time.Now().Add(delay)
		t.stats.RecordStep(t.source.Namespace(), err)
		t.log.Warn("crawl step failed",
			logger.Int("consecutive_errors", t.errors),
			logger.Duration("retry_in", delay),
			logger.Error(err))
		return nil
	}

	if result == nil {
		return fmt.Errorf("%w: %s returned nil", ErrMalformedResult, t.Namespace())
	}
	if result.Delay < 0 {
		return fmt.Errorf("%w: %s returned negative delay %s",
			ErrMalformedResult, t.Namespace(), result.Delay)
	}
	t.errors = 0

	if err := t.apply(result); err != nil {
		return err
	}

	if result.Next != nil {
		t.stage = result.Next
	} else {
		t.stage = t.source.InitialStage()
	}
	t.due = time.Now().Add(result.Delay + jitterFor(result.Delay))

	if err := t.persist(); err != nil {
		return err
	}

	t.stats.RecordStep(t.source.Namespace(), nil)
	t.log.Debug("crawl step applied",
		logger.Int("authors", len(result.Authors)),
		logger.Int("self_pubs", len(result.SelfPubs)),
		logger.Int("citation_targets", len(result.Citations)),
		logger.Int("stage", t.stage.Tag()),
		logger.Time("due", t.due))
	return nil
}

// apply persists everything a successful step produced: authors, the
// subject's own publications, and citation-path unions.
func (t *Task) apply(result *StepResult) error {
	for i := range result.Authors {
		if err := t.store.SaveAuthor(&result.Authors[i]); err != nil {
			return fmt.Errorf("failed to apply author: %w", err)
		}
	}

	for i := range result.SelfPubs {
		pub := &result.SelfPubs[i]
		if err := t.store.SavePub(pub); err != nil {
			return fmt.Errorf("failed to apply publication: %w", err)
		}
		t.store.AddPubID(pub.ID)
	}
	if err := t.store.Save(); err != nil {
		return fmt.Errorf("failed to apply publication index: %w", err)
	}

	for targetID, citing := range result.Citations {
		target, err := t.store.LoadPub(targetID)
		if err != nil {
			return fmt.Errorf("failed to load citation target: %w", err)
		}

		known := make(map[string]struct{}, len(target.CitPaths))
		for _, path := range target.CitPaths {
			known[path] = struct{}{}
		}
		for i := range citing {
			pub := &citing[i]
			if err := t.store.SavePub(pub); err != nil {
				return fmt.Errorf("failed to apply citing publication: %w", err)
			}
			path := pub.StoragePath()
			if _, ok := known[path]; !ok {
				known[path] = struct{}{}
				target.CitPaths = append(target.CitPaths, path)
			}
		}

		if err := t.store.SavePub(target); err != nil {
			return fmt.Errorf("failed to apply citation target: %w", err)
		}
	}
	return nil
}

// persist writes the stage tag, stage fields, and due time. Callers hold the
// task lock.
func (t *Task) persist() error {
	fields, err := json.Marshal(t.stage)
	if err != nil {
		return fmt.Errorf("failed to encode stage for %s: %w", t.Namespace(), err)
	}
	data, err := json.MarshalIndent(taskState{
		StageTag: t.stage.Tag(),
		Fields:   fields,
		Due:      t.due,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task state for %s: %w", t.Namespace(), err)
	}
	if err := t.store.SaveTaskState(data); err != nil {
		return fmt.Errorf("failed to persist task state for %s: %w", t.Namespace(), err)
	}
	return nil
}

// jitterFor draws a uniform offset in ±delayJitterPercent of the delay.
func jitterFor(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	spread := (rand.Float64()*2 - 1) * delayJitterPercent
	return time.Duration(float64(delay) * spread)
}
