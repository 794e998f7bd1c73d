package merge

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/metrics"
)

const (
	// DefaultPeriod is the timed-sweep cadence when no period or cron
	// schedule is configured.
	DefaultPeriod = 24 * time.Hour
	// DefaultThreshold is the similarity a title pair must reach to count as
	// the same publication.
	DefaultThreshold = 0.9
)

// Store is the slice of the record store the merger reads publications from
// and publishes merge sets through.
type Store interface {
	SubjectPublications(ns string) ([]domain.Publication, error)
	SaveMerges(subject string, records []domain.MergeRecord) error
}

// Merger cross-references the subject's publications between every pair of
// configured sources and publishes the qualifying title matches as the
// subject's merge set. Sweeps run on a timed cadence and on demand.
type Merger struct {
	store      Store
	log        logger.Logger
	subject    string
	namespaces []string

	period    time.Duration
	threshold float64
	schedule  cron.Schedule
	stats     *metrics.Metrics

	force chan struct{}
}

// Option adjusts how a Merger sweeps.
type Option func(*Merger)

// WithPeriod overrides the fixed sweep period.
func WithPeriod(period time.Duration) Option {
	return func(m *Merger) { m.period = period }
}

// WithThreshold overrides the merge similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(m *Merger) { m.threshold = threshold }
}

// WithSchedule replaces the fixed period with a cron schedule.
func WithSchedule(schedule cron.Schedule) Option {
	return func(m *Merger) { m.schedule = schedule }
}

// WithMetrics records sweep counters into stats.
func WithMetrics(stats *metrics.Metrics) Option {
	return func(m *Merger) { m.stats = stats }
}

// New creates a merger for one subject across the given source namespaces.
func New(store Store, subject string, namespaces []string, log logger.Logger, opts ...Option) *Merger {
	m := &Merger{
		store:      store,
		log:        log,
		subject:    subject,
		namespaces: append([]string(nil), namespaces...),
		period:     DefaultPeriod,
		threshold:  DefaultThreshold,
		force:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForceMerge schedules an immediate sweep. It reports true when this call
// newly scheduled one and false when a sweep was already pending.
func (m *Merger) ForceMerge() bool {
	select {
	case m.force <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run sweeps until the context is cancelled: once per period boundary (or
// cron tick) and once per force request, whichever arrives first. A failed
// sweep is logged and the cadence continues.
func (m *Merger) Run(ctx context.Context) error {
	m.log.Info("merger started",
		logger.String("subject", m.subject),
		logger.Strings("sources", m.namespaces))

	for {
		timer := time.NewTimer(m.nextWait(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("merger stopped")
			return ctx.Err()
		case <-m.force:
			timer.Stop()
		case <-timer.C:
		}

		if err := m.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				m.log.Info("merger stopped")
				return ctx.Err()
			}
			m.log.Error("merge sweep failed", logger.Error(err))
		}
	}
}

// nextWait returns how long the timed trigger sleeps from now.
func (m *Merger) nextWait(now time.Time) time.Duration {
	if m.schedule != nil {
		return m.schedule.Next(now).Sub(now)
	}
	return m.period
}

// Sweep compares the subject's publications across every unordered source
// pair and atomically replaces the subject's merge set with the qualifying
// matches. The comparison loop yields between pairs so a large sweep never
// monopolizes the process.
func (m *Merger) Sweep(ctx context.Context) error {
	start := time.Now()
	log := m.log.With(
		logger.String("sweep_id", uuid.NewString()),
		logger.String("subject", m.subject))
	log.Info("merge sweep started")

	pubs := make(map[string][]domain.Publication, len(m.namespaces))
	for _, ns := range m.namespaces {
		records, err := m.store.SubjectPublications(ns)
		if err != nil {
			err = fmt.Errorf("failed to load %s publications: %w", ns, err)
			m.stats.RecordSweep(0, err)
			return err
		}
		pubs[ns] = records
	}

	var records []domain.MergeRecord
	compared := 0
	for i, nsA := range m.namespaces {
		for _, nsB := range m.namespaces[i+1:] {
			for _, pubA := range pubs[nsA] {
				for _, pubB := range pubs[nsB] {
					if err := yield(ctx); err != nil {
						return err
					}
					compared++

					score := Similarity(pubA.Name, pubB.Name)
					if score >= m.threshold {
						records = append(records, domain.MergeRecord{
							SourceA:    nsA,
							SourceB:    nsB,
							PubA:       pubA.ID,
							PubB:       pubB.ID,
							Similarity: score,
						})
					}
				}
			}
		}
	}

	if err := m.store.SaveMerges(m.subject, records); err != nil {
		err = fmt.Errorf("failed to publish merge records: %w", err)
		m.stats.RecordSweep(0, err)
		return err
	}

	m.stats.RecordSweep(len(records), nil)
	log.Info("merge sweep finished",
		logger.Int("comparisons", compared),
		logger.Int("merges", len(records)),
		logger.Duration("took", time.Since(start)))
	return nil
}

// yield hands control back between pair comparisons and stops promptly on
// cancellation.
func yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}
