// Package crawler implements the resumable crawl core: per-source tasks with
// persisted stages, error backoff, and a due-time scheduler driving them.
package crawler

import (
	"time"

	"github.com/citehub/citehub/internal/domain"
)

// Stage marks how far a source's crawl has progressed. Implementations are
// small structs carrying only the fields needed to resume their phase, and
// are identified by a stable integer tag that is persisted with them.
type Stage interface {
	Tag() int
}

// StepResult is everything one crawl step produced. Step functions return
// facts; the task applies the durable writes after a successful return.
type StepResult struct {
	// New or updated author records
	Authors []domain.Author
	// Publications owned by the tracked subject
	SelfPubs []domain.Publication
	// Target publication id -> newly discovered citing publications
	Citations map[string][]domain.Publication
	// Stage to resume from next. Nil means the crawl cycle is complete and
	// the task loops back to the source's initial stage.
	Next Stage
	// Wait before the next step
	Delay time.Duration
}
