package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/citehub/citehub/internal/fetch"
)

var (
	// ErrEmptyNamespace is returned when a source declares no namespace.
	ErrEmptyNamespace = errors.New("source namespace is empty")
	// ErrDuplicateNamespace is returned when a namespace is registered twice.
	ErrDuplicateNamespace = errors.New("source namespace already registered")
	// ErrNoInitialStage is returned when a source declares no initial stage.
	ErrNoInitialStage = errors.New("source has no initial stage")
	// ErrUnknownSource is returned for a namespace no source is registered
	// under.
	ErrUnknownSource = errors.New("unknown source")
	// ErrUnknownField is returned by sources for a configuration key they do
	// not declare.
	ErrUnknownField = errors.New("unknown source field")
	// ErrUnknownStageTag is returned by sources when a persisted stage tag
	// matches none of their declared stages.
	ErrUnknownStageTag = errors.New("unknown stage tag")
)

// Source is one external publication source. Implementations translate a
// remote API or page set into domain records, one resumable step at a time.
type Source interface {
	// Namespace is the stable key used for storage partitioning.
	Namespace() string
	// InitialStage is the starting state for a fresh subject.
	InitialStage() Stage
	// Fields maps every required configuration key to its description.
	Fields() map[string]string
	// SetField applies one configuration value. Unknown keys are an error.
	SetField(key, value string) error
	// DecodeStage rebuilds a stage from its persisted tag and fields. An
	// unrecognized tag must fail with ErrUnknownStageTag, never default.
	DecodeStage(tag int, fields json.RawMessage) (Stage, error)
	// Step runs one crawl step. It must be repeatable and must not write
	// durable state itself.
	Step(ctx context.Context, stage Stage, client *fetch.Client) (*StepResult, error)
}

// Registry holds the configured sources, keyed by namespace, in registration
// order.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source. It enforces that the source names a unique
// namespace and supplies a decodable initial stage.
func (r *Registry) Register(src Source) error {
	ns := src.Namespace()
	if ns == "" {
		return ErrEmptyNamespace
	}

	initial := src.InitialStage()
	if initial == nil {
		return fmt.Errorf("%w: %s", ErrNoInitialStage, ns)
	}
	fields, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("initial stage of %s does not encode: %w", ns, err)
	}
	if _, err := src.DecodeStage(initial.Tag(), fields); err != nil {
		return fmt.Errorf("initial stage of %s does not decode: %w", ns, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[ns]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNamespace, ns)
	}
	r.sources[ns] = src
	r.order = append(r.order, ns)
	return nil
}

// Get returns the source registered under a namespace.
func (r *Registry) Get(ns string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, ns)
	}
	return src, nil
}

// Namespaces returns the registered namespaces in registration order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
