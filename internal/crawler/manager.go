package crawler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/citehub/citehub/internal/logger"
)

// FieldStore persists a source's configured field values.
type FieldStore interface {
	SaveFields(values map[string]string) error
}

// FieldInfo describes one source configuration field and its current value.
type FieldInfo struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// SourceInfo describes one configured source.
type SourceInfo struct {
	Namespace string      `json:"namespace"`
	Fields    []FieldInfo `json:"fields"`
}

type managedSource struct {
	source Source
	task   *Task
	fields FieldStore
	values map[string]string
}

// Manager ties the registry, the tasks, and the scheduler together for
// configuration changes arriving from the API. A single write lock serializes
// field updates against readers, so no reader ever observes a partial write.
type Manager struct {
	registry  *Registry
	scheduler *Scheduler
	log       logger.Logger

	mu      sync.RWMutex
	entries map[string]*managedSource
}

// NewManager creates a manager over the given registry and scheduler.
func NewManager(registry *Registry, scheduler *Scheduler, log logger.Logger) *Manager {
	return &Manager{
		registry:  registry,
		scheduler: scheduler,
		log:       log,
		entries:   make(map[string]*managedSource),
	}
}

// Track starts managing a registered source, its task, and its field
// persistence. values holds the field values already applied at startup.
func (m *Manager) Track(src Source, task *Task, fields FieldStore, values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]string, len(values))
	for key, val := range values {
		copied[key] = val
	}
	m.entries[src.Namespace()] = &managedSource{
		source: src,
		task:   task,
		fields: fields,
		values: copied,
	}
}

// Namespaces returns the tracked namespaces in registration order.
func (m *Manager) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var namespaces []string
	for _, ns := range m.registry.Namespaces() {
		if _, ok := m.entries[ns]; ok {
			namespaces = append(namespaces, ns)
		}
	}
	return namespaces
}

// Sources enumerates every tracked source with its field keys, descriptions,
// and current values.
func (m *Manager) Sources() []SourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []SourceInfo
	for _, ns := range m.registry.Namespaces() {
		entry, ok := m.entries[ns]
		if !ok {
			continue
		}

		fields := make([]FieldInfo, 0, len(entry.source.Fields()))
		for key, description := range entry.source.Fields() {
			fields = append(fields, FieldInfo{
				Key:         key,
				Description: description,
				Value:       entry.values[key],
			})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

		infos = append(infos, SourceInfo{Namespace: ns, Fields: fields})
	}
	return infos
}

// UpdateFields applies a batch of field updates. The whole batch is validated
// first; an unknown namespace or field rejects the request with nothing
// applied. Each updated source has its values persisted and its task dropped
// back to the initial stage, and the scheduler is woken once at the end.
func (m *Manager) UpdateFields(updates map[string]map[string]string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ns, values := range updates {
		entry, ok := m.entries[ns]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, ns)
		}
		declared := entry.source.Fields()
		for key := range values {
			if _, ok := declared[key]; !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, ns, key)
			}
		}
	}

	updated := make([]string, 0, len(updates))
	for ns, values := range updates {
		entry := m.entries[ns]
		for key, val := range values {
			if err := entry.source.SetField(key, val); err != nil {
				return nil, fmt.Errorf("failed to set %s.%s: %w", ns, key, err)
			}
			entry.values[key] = val
		}
		if err := entry.fields.SaveFields(entry.values); err != nil {
			return nil, fmt.Errorf("failed to persist fields for %s: %w", ns, err)
		}
		if err := entry.task.Reset(); err != nil {
			return nil, fmt.Errorf("failed to reset task for %s: %w", ns, err)
		}
		updated = append(updated, ns)

		m.log.Info("source fields updated",
			logger.String("source", ns),
			logger.Int("fields", len(values)))
	}
	sort.Strings(updated)

	m.scheduler.Wake()
	return updated, nil
}
