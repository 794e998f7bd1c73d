package crawler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/citehub/citehub/internal/crawler"
	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/fetch"
)

var errRecordNotFound = errors.New("record not found")

// stageOne and stageTwo are the two crawl phases fake sources move between.
type stageOne struct {
	Cursor int `json:"cursor"`
}

func (stageOne) Tag() int { return 0 }

type stageTwo struct {
	Offset int `json:"offset"`
}

func (stageTwo) Tag() int { return 1 }

// fakeSource is a hand-rolled Source whose behavior tests override per case.
type fakeSource struct {
	ns       string
	initial  crawler.Stage
	fields   map[string]string
	setField func(key, value string) error
	decode   func(tag int, fields json.RawMessage) (crawler.Stage, error)
	step     func(ctx context.Context, stage crawler.Stage, client *fetch.Client) (*crawler.StepResult, error)
}

func (f *fakeSource) Namespace() string { return f.ns }

func (f *fakeSource) InitialStage() crawler.Stage {
	if f.initial != nil {
		return f.initial
	}
	return stageOne{}
}

func (f *fakeSource) Fields() map[string]string {
	if f.fields != nil {
		return f.fields
	}
	return map[string]string{}
}

func (f *fakeSource) SetField(key, value string) error {
	if f.setField != nil {
		return f.setField(key, value)
	}
	if _, ok := f.Fields()[key]; !ok {
		return fmt.Errorf("%w: %s", crawler.ErrUnknownField, key)
	}
	return nil
}

func (f *fakeSource) DecodeStage(tag int, fields json.RawMessage) (crawler.Stage, error) {
	if f.decode != nil {
		return f.decode(tag, fields)
	}
	switch tag {
	case 0:
		var s stageOne
		if err := json.Unmarshal(fields, &s); err != nil {
			return nil, err
		}
		return s, nil
	case 1:
		var s stageTwo
		if err := json.Unmarshal(fields, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %d", crawler.ErrUnknownStageTag, tag)
	}
}

func (f *fakeSource) Step(
	ctx context.Context, stage crawler.Stage, client *fetch.Client,
) (*crawler.StepResult, error) {
	if f.step != nil {
		return f.step(ctx, stage, client)
	}
	return &crawler.StepResult{Delay: time.Hour}, nil
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu        sync.Mutex
	authors   map[string]domain.Author
	pubs      map[string]domain.Publication
	ids       map[string]struct{}
	taskState []byte
	saveCalls int
}

func newMemStore() *memStore {
	return &memStore{
		authors: make(map[string]domain.Author),
		pubs:    make(map[string]domain.Publication),
		ids:     make(map[string]struct{}),
	}
}

func (m *memStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	return nil
}

func (m *memStore) SaveAuthor(author *domain.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authors[author.ID] = *author
	return nil
}

func (m *memStore) LoadPub(id string) (*domain.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pub, ok := m.pubs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errRecordNotFound, id)
	}
	copied := pub
	return &copied, nil
}

func (m *memStore) SavePub(pub *domain.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubs[pub.ID] = *pub
	return nil
}

func (m *memStore) AddPubID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = struct{}{}
}

func (m *memStore) LoadTaskState() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taskState == nil {
		return nil, false, nil
	}
	return m.taskState, true, nil
}

func (m *memStore) SaveTaskState(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskState = data
	return nil
}

func (m *memStore) pubIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	return ids
}

// withDue seeds a persisted task state so NewTask restores the given stage
// and due time.
func (m *memStore) withDue(stage crawler.Stage, due time.Time) *memStore {
	fields, err := json.Marshal(stage)
	if err != nil {
		panic(err)
	}
	state, err := json.Marshal(map[string]any{
		"stage":  stage.Tag(),
		"fields": json.RawMessage(fields),
		"due":    due,
	})
	if err != nil {
		panic(err)
	}
	m.taskState = state
	return m
}
