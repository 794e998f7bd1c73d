// Package storage persists crawl records as JSON files under a single root
// directory, partitioned by source namespace.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/logger"
)

const (
	indexFile  = "index.json"
	fieldsFile = "fields.json"
	taskFile   = "task.json"
	authorsDir = "authors"
	pubsDir    = "pubs"
	mergesDir  = "merges"

	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	// ErrPubNotFound is returned when a publication id has no stored record.
	ErrPubNotFound = errors.New("publication not found")
)

// sourceIndex is the persisted form of a source's index state.
type sourceIndex struct {
	// Ids of the publications owned by the tracked subject
	SubjectPubIDs []string `json:"subject_pub_ids"`
}

// Store is a file-backed record store. One Store owns the whole data root;
// per-source views are handed out via Source. Methods are safe for concurrent
// readers against the single crawl writer.
type Store struct {
	root string
	log  logger.Logger

	mu     sync.RWMutex
	pubIDs map[string]map[string]struct{}
	merges map[string][]domain.MergeRecord
}

// New opens (creating if needed) the store rooted at root and loads any
// previously persisted merge records.
func New(root string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	s := &Store{
		root:   root,
		log:    log,
		pubIDs: make(map[string]map[string]struct{}),
		merges: make(map[string][]domain.MergeRecord),
	}
	if err := s.loadMerges(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// Source returns the per-namespace view handed to that source's task.
func (s *Store) Source(ns string) *SourceStore {
	return &SourceStore{store: s, ns: ns}
}

// SubjectPublications resolves a source's subject publication-id set to its
// stored records. Ids whose record file went missing are skipped.
func (s *Store) SubjectPublications(ns string) ([]domain.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.pubIDs[ns]
	if !ok {
		loaded, err := s.readIndex(ns)
		if err != nil {
			return nil, err
		}
		ids = loaded
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	pubs := make([]domain.Publication, 0, len(sorted))
	for _, id := range sorted {
		var pub domain.Publication
		found, err := readJSON(s.pubPath(ns, id), &pub)
		if err != nil {
			return nil, fmt.Errorf("failed to read publication %s/%s: %w", ns, id, err)
		}
		if !found {
			s.log.Warn("indexed publication has no record file",
				logger.String("source", ns),
				logger.String("pub", id))
			continue
		}
		pubs = append(pubs, pub)
	}
	return pubs, nil
}

func (s *Store) nsPath(ns string) string {
	return filepath.Join(s.root, domain.PathFor(ns))
}

func (s *Store) pubPath(ns, id string) string {
	return filepath.Join(s.nsPath(ns), pubsDir, domain.PathFor(id)+".json")
}

func (s *Store) authorPath(ns, id string) string {
	return filepath.Join(s.nsPath(ns), authorsDir, domain.PathFor(id)+".json")
}

// readIndex loads a namespace's persisted id set without touching the cache.
// Callers hold at least a read lock.
func (s *Store) readIndex(ns string) (map[string]struct{}, error) {
	var index sourceIndex
	if _, err := readJSON(filepath.Join(s.nsPath(ns), indexFile), &index); err != nil {
		return nil, fmt.Errorf("failed to read index for %s: %w", ns, err)
	}
	ids := make(map[string]struct{}, len(index.SubjectPubIDs))
	for _, id := range index.SubjectPubIDs {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// SourceStore is the slice of the store scoped to one source namespace. It is
// the storage collaborator a task writes through.
type SourceStore struct {
	store *Store
	ns    string
}

// Namespace returns the source namespace this view is scoped to.
func (ss *SourceStore) Namespace() string {
	return ss.ns
}

// Load reads the source's persisted index state into memory. A source that
// never persisted loads as empty.
func (ss *SourceStore) Load() error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	ids, err := ss.store.readIndex(ss.ns)
	if err != nil {
		return err
	}
	ss.store.pubIDs[ss.ns] = ids
	return nil
}

// Save persists the source's index state.
func (ss *SourceStore) Save() error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	ids := ss.store.pubIDs[ss.ns]
	index := sourceIndex{SubjectPubIDs: make([]string, 0, len(ids))}
	for id := range ids {
		index.SubjectPubIDs = append(index.SubjectPubIDs, id)
	}
	sort.Strings(index.SubjectPubIDs)

	if err := writeJSON(filepath.Join(ss.store.nsPath(ss.ns), indexFile), &index); err != nil {
		return fmt.Errorf("failed to save index for %s: %w", ss.ns, err)
	}
	return nil
}

// SaveAuthor persists one author record.
func (ss *SourceStore) SaveAuthor(author *domain.Author) error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	if err := writeJSON(ss.store.authorPath(ss.ns, author.ID), author); err != nil {
		return fmt.Errorf("failed to save author %s/%s: %w", ss.ns, author.ID, err)
	}
	return nil
}

// LoadPub reads one publication record. A missing record is ErrPubNotFound.
func (ss *SourceStore) LoadPub(id string) (*domain.Publication, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()

	var pub domain.Publication
	found, err := readJSON(ss.store.pubPath(ss.ns, id), &pub)
	if err != nil {
		return nil, fmt.Errorf("failed to read publication %s/%s: %w", ss.ns, id, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrPubNotFound, ss.ns, id)
	}
	return &pub, nil
}

// SavePub persists one publication record.
func (ss *SourceStore) SavePub(pub *domain.Publication) error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	if err := writeJSON(ss.store.pubPath(ss.ns, pub.ID), pub); err != nil {
		return fmt.Errorf("failed to save publication %s/%s: %w", ss.ns, pub.ID, err)
	}
	return nil
}

// PubIDs returns the subject's publication ids, sorted.
func (ss *SourceStore) PubIDs() []string {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()

	ids := make([]string, 0, len(ss.store.pubIDs[ss.ns]))
	for id := range ss.store.pubIDs[ss.ns] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddPubID unions one id into the subject's publication set. Duplicate ids
// are idempotent.
func (ss *SourceStore) AddPubID(id string) {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	ids, ok := ss.store.pubIDs[ss.ns]
	if !ok {
		ids = make(map[string]struct{})
		ss.store.pubIDs[ss.ns] = ids
	}
	ids[id] = struct{}{}
}

// LoadTaskState reads the persisted task state. ok is false when the source
// has never persisted one.
func (ss *SourceStore) LoadTaskState() (data []byte, ok bool, err error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()

	data, err = os.ReadFile(filepath.Join(ss.store.nsPath(ss.ns), taskFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read task state for %s: %w", ss.ns, err)
	}
	return data, true, nil
}

// SaveTaskState persists the task state written after every step.
func (ss *SourceStore) SaveTaskState(data []byte) error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	path := filepath.Join(ss.store.nsPath(ss.ns), taskFile)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create source directory for %s: %w", ss.ns, err)
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to save task state for %s: %w", ss.ns, err)
	}
	return nil
}

// DeleteTaskState removes the persisted task state so the next run starts the
// source from its initial stage. Deleting a state that does not exist is not
// an error.
func (ss *SourceStore) DeleteTaskState() error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	err := os.Remove(filepath.Join(ss.store.nsPath(ss.ns), taskFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete task state for %s: %w", ss.ns, err)
	}
	return nil
}

// LoadFields reads the source's configured field values. A source that was
// never configured loads as empty.
func (ss *SourceStore) LoadFields() (map[string]string, error) {
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()

	values := make(map[string]string)
	if _, err := readJSON(filepath.Join(ss.store.nsPath(ss.ns), fieldsFile), &values); err != nil {
		return nil, fmt.Errorf("failed to read fields for %s: %w", ss.ns, err)
	}
	return values, nil
}

// SaveFields persists the source's configured field values.
func (ss *SourceStore) SaveFields(values map[string]string) error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	if err := writeJSON(filepath.Join(ss.store.nsPath(ss.ns), fieldsFile), values); err != nil {
		return fmt.Errorf("failed to save fields for %s: %w", ss.ns, err)
	}
	return nil
}

// readJSON decodes the JSON file at path into v. found is false when the file
// does not exist.
func readJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("malformed JSON in %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON encodes v into the JSON file at path, creating parent directories
// on demand.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), filePerm)
}

// subjectFromMergeFile recovers the subject name from a merges file name.
func subjectFromMergeFile(name string) (string, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return "", false
	}
	subject, err := url.QueryUnescape(base)
	if err != nil {
		return "", false
	}
	return subject, true
}
