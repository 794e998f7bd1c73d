package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/logger"
)

// SaveMerges replaces a subject's merge record set. The file is written to a
// temporary name and renamed, and the in-memory set swapped under the lock,
// so readers see either the old complete set or the new one.
func (s *Store) SaveMerges(subject string, records []domain.MergeRecord) error {
	dir := filepath.Join(s.root, mergesDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create merges directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode merge records: %w", err)
	}

	path := filepath.Join(dir, domain.PathFor(subject)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), filePerm); err != nil {
		return fmt.Errorf("failed to write merge records: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace merge records: %w", err)
	}

	s.mu.Lock()
	s.merges[subject] = append([]domain.MergeRecord(nil), records...)
	s.mu.Unlock()
	return nil
}

// Merges returns a copy of a subject's current merge record set.
func (s *Store) Merges(subject string) []domain.MergeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MergeRecord(nil), s.merges[subject]...)
}

// Related returns every publication in another source recorded as a match for
// the given one. The lookup is symmetric: a record (a, b) answers for both
// sides.
func (s *Store) Related(source, pubID string) []domain.MergeRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []domain.MergeRef
	for _, records := range s.merges {
		for i := range records {
			rec := &records[i]
			switch {
			case rec.SourceA == source && rec.PubA == pubID:
				refs = append(refs, domain.MergeRef{Source: rec.SourceB, Pub: rec.PubB})
			case rec.SourceB == source && rec.PubB == pubID:
				refs = append(refs, domain.MergeRef{Source: rec.SourceA, Pub: rec.PubA})
			}
		}
	}
	return refs
}

// loadMerges reads every persisted merge set under the merges directory.
func (s *Store) loadMerges() error {
	dir := filepath.Join(s.root, mergesDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read merges directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		subject, ok := subjectFromMergeFile(entry.Name())
		if !ok {
			s.log.Warn("skipping unrecognized file in merges directory",
				logger.String("file", entry.Name()))
			continue
		}

		var records []domain.MergeRecord
		found, err := readJSON(filepath.Join(dir, entry.Name()), &records)
		if err != nil {
			return fmt.Errorf("failed to load merge records for %s: %w", subject, err)
		}
		if found {
			s.merges[subject] = records
		}
	}
	return nil
}
