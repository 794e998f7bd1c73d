package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citehub/citehub/internal/domain"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.New(t.TempDir(), logger.NewNop())
	require.NoError(t, err)
	return store
}

func TestPublicationRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")

	pub := &domain.Publication{
		ID:        "AbC:123",
		Name:      "Deep Learning",
		Authors:   []string{"J Doe", "R Roe"},
		Publisher: "Nature",
		Year:      2015,
		Cites:     42,
		CitPaths:  []string{"x%3A1"},
	}
	require.NoError(t, src.SavePub(pub))

	loaded, err := src.LoadPub("AbC:123")
	require.NoError(t, err)
	require.Equal(t, pub, loaded)
}

func TestLoadPubNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")

	_, err := src.LoadPub("missing")
	require.ErrorIs(t, err, storage.ErrPubNotFound)
}

func TestAuthorSave(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")

	author := &domain.Author{
		ID:           "u1",
		Name:         "Jane Doe",
		Affiliation:  "MIT",
		Interests:    []string{"ml"},
		HIndex:       12,
		CitesPerYear: map[int]int{2020: 7},
	}
	require.NoError(t, src.SaveAuthor(author))
}

func TestPubIDSetRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")
	require.NoError(t, src.Load())

	src.AddPubID("p2")
	src.AddPubID("p1")
	src.AddPubID("p1") // duplicates coalesce
	require.Equal(t, []string{"p1", "p2"}, src.PubIDs())
	require.NoError(t, src.Save())

	// A fresh store over the same root sees the persisted set.
	reopened, err := storage.New(store.Root(), logger.NewNop())
	require.NoError(t, err)
	reSrc := reopened.Source("scholar")
	require.NoError(t, reSrc.Load())
	require.Equal(t, []string{"p1", "p2"}, reSrc.PubIDs())
}

func TestSubjectPublications(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")
	require.NoError(t, src.Load())

	require.NoError(t, src.SavePub(&domain.Publication{ID: "p1", Name: "X"}))
	require.NoError(t, src.SavePub(&domain.Publication{ID: "p2", Name: "Y"}))
	src.AddPubID("p1")
	src.AddPubID("p2")
	src.AddPubID("gone") // indexed but never written; must be skipped

	pubs, err := store.SubjectPublications("scholar")
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	require.Equal(t, "p1", pubs[0].ID)
	require.Equal(t, "p2", pubs[1].ID)
}

func TestTaskStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scopus")

	_, ok, err := src.LoadTaskState()
	require.NoError(t, err)
	require.False(t, ok)

	state := []byte(`{"stage": 1, "fields": {}, "due": "2026-01-02T15:04:05Z"}`)
	require.NoError(t, src.SaveTaskState(state))

	loaded, ok, err := src.LoadTaskState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, loaded)

	require.NoError(t, src.DeleteTaskState())
	_, ok, err = src.LoadTaskState()
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting twice is fine.
	require.NoError(t, src.DeleteTaskState())
}

func TestFieldsRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	src := store.Source("scholar")

	values, err := src.LoadFields()
	require.NoError(t, err)
	require.Empty(t, values)

	require.NoError(t, src.SaveFields(map[string]string{"user": "AbC123"}))

	values, err = src.LoadFields()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"user": "AbC123"}, values)
}

func TestMergesReplaceAndRelated(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	first := []domain.MergeRecord{
		{SourceA: "scholar", SourceB: "scopus", PubA: "p1", PubB: "q1", Similarity: 1.0},
		{SourceA: "scholar", SourceB: "aminer", PubA: "p1", PubB: "r9", Similarity: 1.0},
	}
	require.NoError(t, store.SaveMerges("Jane Doe", first))

	refs := store.Related("scholar", "p1")
	require.ElementsMatch(t, []domain.MergeRef{
		{Source: "scopus", Pub: "q1"},
		{Source: "aminer", Pub: "r9"},
	}, refs)

	// Symmetric lookup from the other side.
	refs = store.Related("scopus", "q1")
	require.Equal(t, []domain.MergeRef{{Source: "scholar", Pub: "p1"}}, refs)

	// A new sweep replaces the set; stale records must disappear.
	second := []domain.MergeRecord{
		{SourceA: "scholar", SourceB: "scopus", PubA: "p2", PubB: "q2", Similarity: 1.0},
	}
	require.NoError(t, store.SaveMerges("Jane Doe", second))
	require.Empty(t, store.Related("scholar", "p1"))
	require.Len(t, store.Related("scholar", "p2"), 1)

	// Records survive a reopen.
	reopened, err := storage.New(store.Root(), logger.NewNop())
	require.NoError(t, err)
	require.Equal(t, second, reopened.Merges("Jane Doe"))
	require.Len(t, reopened.Related("scopus", "q2"), 1)
}

func TestRelatedUnknownPub(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.Empty(t, store.Related("scholar", "nope"))
}
