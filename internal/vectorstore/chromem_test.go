package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVectorSize = 4

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:       t.TempDir(),
		Collection: "corpusd_test",
		VectorSize: testVectorSize,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(context.Background()))
	return store
}

func testEntries() []Entry {
	return []Entry{
		{
			ID:        "11111111-1111-1111-1111-111111111111",
			Vector:    []float32{1, 0, 0, 0},
			Text:      "Authentication service requirements. Login flows and session tokens.",
			Path:      "/corpus/ProjA/auth.md",
			Context:   "ProjA",
			Title:     "Authentication",
			Keywords:  []string{"authentication", "login", "proja"},
			WorkItems: []string{"PROJ-101"},
			Ordinal:   0,
		},
		{
			ID:        "22222222-2222-2222-2222-222222222222",
			Vector:    []float32{0, 1, 0, 0},
			Text:      "Billing pipeline design. Invoices are generated nightly.",
			Path:      "/corpus/ProjB/billing.md",
			Context:   "ProjB",
			Title:     "Billing",
			Keywords:  []string{"billing", "invoices", "projb"},
			WorkItems: []string{"PROJ-202"},
			Ordinal:   0,
		},
		{
			ID:        "33333333-3333-3333-3333-333333333333",
			Vector:    []float32{0, 0.9, 0.1, 0},
			Text:      "Billing retries. Failed invoices are retried with backoff.",
			Path:      "/corpus/ProjB/billing.md",
			Context:   "ProjB",
			Title:     "Billing",
			Keywords:  []string{"billing", "retries", "projb"},
			WorkItems: []string{"PROJ-202"},
			Ordinal:   1,
		},
	}
}

func TestChromemStoreUpsertAndCount(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testEntries()))

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestChromemStoreUpsertRejectsEmpty(t *testing.T) {
	store := newTestChromemStore(t)
	require.ErrorIs(t, store.Upsert(context.Background(), nil), ErrEmptyEntries)
}

func TestChromemStoreUpsertRejectsWrongDimension(t *testing.T) {
	store := newTestChromemStore(t)
	err := store.Upsert(context.Background(), []Entry{{
		ID:     "44444444-4444-4444-4444-444444444444",
		Vector: []float32{1, 0},
		Text:   "short vector",
	}})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemStoreQueryVector(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	results, err := store.QueryVector(ctx, []float32{0, 1, 0, 0}, Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", results[0].ID)
	assert.Equal(t, "Billing", results[0].Title)
	assert.Equal(t, []string{"PROJ-202"}, results[0].WorkItems)
}

func TestChromemStoreQueryVectorWithContextFilter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	results, err := store.QueryVector(ctx, []float32{1, 0, 0, 0}, Filter{Context: "ProjB"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "ProjB", r.Context)
	}
}

func TestChromemStoreQueryVectorWithWorkItemFilter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	results, err := store.QueryVector(ctx, []float32{1, 0, 0, 0}, Filter{WorkItem: "PROJ-101"}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", results[0].ID)
}

func TestChromemStoreQueryText(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	results, err := store.QueryText(ctx, "billing invoices", Filter{}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "ProjB", results[0].Context)
	for _, r := range results {
		assert.Positive(t, r.Score)
	}
}

func TestChromemStoreDeleteByPath(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	require.NoError(t, store.DeleteByPath(ctx, "/corpus/ProjB/billing.md"))

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The deleted path has zero entries at rest; the other survives.
	count, err = store.Count(ctx, Filter{Path: "/corpus/ProjB/billing.md"})
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = store.Count(ctx, Filter{Path: "/corpus/ProjA/auth.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Deleting a path with no entries is not an error.
	require.NoError(t, store.DeleteByPath(ctx, "/corpus/missing.md"))
}

func TestChromemStoreFilteredCount(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	count, err := store.Count(ctx, Filter{Context: "ProjB"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.Count(ctx, Filter{WorkItem: "PROJ-101"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.Count(ctx, Filter{Keyword: "retries"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.Count(ctx, Filter{Context: "ProjC"})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChromemStoreUpsertOverwritesByID(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	entries := testEntries()
	require.NoError(t, store.Upsert(ctx, entries))

	entries[0].Text = "Rewritten authentication chunk."
	require.NoError(t, store.Upsert(ctx, entries[:1]))

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := store.QueryVector(ctx, []float32{1, 0, 0, 0}, Filter{Path: "/corpus/ProjA/auth.md"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Rewritten authentication chunk.", results[0].Text)
}

func TestChromemStoreReset(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testEntries()))

	require.NoError(t, store.Reset(ctx))

	count, err := store.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	// The collection is usable again after the reset.
	require.NoError(t, store.Upsert(ctx, testEntries()[:1]))
}

func TestChromemStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := ChromemConfig{Path: dir, Collection: "corpusd_test", VectorSize: testVectorSize}
	ctx := context.Background()

	store, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx))
	require.NoError(t, store.Upsert(ctx, testEntries()))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	count, err := reopened.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestChromemStoreEmptyCollectionQueries(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	vecResults, err := store.QueryVector(ctx, []float32{1, 0, 0, 0}, Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, vecResults)

	textResults, err := store.QueryText(ctx, "anything", Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, textResults)
}
