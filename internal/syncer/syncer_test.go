package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/discover"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// fakeStore is an in-memory Store that logs operations in order.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]vectorstore.Entry
	ops     []string
	resets  int
	ensures int

	failDeletePath string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]vectorstore.Entry)}
}

func (f *fakeStore) EnsureCollection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, entries []vectorstore.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	f.ops = append(f.ops, "upsert:"+entries[0].Path)
	return nil
}

func (f *fakeStore) DeleteByPath(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == f.failDeletePath {
		return fmt.Errorf("simulated delete failure")
	}
	for id, e := range f.entries {
		if e.Path == path {
			delete(f.entries, id)
		}
	}
	f.ops = append(f.ops, "delete:"+path)
	return nil
}

func (f *fakeStore) QueryVector(context.Context, []float32, vectorstore.Filter, int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeStore) QueryText(context.Context, string, vectorstore.Filter, int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeStore) Count(_ context.Context, filter vectorstore.Filter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filter.IsZero() {
		return len(f.entries), nil
	}
	var n int
	for _, e := range f.entries {
		if filter.Path == "" || e.Path == filter.Path {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]vectorstore.Entry)
	f.resets++
	f.ops = append(f.ops, "reset")
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) pathChunks(path string) []vectorstore.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vectorstore.Entry
	for _, e := range f.entries {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

// fakeEmbedder returns unit vectors and fails on texts containing the
// fail marker.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failWith error
	failOn   string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, f.failWith
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type fixture struct {
	root     string
	store    *fakeStore
	embedder *fakeEmbedder
	syncer   *Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	d, err := discover.New(discover.Config{Extensions: []string{".md"}}, nil)
	require.NoError(t, err)

	trk, err := tracker.New(filepath.Join(t.TempDir(), "state.json"), nil)
	require.NoError(t, err)

	ext, err := metadata.NewExtractor(`^[A-Za-z][A-Za-z0-9]*-\d+$`)
	require.NoError(t, err)

	chk, err := chunker.New(200, 20)
	require.NoError(t, err)

	store := newFakeStore()
	embedder := &fakeEmbedder{}

	s, err := New(Config{Root: root, Workers: 2}, d, trk, ext, chk, embedder, store, nil)
	require.NoError(t, err)

	return &fixture{root: root, store: store, embedder: embedder, syncer: s}
}

func (fx *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(fx.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// touch moves a file's mtime forward far enough for the tracker's
// second-granularity comparison to notice.
func touch(t *testing.T, path string, delta time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	ts := info.ModTime().Add(delta)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestSyncIndexesNewFiles(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "readme.md", "# Readme\n\nTop level notes.")
	fx.write(t, "ProjA/auth.md", "# Authentication\n\nLogin flows.")

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Unchanged)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, report.Chunks)

	count, _ := fx.store.Count(context.Background(), vectorstore.Filter{})
	assert.Equal(t, 2, count)

	chunks := fx.store.pathChunks(filepath.Join(fx.root, "ProjA", "auth.md"))
	require.Len(t, chunks, 1)
	assert.Equal(t, "ProjA", chunks[0].Context)
	assert.Equal(t, "Authentication", chunks[0].Title)
}

func TestSyncSkipsUnchangedFiles(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "a.md", "# A\n\ncontent")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	callsAfterFirst := fx.embedder.calls

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Zero(t, report.Processed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, callsAfterFirst, fx.embedder.calls)
}

func TestSyncReprocessesModifiedFiles(t *testing.T) {
	fx := newFixture(t)
	path := fx.write(t, "a.md", "# A\n\noriginal")
	fx.write(t, "b.md", "# B\n\nstable")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	fx.write(t, "a.md", "# A\n\nrewritten and longer than before")
	touch(t, path, 2*time.Second)

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Unchanged)

	chunks := fx.store.pathChunks(path)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "rewritten")
}

func TestSyncDeletesBeforeUpserting(t *testing.T) {
	fx := newFixture(t)
	path := fx.write(t, "a.md", "# A\n\noriginal")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	fx.write(t, "a.md", "# A\n\nchanged content here")
	touch(t, path, 2*time.Second)

	_, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	// The second run must delete the path's old entries before the new
	// upsert, so shrinking files never leave stale chunks behind.
	var sawSecondDelete bool
	for _, op := range fx.store.ops[2:] {
		if op == "delete:"+path {
			sawSecondDelete = true
		}
		if op == "upsert:"+path {
			assert.True(t, sawSecondDelete, "upsert happened before delete: %v", fx.store.ops)
		}
	}
	assert.True(t, sawSecondDelete)
}

func TestSyncRemovesDeletedFiles(t *testing.T) {
	fx := newFixture(t)
	path := fx.write(t, "gone.md", "# Gone\n\nsoon removed")
	fx.write(t, "kept.md", "# Kept\n\nstays")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, fx.store.pathChunks(path))

	// The record is gone: a third run sees nothing to delete.
	report, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
}

func TestSyncDryRunTouchesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "a.md", "# A\n\ncontent")

	report, err := fx.syncer.Sync(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Chunks)

	count, _ := fx.store.Count(context.Background(), vectorstore.Filter{})
	assert.Zero(t, count)
	assert.Zero(t, fx.embedder.calls)
	assert.Empty(t, fx.store.ops)

	// Nothing was recorded: a real run still sees the file as new.
	report, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
}

func TestSyncForceResetReindexesEverything(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "a.md", "# A\n\ncontent")
	fx.write(t, "b.md", "# B\n\ncontent")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	report, err := fx.syncer.Sync(context.Background(), Options{ForceReset: true})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.store.resets)
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Unchanged)
}

func TestSyncForceResetFailureRetriedNextRun(t *testing.T) {
	fx := newFixture(t)
	good := fx.write(t, "good.md", "# Good\n\nfine content")
	bad := fx.write(t, "bad.md", "# Bad\n\nFAILME content")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	fx.embedder.failOn = "FAILME"
	fx.embedder.failWith = fmt.Errorf("%w: boom", embeddings.ErrRetryExhausted)
	report, err := fx.syncer.Sync(context.Background(), Options{ForceReset: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, fx.store.pathChunks(bad))
	require.Len(t, fx.store.pathChunks(good), 1)

	// The reset cleared the snapshot along with the store, so the failed
	// file carries no stale record claiming its chunks exist: the next
	// run reindexes it and restores its entries.
	fx.embedder.failOn = ""
	report, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Failed)
	require.Len(t, fx.store.pathChunks(bad), 1)
}

func TestSyncForceResetAbortLeavesNoStaleRecords(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "a.md", "# A\n\ncontent")
	fx.write(t, "b.md", "# B\n\ncontent")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	fx.embedder.failOn = "content"
	fx.embedder.failWith = fmt.Errorf("%w: expected 4, got 7", embeddings.ErrDimensionMismatch)
	_, err = fx.syncer.Sync(context.Background(), Options{ForceReset: true})
	require.ErrorIs(t, err, embeddings.ErrDimensionMismatch)

	// The aborted run had already emptied the store; the snapshot must
	// agree, so the next run rebuilds everything instead of calling the
	// missing files unchanged.
	fx.embedder.failOn = ""
	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Unchanged)
	count, _ := fx.store.Count(context.Background(), vectorstore.Filter{})
	assert.Equal(t, 2, count)
}

func TestSyncIsolatesPerFileFailures(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "good.md", "# Good\n\nfine content")
	fx.write(t, "bad.md", "# Bad\n\nFAILME content")
	fx.embedder.failOn = "FAILME"
	fx.embedder.failWith = fmt.Errorf("%w: boom", embeddings.ErrRetryExhausted)

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, filepath.Join(fx.root, "bad.md"), report.Failures[0].Path)

	// The failed file has no snapshot record, so the next run retries
	// it without reprocessing the good one.
	fx.embedder.failOn = ""
	report, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Failed)
}

func TestSyncAbortsOnFatalError(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "a.md", "# A\n\ncontent")
	fx.embedder.failOn = "content"
	fx.embedder.failWith = fmt.Errorf("%w: expected 4, got 7", embeddings.ErrDimensionMismatch)

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
}

func TestSyncHandlesEmptyFiles(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "empty.md", "")

	report, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Chunks)
	count, _ := fx.store.Count(context.Background(), vectorstore.Filter{})
	assert.Zero(t, count)

	// Recorded as synced: not retried next run.
	report, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
}

func TestSyncPropagatesWorkItems(t *testing.T) {
	fx := newFixture(t)
	path := fx.write(t, "ProjA/PROJ-42/notes.md", "# Notes\n\ndetail")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	chunks := fx.store.pathChunks(path)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"PROJ-42"}, chunks[0].WorkItems)
	assert.Equal(t, "PROJ-42", chunks[0].Context)
}

func TestChunkIDDeterminism(t *testing.T) {
	a := ChunkID("/corpus/a.md", 0, "abc123")
	b := ChunkID("/corpus/a.md", 0, "abc123")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ChunkID("/corpus/a.md", 1, "abc123"))
	assert.NotEqual(t, a, ChunkID("/corpus/a.md", 0, "def456"))
	assert.NotEqual(t, a, ChunkID("/corpus/b.md", 0, "abc123"))

	// Valid UUID format, usable as a Qdrant point ID.
	assert.Len(t, a, 36)
}

func TestSyncStableIDsAcrossRuns(t *testing.T) {
	fx := newFixture(t)
	path := fx.write(t, "a.md", "# A\n\nstable content")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)
	first := fx.store.pathChunks(path)
	require.Len(t, first, 1)

	// Touch without changing content: reprocessed, same chunk ID.
	touch(t, path, 2*time.Second)
	_, err = fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	second := fx.store.pathChunks(path)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestContexts(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "readme.md", "# Readme\n\ntext")
	fx.write(t, "ProjA/a.md", "# A\n\ntext")
	fx.write(t, "ProjA/b.md", "# B\n\ntext")

	_, err := fx.syncer.Sync(context.Background(), Options{})
	require.NoError(t, err)

	contexts, err := fx.syncer.Contexts()
	require.NoError(t, err)
	require.Len(t, contexts, 2)

	assert.Equal(t, "ProjA", contexts[0].Name)
	assert.Equal(t, 2, contexts[0].Files)
	assert.Equal(t, 2, contexts[0].Chunks)
	assert.Equal(t, metadata.RootContext, contexts[1].Name)
	assert.Equal(t, 1, contexts[1].Files)
}

func TestNewValidatesDependencies(t *testing.T) {
	fx := newFixture(t)
	_, err := New(Config{}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)

	_, err = New(Config{Root: fx.root}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}
