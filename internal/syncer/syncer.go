// Package syncer orchestrates incremental synchronization: it discovers
// documents, classifies them against the tracker snapshot, and pushes
// new and modified files through extract, chunk, embed, and upsert.
package syncer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/discover"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// chunkNamespace seeds deterministic chunk UUIDs. Never change it:
// existing indexes rely on re-derived IDs overwriting in place.
var chunkNamespace = uuid.MustParse("5e7a3f1c-9d24-4b8a-b7c6-2f0e8a91d364")

// ChunkID derives the deterministic point ID for one chunk. The same
// path, ordinal, and content hash always yield the same UUID, so
// re-syncing an unchanged file overwrites rather than duplicates.
func ChunkID(path string, ordinal int, contentHash string) string {
	name := fmt.Sprintf("%s|%d|%s", path, ordinal, contentHash)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds syncer settings.
type Config struct {
	// Root is the corpus root directory.
	Root string

	// Workers bounds concurrent per-file processing. Default: 4.
	Workers int
}

// Options select per-run behavior.
type Options struct {
	// DryRun reports what a sync would do without touching the store or
	// the snapshot.
	DryRun bool

	// ForceReset drops the collection and the snapshot first, then
	// reindexes everything from scratch.
	ForceReset bool
}

// Failure records one file that could not be synced.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes one synchronization run.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	DryRun     bool          `json:"dry_run"`
	Discovered int           `json:"discovered"`
	Processed  int           `json:"processed"`
	Unchanged  int           `json:"unchanged"`
	Deleted    int           `json:"deleted"`
	Failed     int           `json:"failed"`
	Chunks     int           `json:"chunks"`
	Failures   []Failure     `json:"failures,omitempty"`
}

// ContextInfo summarizes one context label in the index.
type ContextInfo struct {
	Name   string `json:"name"`
	Files  int    `json:"files"`
	Chunks int    `json:"chunks"`
}

// Syncer drives the indexing pipeline.
type Syncer struct {
	config     Config
	discoverer *discover.Discoverer
	tracker    *tracker.Tracker
	extractor  *metadata.Extractor
	chunker    *chunker.Chunker
	embedder   Embedder
	store      vectorstore.Store
	logger     *zap.Logger
}

// New creates a syncer. All dependencies are required.
func New(
	config Config,
	discoverer *discover.Discoverer,
	trk *tracker.Tracker,
	extractor *metadata.Extractor,
	chk *chunker.Chunker,
	embedder Embedder,
	store vectorstore.Store,
	logger *zap.Logger,
) (*Syncer, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("corpus root is required")
	}
	if discoverer == nil || trk == nil || extractor == nil || chk == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("all syncer dependencies are required")
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		config:     config,
		discoverer: discoverer,
		tracker:    trk,
		extractor:  extractor,
		chunker:    chk,
		embedder:   embedder,
		store:      store,
		logger:     logger,
	}, nil
}

// Sync runs one synchronization pass and returns its report.
//
// Failures are isolated per file: a file that cannot be read, chunked,
// or embedded is reported and left with its previous snapshot record so
// the next run retries it, while the rest of the run proceeds. During a
// force reset there is no previous record to keep (the snapshot is
// cleared with the store), so a failed file simply reindexes as new next
// run. Only fatal errors (dimension mismatch, canceled context, snapshot
// write failure) abort the run.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start.UTC(), DryRun: opts.DryRun}

	if err := s.tracker.Load(); err != nil {
		return report, fmt.Errorf("loading snapshot: %w", err)
	}

	if opts.ForceReset && !opts.DryRun {
		if err := s.store.Reset(ctx); err != nil {
			return report, fmt.Errorf("resetting store: %w", err)
		}
		// The store is empty now. Persist an emptied snapshot before
		// reindexing: old records describe entries the reset removed, and
		// carrying one forward for a file that then fails (or an abort
		// mid-run) would classify it unchanged forever while its chunks
		// stay missing. With no record, the next run retries it as new.
		if err := s.tracker.Save(make(map[string]tracker.FileRecord)); err != nil {
			return report, fmt.Errorf("clearing snapshot: %w", err)
		}
	} else if !opts.DryRun {
		if err := s.store.EnsureCollection(ctx); err != nil {
			return report, fmt.Errorf("ensuring collection: %w", err)
		}
	}

	files, err := s.discoverer.Discover(ctx, s.config.Root)
	if err != nil {
		return report, fmt.Errorf("discovering documents: %w", err)
	}
	report.Discovered = len(files)

	stats := make([]tracker.FileStat, len(files))
	byPath := make(map[string]discover.CandidateFile, len(files))
	for i, f := range files {
		stats[i] = tracker.FileStat{Path: f.Path, Context: f.Context, Size: f.Size, ModTime: f.ModTime}
		byPath[f.Path] = f
	}

	cls := s.tracker.Classify(stats)
	if opts.ForceReset {
		// The collection was dropped, so every file reindexes and there
		// is nothing stale left to delete.
		for path := range cls.States {
			cls.States[path] = tracker.StateNew
		}
		cls.Deleted = nil
	}

	next := make(map[string]tracker.FileRecord, len(files))
	var mu sync.Mutex

	for _, path := range cls.Deleted {
		if opts.DryRun {
			report.Deleted++
			continue
		}
		if err := s.store.DeleteByPath(ctx, path); err != nil {
			// Keep the record so the next run retries the deletion.
			report.Failed++
			report.Failures = append(report.Failures, Failure{Path: path, Reason: err.Error()})
			if rec, ok := s.tracker.Record(path); ok {
				next[path] = rec
			}
			s.logger.Error("failed to delete entries for removed file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		report.Deleted++
		s.logger.Info("removed deleted file from index", zap.String("path", path))
	}

	var toProcess []discover.CandidateFile
	for path, state := range cls.States {
		switch state {
		case tracker.StateUnchanged:
			report.Unchanged++
			if rec, ok := s.tracker.Record(path); ok {
				next[path] = rec
			}
		case tracker.StateNew, tracker.StateModified:
			toProcess = append(toProcess, byPath[path])
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Workers)

	for _, f := range toProcess {
		group.Go(func() error {
			rec, chunks, err := s.processFile(gctx, f, opts.DryRun)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if embeddings.IsFatal(err) || gctx.Err() != nil {
					return fmt.Errorf("syncing %s: %w", f.Path, err)
				}
				report.Failed++
				report.Failures = append(report.Failures, Failure{Path: f.Path, Reason: err.Error()})
				if old, ok := s.tracker.Record(f.Path); ok {
					next[f.Path] = old
				}
				s.logger.Error("file sync failed",
					zap.String("path", f.Path),
					zap.Error(err),
				)
				return nil
			}

			report.Processed++
			report.Chunks += chunks
			next[f.Path] = rec
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return report, err
	}

	if !opts.DryRun {
		if err := s.tracker.Save(next); err != nil {
			return report, fmt.Errorf("saving snapshot: %w", err)
		}
	}

	report.Duration = time.Since(start)
	s.logger.Info("sync complete",
		zap.Int("discovered", report.Discovered),
		zap.Int("processed", report.Processed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
		zap.Int("chunks", report.Chunks),
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// processFile runs one file through the pipeline: read, extract, chunk,
// embed, delete stale entries, upsert.
//
// Deleting before upserting matters for modified files: the new version
// may produce fewer chunks than the old one, and stale trailing chunks
// would otherwise survive in the index.
func (s *Syncer) processFile(ctx context.Context, f discover.CandidateFile, dryRun bool) (tracker.FileRecord, int, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return tracker.FileRecord{}, 0, fmt.Errorf("reading file: %w", err)
	}

	hash := tracker.HashContent(content)
	meta := s.extractor.Extract(s.config.Root, f.Path, string(content))
	segments := s.chunker.Chunk(string(content))

	rec := tracker.FileRecord{
		Path:       f.Path,
		Context:    meta.Context,
		Size:       f.Size,
		ModTime:    f.ModTime,
		Hash:       hash,
		ChunkCount: len(segments),
		SyncedAt:   time.Now().UTC(),
	}

	if dryRun {
		return rec, len(segments), nil
	}

	if err := s.store.DeleteByPath(ctx, f.Path); err != nil {
		return tracker.FileRecord{}, 0, fmt.Errorf("deleting stale entries: %w", err)
	}

	if len(segments) == 0 {
		// Empty file: nothing to index, but the record still counts it
		// as synced so it is not retried every run.
		return rec, 0, nil
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return tracker.FileRecord{}, 0, fmt.Errorf("embedding chunks: %w", err)
	}

	entries := make([]vectorstore.Entry, len(segments))
	for i, seg := range segments {
		entries[i] = vectorstore.Entry{
			ID:        ChunkID(f.Path, i, hash),
			Vector:    vectors[i],
			Text:      seg.Text,
			Path:      f.Path,
			Context:   meta.Context,
			Title:     meta.Title,
			Keywords:  meta.Keywords,
			WorkItems: meta.WorkItems,
			Ordinal:   i,
		}
	}

	if err := s.store.Upsert(ctx, entries); err != nil {
		return tracker.FileRecord{}, 0, fmt.Errorf("upserting entries: %w", err)
	}

	s.logger.Debug("file synced",
		zap.String("path", f.Path),
		zap.String("context", meta.Context),
		zap.Int("chunks", len(segments)),
	)
	return rec, len(segments), nil
}

// Contexts lists the context labels known to the snapshot with their
// file and chunk counts, sorted by name.
func (s *Syncer) Contexts() ([]ContextInfo, error) {
	if err := s.tracker.Load(); err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	byName := make(map[string]*ContextInfo)
	for _, rec := range s.tracker.Records() {
		info, ok := byName[rec.Context]
		if !ok {
			info = &ContextInfo{Name: rec.Context}
			byName[rec.Context] = info
		}
		info.Files++
		info.Chunks += rec.ChunkCount
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ContextInfo, 0, len(names))
	for _, name := range names {
		out = append(out, *byName[name])
	}
	return out, nil
}
