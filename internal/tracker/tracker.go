// Package tracker persists per-file fingerprints and classifies files as
// new, modified, unchanged, or deleted between synchronization runs.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// SyncState classifies a file relative to the persisted snapshot.
type SyncState string

const (
	StateNew       SyncState = "new"
	StateModified  SyncState = "modified"
	StateUnchanged SyncState = "unchanged"
	StateDeleted   SyncState = "deleted"
)

// FileRecord is the persisted fingerprint of one indexed file.
type FileRecord struct {
	// Path is the absolute file path (snapshot key).
	Path string `json:"path"`

	// Context is the directory-derived context label.
	Context string `json:"context"`

	// Size and ModTime form the cheap change trigger.
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`

	// Hash is the sha256 hex digest of the file content at sync time.
	// It feeds deterministic chunk IDs; it is not the change trigger.
	Hash string `json:"hash"`

	// ChunkCount is how many index entries the last successful sync
	// produced for this file.
	ChunkCount int `json:"chunk_count"`

	// SyncedAt is when the file last synced successfully.
	SyncedAt time.Time `json:"synced_at"`
}

// FileStat is the on-disk listing the tracker classifies against.
type FileStat struct {
	Path    string
	Context string
	Size    int64
	ModTime time.Time
}

// Classification is the result of comparing a listing to the snapshot.
type Classification struct {
	// States maps every listed path to its state.
	States map[string]SyncState

	// Deleted are paths present in the snapshot but absent on disk.
	Deleted []string
}

// snapshotFile is the on-disk snapshot format.
type snapshotFile struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Files   map[string]FileRecord `json:"files"`
}

const snapshotVersion = 1

// Tracker owns the persisted snapshot of file fingerprints.
//
// The snapshot is read entirely at run start and replaced atomically at
// run end, so a crash mid-run never leaves a partially written snapshot.
type Tracker struct {
	statePath string
	logger    *zap.Logger
	prev      map[string]FileRecord
}

// New creates a tracker persisting to statePath.
func New(statePath string, logger *zap.Logger) (*Tracker, error) {
	if statePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		statePath: statePath,
		logger:    logger,
		prev:      make(map[string]FileRecord),
	}, nil
}

// Load reads the persisted snapshot.
//
// A missing or unreadable snapshot fails closed: the tracker starts with
// an empty snapshot, so every file classifies as NEW and gets reindexed.
// Corruption is never an excuse to silently skip files.
func (t *Tracker) Load() error {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			t.prev = make(map[string]FileRecord)
			return nil
		}
		t.logger.Warn("snapshot unreadable, forcing full reindex",
			zap.String("path", t.statePath),
			zap.Error(err),
		)
		t.prev = make(map[string]FileRecord)
		return nil
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		t.logger.Warn("snapshot corrupt, forcing full reindex",
			zap.String("path", t.statePath),
			zap.Error(err),
		)
		t.prev = make(map[string]FileRecord)
		return nil
	}

	if snap.Files == nil {
		snap.Files = make(map[string]FileRecord)
	}
	t.prev = snap.Files
	return nil
}

// Records returns the loaded snapshot records keyed by path.
//
// The returned map is the tracker's own copy; callers must not mutate it.
func (t *Tracker) Records() map[string]FileRecord {
	return t.prev
}

// Record returns the stored record for a path, if any.
func (t *Tracker) Record(path string) (FileRecord, bool) {
	rec, ok := t.prev[path]
	return rec, ok
}

// Classify compares the current on-disk listing against the snapshot.
//
// A file is MODIFIED when its size or mtime differ from the stored
// record. Content hash is deliberately not consulted here: size/mtime is
// the cheap authoritative trigger, the hash is computed later only to
// form the new record. Paths in the snapshot but not in the listing are
// DELETED.
func (t *Tracker) Classify(current []FileStat) Classification {
	cls := Classification{States: make(map[string]SyncState, len(current))}

	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.Path] = true
		rec, ok := t.prev[f.Path]
		switch {
		case !ok:
			cls.States[f.Path] = StateNew
		case rec.Size != f.Size || !rec.ModTime.Truncate(time.Second).Equal(f.ModTime.Truncate(time.Second)):
			// Second precision: some filesystems store coarser mtimes
			// than time.Time round-trips through JSON.
			cls.States[f.Path] = StateModified
		default:
			cls.States[f.Path] = StateUnchanged
		}
	}

	for path := range t.prev {
		if !seen[path] {
			cls.Deleted = append(cls.Deleted, path)
		}
	}

	return cls
}

// Save atomically replaces the persisted snapshot with next.
//
// The write goes to a temp file in the same directory followed by a
// rename, so a concurrent reader sees either the old snapshot or the new
// one, never a partial write.
func (t *Tracker) Save(next map[string]FileRecord) error {
	snap := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Files:   next,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	dir := filepath.Dir(t.statePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing snapshot: %w", err)
	}

	if err := os.Rename(tmpName, t.statePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot: %w", err)
	}

	t.prev = next
	return nil
}

// HashContent returns the sha256 hex digest of file content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
