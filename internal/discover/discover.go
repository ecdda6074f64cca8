// Package discover walks the corpus root and yields candidate document
// files with their directory-derived context label.
package discover

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/metadata"
)

// defaultSkipDirs are directories that should always be skipped during
// discovery. These typically contain generated content, dependencies, or
// version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
}

// SkipDir reports whether a directory name is excluded from discovery.
// Dot-prefixed directories and the default skip list never hold corpus
// documents.
func SkipDir(name string) bool {
	return defaultSkipDirs[name] || strings.HasPrefix(name, ".")
}

// CandidateFile is a discovered document file.
type CandidateFile struct {
	// Path is the absolute file path.
	Path string

	// Context is the nearest ancestor directory name inside the root,
	// or metadata.RootContext.
	Context string

	Size    int64
	ModTime time.Time
}

// Discoverer walks a corpus root for candidate files.
//
// Discovery is restartable: each Discover call re-walks the tree.
type Discoverer struct {
	extensions  map[string]bool
	maxFileSize int64
	logger      *zap.Logger
}

// Config configures a Discoverer.
type Config struct {
	// Extensions are the file extensions considered documents
	// (lowercased, leading dot).
	Extensions []string

	// MaxFileSize is the largest file in bytes to yield. 0 means no limit.
	MaxFileSize int64
}

// New creates a Discoverer.
func New(cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if len(cfg.Extensions) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Discoverer{
		extensions:  exts,
		maxFileSize: cfg.MaxFileSize,
		logger:      logger,
	}, nil
}

// Discover walks root and returns all candidate files.
//
// Unreadable files and directories are skipped with a warning; they are
// never fatal to the walk. The walk honors context cancellation.
func (d *Discoverer) Discover(ctx context.Context, root string) ([]CandidateFile, error) {
	cleanRoot, err := validateRoot(root)
	if err != nil {
		return nil, err
	}

	var files []CandidateFile

	err = filepath.WalkDir(cleanRoot, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			d.logger.Warn("skipping unreadable path",
				zap.String("path", path),
				zap.Error(walkErr),
			)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() {
			if path != cleanRoot && SkipDir(entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("skipping file without stat info",
				zap.String("path", path),
				zap.Error(err),
			)
			return nil
		}

		if d.maxFileSize > 0 && info.Size() > d.maxFileSize {
			d.logger.Warn("skipping oversized file",
				zap.String("path", path),
				zap.Int64("size", info.Size()),
				zap.Int64("max", d.maxFileSize),
			)
			return nil
		}

		files = append(files, CandidateFile{
			Path:    path,
			Context: metadata.ContextLabel(cleanRoot, path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus root: %w", err)
	}

	return files, nil
}

// validateRoot validates and cleans the corpus root path.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("corpus root cannot be empty")
	}

	cleanRoot := filepath.Clean(root)

	info, err := os.Stat(cleanRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("corpus root does not exist: %s", cleanRoot)
		}
		return "", fmt.Errorf("stat corpus root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("corpus root must be a directory: %s", cleanRoot)
	}

	return cleanRoot, nil
}
