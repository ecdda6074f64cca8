package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/metadata"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	d, err := New(Config{Extensions: []string{".md", ".txt"}}, nil)
	require.NoError(t, err)
	return d
}

func TestDiscoverFindsSupportedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.md"), "# hi")
	writeFile(t, filepath.Join(root, "ProjA", "req.md"), "# req")
	writeFile(t, filepath.Join(root, "ProjA", "notes.txt"), "notes")
	writeFile(t, filepath.Join(root, "ProjA", "image.png"), "binary")

	d := newTestDiscoverer(t)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 3)

	byPath := make(map[string]CandidateFile)
	for _, f := range files {
		byPath[f.Path] = f
	}

	readme := byPath[filepath.Join(root, "readme.md")]
	assert.Equal(t, metadata.RootContext, readme.Context)

	req := byPath[filepath.Join(root, "ProjA", "req.md")]
	assert.Equal(t, "ProjA", req.Context)
	assert.EqualValues(t, 5, req.Size)
}

func TestDiscoverSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.md"), "keep")
	writeFile(t, filepath.Join(root, ".git", "hidden.md"), "no")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "doc.md"), "no")
	writeFile(t, filepath.Join(root, ".obsidian", "config.md"), "no")

	d := newTestDiscoverer(t)
	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "keep.md"), files[0].Path)
}

func TestDiscoverSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "small.md"), "ok")
	writeFile(t, filepath.Join(root, "big.md"), "this file is larger than the limit")

	d, err := New(Config{Extensions: []string{".md"}, MaxFileSize: 10}, nil)
	require.NoError(t, err)

	files, err := d.Discover(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "small.md"), files[0].Path)
}

func TestDiscoverIsRestartable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "a")

	d := newTestDiscoverer(t)

	first, err := d.Discover(context.Background(), root)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "b.md"), "b")

	second, err := d.Discover(context.Background(), root)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestDiscoverRejectsMissingRoot(t *testing.T) {
	d := newTestDiscoverer(t)
	_, err := d.Discover(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestDiscoverRejectsFileRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.md")
	writeFile(t, path, "x")

	d := newTestDiscoverer(t)
	_, err := d.Discover(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a directory")
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDiscoverer(t)
	_, err := d.Discover(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresExtensions(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
