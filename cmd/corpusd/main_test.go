package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sync", "search", "contexts", "serve", "watch", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", excerpt("short   text", 160))
	assert.Equal(t, "a b", excerpt("a\nb", 160))

	long := excerpt("word word word word word", 10)
	require.LessOrEqual(t, len(long), 13)
	assert.Contains(t, long, "...")
}

func TestBuildAppRequiresCorpusRoot(t *testing.T) {
	t.Setenv("CORPUS_ROOT", "")
	_, err := buildApp("/nonexistent/config.yaml")
	require.Error(t, err)
}
