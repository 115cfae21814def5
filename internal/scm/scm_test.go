package scm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIsClean(t *testing.T) {
	g := NewGit("", "", nil)
	dir := initRepo(t)

	clean, err := g.IsClean(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, clean)

	writeFile(t, dir, "notes.txt", "phase one\n")
	clean, err = g.IsClean(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestCommit(t *testing.T) {
	g := NewGit("tester", "tester@example.com", nil)
	dir := initRepo(t)
	writeFile(t, dir, "notes.txt", "phase one\n")

	hash, err := g.Commit(context.Background(), dir, `Complete phase "build": 4 tasks done in 1h0m0s`)
	require.NoError(t, err)
	assert.True(t, plumbing.IsHash(hash))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Contains(t, commit.Message, `Complete phase "build"`)
	assert.Equal(t, "tester", commit.Author.Name)

	clean, err := g.IsClean(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, clean, "commit leaves the tree clean")
}

func TestOpenMissingRepo(t *testing.T) {
	g := NewGit("", "", nil)
	_, err := g.IsClean(context.Background(), t.TempDir())
	assert.Error(t, err)
}
