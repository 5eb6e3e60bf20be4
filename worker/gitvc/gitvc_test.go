package gitvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamHATIT/fabrica/config"
)

// initTestRepo creates a repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: "refs/heads/main"},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add("README.md")
	require.NoError(t, err)
	_, err = worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)

	return dir
}

func newTestAdapter(t *testing.T) (*Adapter, string) {
	t.Helper()
	dir := initTestRepo(t)
	adapter := New(config.GitConfig{
		RepoPath:    dir,
		BaseBranch:  "main",
		AuthorName:  "fabrica",
		AuthorEmail: "fabrica@example.com",
	}, nil)
	return adapter, dir
}

func TestCreateBranchAndCommit(t *testing.T) {
	adapter, dir := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.CreateBranch(ctx, "build/phase-1-data-model", "main"))

	sha, err := adapter.CommitFiles(ctx, map[string]string{
		"objects/Invoice.object":    "<CustomObject/>",
		"objects/fields/Amount.xml": "<CustomField/>",
	}, "data-model: OBJ-1, FLD-1")
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	// Files landed in the worktree.
	content, err := os.ReadFile(filepath.Join(dir, "objects/Invoice.object"))
	require.NoError(t, err)
	assert.Equal(t, "<CustomObject/>", string(content))

	// Commit is on the phase branch with the right author.
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "build/phase-1-data-model", head.Name().Short())

	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "data-model: OBJ-1, FLD-1", commit.Message)
	assert.Equal(t, "fabrica", commit.Author.Name)
}

func TestCommitRejectsEscapingPaths(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.CommitFiles(context.Background(),
		map[string]string{"../escape.txt": "x"}, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the repository")

	_, err = adapter.CommitFiles(context.Background(), map[string]string{}, "empty")
	require.Error(t, err)
}

func TestCreateBranchUnknownBase(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	err := adapter.CreateBranch(context.Background(), "feature/x", "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCreatePRWithoutRemote(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	url, err := adapter.CreatePR(context.Background(),
		"Build phase 1", "body", "build/phase-1-data-model", "main")
	require.NoError(t, err)
	assert.Equal(t, "local://build/phase-1-data-model", url)
}

func TestCompareURL(t *testing.T) {
	assert.Equal(t,
		"https://github.com/acme/crm/compare/main...build/phase-1-data-model",
		compareURL("https://github.com/acme/crm.git", "main", "build/phase-1-data-model"))
	assert.Equal(t,
		"https://github.com/acme/crm/compare/main...b",
		compareURL("git@github.com:acme/crm.git", "main", "b"))
}
