package vault

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)
	return m, root
}

// gitInit sets up <theater>/repo as a git repository with one commit on
// master, skipping the test when git is unavailable.
func gitInit(t *testing.T, theaterPath string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := filepath.Join(theaterPath, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "init")
	return repo
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		name   string
		parent string
		child  string
		want   bool
	}{
		{"child inside", "/a/b", "/a/b/c", true},
		{"same path", "/a/b", "/a/b", true},
		{"sibling", "/a/b", "/a/c", false},
		{"parent escape", "/a/b", "/a", false},
		{"prefix but not ancestor", "/a/b", "/a/bc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isWithin(tt.parent, tt.child))
		})
	}
}

func TestCreateWorktreeRejectsTraversal(t *testing.T) {
	m, root := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo", "repo"), 0o755))

	_, _, err := m.CreateWorktree(context.Background(), "demo", "../../etc", "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = m.CreateWorktree(context.Background(), "../outside", "order_1", "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = m.CreateWorktree(context.Background(), "demo", "a/b", "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateWorktreeUnknownTheater(t *testing.T) {
	m, _ := newTestManager(t)

	_, _, err := m.CreateWorktree(context.Background(), "missing", "order_1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveMissingWorktree(t *testing.T) {
	m, root := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo", "repo"), 0o755))

	_, err := m.ArchiveWorktree("demo", "order_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorktreeLifecycle(t *testing.T) {
	m, root := newTestManager(t)
	theaterPath := filepath.Join(root, "demo")
	gitInit(t, theaterPath)

	ctx := context.Background()

	path, created, err := m.CreateWorktree(ctx, "demo", "order_1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, filepath.Join(theaterPath, "worktrees", "order_1"), path)
	assert.DirExists(t, path)

	// Second create is a no-op.
	path2, created2, err := m.CreateWorktree(ctx, "demo", "order_1", "")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, path, path2)

	got, exists, err := m.GetWorktree("demo", "order_1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, got)

	// Remove always archives first; the archive survives the removal.
	archivePath, err := m.RemoveWorktree(ctx, "demo", "order_1")
	require.NoError(t, err)
	assert.FileExists(t, archivePath)
	assert.Contains(t, filepath.Base(archivePath), "order_1_")
	assert.NoDirExists(t, path)

	_, exists, err = m.GetWorktree("demo", "order_1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExplicitArchiveKeepsWorktree(t *testing.T) {
	m, root := newTestManager(t)
	theaterPath := filepath.Join(root, "demo")
	gitInit(t, theaterPath)

	ctx := context.Background()
	path, _, err := m.CreateWorktree(ctx, "demo", "order_2", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "note.txt"), []byte("evidence"), 0o644))

	archivePath, err := m.ArchiveWorktree("demo", "order_2")
	require.NoError(t, err)
	assert.FileExists(t, archivePath)
	assert.DirExists(t, path)
}

func TestRepoLayoutFallback(t *testing.T) {
	m, root := newTestManager(t)
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	// Theater root itself carries .git instead of a repo/ subdirectory.
	theaterPath := filepath.Join(root, "bare")
	require.NoError(t, os.MkdirAll(theaterPath, 0o755))
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = theaterPath
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "master")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "init")

	path, created, err := m.CreateWorktree(context.Background(), "bare", "order_3", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.DirExists(t, path)
}
