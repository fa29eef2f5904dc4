// Package vault manages per-order isolated workspaces: git worktrees under
// a theater directory, with archive-before-destroy semantics. Every path
// that reaches the filesystem goes through canonicalization and an
// ancestor check first.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalid covers path-traversal attempts and malformed input.
	// Handlers map it to HTTP 400.
	ErrInvalid = errors.New("invalid")

	// ErrNotFound is returned when a theater or worktree does not exist.
	ErrNotFound = errors.New("not found")
)

// Manager owns the theater directory tree. It is safe for concurrent use;
// git itself serializes worktree mutation through the repo lock.
type Manager struct {
	theaterRoot string
}

// NewManager canonicalizes the theater root once so every later ancestor
// check compares against a stable prefix.
func NewManager(theaterRoot string) (*Manager, error) {
	abs, err := filepath.Abs(theaterRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve theater root: %w", err)
	}
	return &Manager{theaterRoot: filepath.Clean(abs)}, nil
}

// TheaterRoot returns the canonical root all theaters live under.
func (m *Manager) TheaterRoot() string {
	return m.theaterRoot
}

// isWithin reports whether child is parent or strictly inside it, after
// both have been cleaned. It is the single containment primitive used by
// every path check.
func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// theaterPath validates a theater name and returns its canonical path.
func (m *Manager) theaterPath(theater string) (string, error) {
	p := filepath.Clean(filepath.Join(m.theaterRoot, theater))
	if p == m.theaterRoot || !isWithin(m.theaterRoot, p) {
		return "", fmt.Errorf("%w theater path: %s", ErrInvalid, theater)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: theater does not exist: %s", ErrNotFound, theater)
	}
	return p, nil
}

// worktreePath validates the order id and returns the canonical worktree
// path, which must stay strictly under <theater>/worktrees/.
func (m *Manager) worktreePath(theaterPath, orderID string) (string, error) {
	wtRoot := filepath.Join(theaterPath, "worktrees")
	p := filepath.Clean(filepath.Join(wtRoot, orderID))
	if p == wtRoot || !isWithin(wtRoot, p) || filepath.Dir(p) != wtRoot {
		return "", fmt.Errorf("%w worktree path: %s", ErrInvalid, orderID)
	}
	return p, nil
}

// repoPath locates the git repository backing a theater: <theater>/repo/
// by convention, or the theater root itself when it carries .git directly.
func (m *Manager) repoPath(theaterPath string) (string, error) {
	repo := filepath.Join(theaterPath, "repo")
	if _, err := os.Stat(repo); err == nil {
		return repo, nil
	}
	if _, err := os.Stat(filepath.Join(theaterPath, ".git")); err == nil {
		return theaterPath, nil
	}
	return "", fmt.Errorf("%w: git repository not found in theater: %s", ErrNotFound, theaterPath)
}

// CreateWorktree provisions a git worktree on a branch named after the
// order, off baseRef. An existing worktree is a no-op with created=false;
// concurrent creates are resolved by the repo lock, the loser sees the
// existing tree.
func (m *Manager) CreateWorktree(ctx context.Context, theater, orderID, baseRef string) (path string, created bool, err error) {
	if baseRef == "" {
		baseRef = "master"
	}

	theaterPath, err := m.theaterPath(theater)
	if err != nil {
		return "", false, err
	}
	repo, err := m.repoPath(theaterPath)
	if err != nil {
		return "", false, err
	}
	wt, err := m.worktreePath(theaterPath, orderID)
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(wt); err == nil {
		return wt, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(wt), 0o755); err != nil {
		return "", false, fmt.Errorf("create worktrees dir: %w", err)
	}

	out, err := runGit(ctx, repo, "worktree", "add", "-b", orderID, wt, baseRef)
	if err != nil {
		// Lost a create race: the other writer's tree is ours to reuse.
		if _, statErr := os.Stat(wt); statErr == nil {
			return wt, false, nil
		}
		return "", false, fmt.Errorf("git worktree creation failed: %s: %w", out, err)
	}

	slog.Info("Worktree created", "theater", theater, "order_id", orderID, "path", wt)
	return wt, true, nil
}

// GetWorktree returns the worktree path and whether it exists on disk.
func (m *Manager) GetWorktree(theater, orderID string) (path string, exists bool, err error) {
	theaterPath, err := m.theaterPath(theater)
	if err != nil {
		return "", false, err
	}
	wt, err := m.worktreePath(theaterPath, orderID)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(wt); err != nil {
		return "", false, nil
	}
	return wt, true, nil
}

// RemoveWorktree archives the worktree and then forces git to drop it.
// The archive step is unconditional: an archive failure aborts the
// remove, there is no forget-without-evidence path. A worktree that
// vanishes between archive and remove is a no-op.
func (m *Manager) RemoveWorktree(ctx context.Context, theater, orderID string) (archivePath string, err error) {
	archivePath, err = m.ArchiveWorktree(theater, orderID)
	if err != nil {
		return "", err
	}

	theaterPath, err := m.theaterPath(theater)
	if err != nil {
		return "", err
	}
	repo, err := m.repoPath(theaterPath)
	if err != nil {
		return "", err
	}
	wt, err := m.worktreePath(theaterPath, orderID)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(wt); err != nil {
		return archivePath, nil
	}

	out, err := runGit(ctx, repo, "worktree", "remove", "--force", wt)
	if err != nil {
		return "", fmt.Errorf("git worktree removal failed: %s: %w", out, err)
	}

	slog.Info("Worktree removed", "theater", theater, "order_id", orderID, "archive", archivePath)
	return archivePath, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
