// Package scm wraps git operations used at phase boundaries.
package scm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// Git commits and pushes project repositories via go-git.
type Git struct {
	authorName  string
	authorEmail string
	logger      *zap.Logger
}

// NewGit builds a git adapter. Empty author fields fall back to a
// generic identity.
func NewGit(authorName, authorEmail string, logger *zap.Logger) *Git {
	if authorName == "" {
		authorName = "overseer"
	}
	if authorEmail == "" {
		authorEmail = "overseer@localhost"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{authorName: authorName, authorEmail: authorEmail, logger: logger}
}

// IsClean reports whether the worktree at path has no uncommitted
// changes.
func (g *Git) IsClean(_ context.Context, path string) (bool, error) {
	wt, err := g.worktree(path)
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("git status %s: %w", path, err)
	}
	return status.IsClean(), nil
}

// Commit stages everything and commits with the given message. Returns
// the new commit hash.
func (g *Git) Commit(_ context.Context, path, message string) (string, error) {
	wt, err := g.worktree(path)
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("git add %s: %w", path, err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("git commit %s: %w", path, err)
	}
	g.logger.Info("committed phase",
		zap.String("path", path),
		zap.String("hash", hash.String()))
	return hash.String(), nil
}

// Push pushes the branch to origin. Already-up-to-date is not an
// error.
func (g *Git) Push(ctx context.Context, path, branch string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open repo %s: %w", path, err)
	}
	opts := &git.PushOptions{RemoteName: "origin"}
	if branch != "" {
		ref := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
		opts.RefSpecs = []config.RefSpec{config.RefSpec(ref)}
	}
	err = repo.PushContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("git push %s: %w", path, err)
	}
	return nil
}

func (g *Git) worktree(path string) (*git.Worktree, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree %s: %w", path, err)
	}
	return wt, nil
}
