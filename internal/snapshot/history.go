package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// history commits snapshot writes into a git repository rooted at the
// store directory.
type history struct {
	repo  *git.Repository
	name  string
	email string
}

func (h *history) open(path string) error {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return fmt.Errorf("open history repository: %w", err)
	}

	h.repo = repo
	if h.name == "" {
		h.name = "pinnotes"
	}
	if h.email == "" {
		h.email = "pinnotes@localhost"
	}
	return nil
}

func (h *history) commit(message string) error {
	worktree, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	hasChanges := false
	for _, s := range status {
		if s.Staging != git.Unmodified {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return nil
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  h.name,
			Email: h.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
