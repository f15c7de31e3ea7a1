// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitRepo is a Repo over a local go-git clone.
type GitRepo struct {
	repo *git.Repository
}

var _ Repo = (*GitRepo)(nil)

// OpenGit opens an existing clone of the manifest repository.
func OpenGit(path string) (*GitRepo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest repo %q: %w", path, err)
	}
	return &GitRepo{repo: repo}, nil
}

// Checkout implements Repo.
func (g *GitRepo) Checkout(branch string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Force:  true,
	})
}

// Pull implements Repo. An already-up-to-date branch is not an error.
func (g *GitRepo) Pull() error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.Pull(&git.PullOptions{RemoteName: "origin", Force: true})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Show implements Repo.
func (g *GitRepo) Show(rev, path string) (string, error) {
	hash, err := g.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}
	commit, err := g.repo.CommitObject(*hash)
	if err != nil {
		return "", fmt.Errorf("loading commit %s: %w", hash, err)
	}
	file, err := commit.File(path)
	if err != nil {
		return "", fmt.Errorf("file %q at %s: %w", path, rev, err)
	}
	return file.Contents()
}
