// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scm resolves the commits a build pulled in, by asking the
// source-control host what changed between two component revisions.
package scm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hkodungallur/bbdb/common/retry"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
)

// HostCommit is a commit as reported by the source-control host.
type HostCommit struct {
	SHA       string
	Author    model.Ident
	Committer model.Ident
	Message   string
	URL       string
}

// ListOptions narrow a commit listing.
type ListOptions struct {
	SHA   string    // list commits reachable from this revision/branch
	Path  string    // only commits touching this path
	Until time.Time // only commits no newer than this
}

// Client abstracts the source-control host API.
type Client interface {
	// Compare returns the commits in base...head, oldest first.
	Compare(ctx context.Context, owner, repo, base, head string) ([]HostCommit, error)
	// ListCommits returns commits matching opts, newest first.
	ListCommits(ctx context.Context, owner, repo string, opts ListOptions) ([]HostCommit, error)
}

// Resolver normalizes host commits into canonical commit records.
type Resolver struct {
	client Client
	cfg    *config.Config
}

// NewResolver returns a Resolver using client.
func NewResolver(client Client, cfg *config.Config) *Resolver {
	return &Resolver{client: client, cfg: cfg}
}

func transientOnly(ctx context.Context) retry.Iterator {
	return &retry.TransientOnly{Iterator: retry.Backoff(ctx)}
}

// ResolveChanged returns every commit a changed component picked up
// between fromRev and toRev.
func (r *Resolver) ResolveChanged(ctx context.Context, component, remote, fromRev, toRev string) ([]*model.Commit, error) {
	owner, ok := r.cfg.RemoteOwner(remote)
	if !ok {
		return nil, fmt.Errorf("scm: no owner for remote group %q", remote)
	}
	var commits []HostCommit
	err := retry.Retry(ctx, transientOnly, func() (ierr error) {
		commits, ierr = r.client.Compare(ctx, owner, component, fromRev, toRev)
		return
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("scm: compare %s/%s %s...%s: %w", owner, component, fromRev, toRev, err)
	}
	return r.normalize(component, commits), nil
}

// ResolveAdded returns every commit reachable from atRev of a newly added
// component.
func (r *Resolver) ResolveAdded(ctx context.Context, component, remote, atRev string) ([]*model.Commit, error) {
	owner, ok := r.cfg.RemoteOwner(remote)
	if !ok {
		return nil, fmt.Errorf("scm: no owner for remote group %q", remote)
	}
	var commits []HostCommit
	err := retry.Retry(ctx, transientOnly, func() (ierr error) {
		commits, ierr = r.client.ListCommits(ctx, owner, component, ListOptions{SHA: atRev})
		return
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("scm: commits %s/%s at %s: %w", owner, component, atRev, err)
	}
	return r.normalize(component, commits), nil
}

// ManifestSHA recovers the manifest revision for a build whose
// environment did not record one: the newest manifest-repo commit no
// later than the build timestamp, touching the mapped manifest file on
// the mapped branch, whose message names the build.
func (r *Resolver) ManifestSHA(ctx context.Context, manifestPath string, buildTime int64, buildID string) (string, error) {
	branch, file := r.cfg.MapManifest(manifestPath)
	until := time.Unix(buildTime/1000, 0)

	var commits []HostCommit
	err := retry.Retry(ctx, transientOnly, func() (ierr error) {
		commits, ierr = r.client.ListCommits(ctx, r.cfg.ManifestRepoOwner, r.cfg.ManifestRepoName, ListOptions{
			SHA:   branch,
			Path:  file,
			Until: until,
		})
		return
	}, nil)
	if err != nil {
		return "", fmt.Errorf("scm: manifest sha probe for %s: %w", buildID, err)
	}
	for _, c := range commits {
		if strings.Contains(c.Message, buildID) {
			return c.SHA, nil
		}
	}
	return "", nil
}

func (r *Resolver) normalize(component string, commits []HostCommit) []*model.Commit {
	out := make([]*model.Commit, 0, len(commits))
	for _, hc := range commits {
		out = append(out, &model.Commit{
			Type:      model.TypeCommit,
			Repo:      component,
			SHA:       hc.SHA,
			Author:    hc.Author,
			Committer: hc.Committer,
			Message:   hc.Message,
			URL:       hc.URL,
			Fixes:     model.FixedTickets(hc.Message),
		})
	}
	return out
}
