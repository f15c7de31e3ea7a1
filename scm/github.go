// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scm

import (
	"context"
	"time"

	"github.com/google/go-github/v50/github"
	"golang.org/x/oauth2"

	"github.com/hkodungallur/bbdb/common/retry"
	"github.com/hkodungallur/bbdb/model"
)

// githubClient is a Client over the GitHub REST API.
type githubClient struct {
	gh *github.Client
}

var _ Client = (*githubClient)(nil)

// NewGithub returns a bearer-token authenticated Client.
func NewGithub(ctx context.Context, token string) Client {
	var hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = 10 * time.Second
	return &githubClient{gh: github.NewClient(hc)}
}

// Compare implements Client.
func (c *githubClient) Compare(ctx context.Context, owner, repo, base, head string) ([]HostCommit, error) {
	var out []HostCommit
	opts := &github.ListOptions{PerPage: 100}
	for {
		cmp, resp, err := c.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, opts)
		if err != nil {
			return nil, classify(resp, err)
		}
		for _, rc := range cmp.Commits {
			out = append(out, normalizeCommit(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// ListCommits implements Client.
func (c *githubClient) ListCommits(ctx context.Context, owner, repo string, opts ListOptions) ([]HostCommit, error) {
	var out []HostCommit
	ghOpts := &github.CommitsListOptions{
		SHA:         opts.SHA,
		Path:        opts.Path,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !opts.Until.IsZero() {
		ghOpts.Until = opts.Until
	}
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, ghOpts)
		if err != nil {
			return nil, classify(resp, err)
		}
		for _, rc := range commits {
			out = append(out, normalizeCommit(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return out, nil
}

func normalizeCommit(rc *github.RepositoryCommit) HostCommit {
	hc := HostCommit{
		SHA: rc.GetSHA(),
		URL: rc.GetHTMLURL(),
	}
	if commit := rc.GetCommit(); commit != nil {
		hc.Message = commit.GetMessage()
		hc.Author = ident(commit.GetAuthor())
		hc.Committer = ident(commit.GetCommitter())
	}
	return hc
}

func ident(a *github.CommitAuthor) model.Ident {
	if a == nil {
		return model.Ident{}
	}
	return model.Ident{
		Name:  a.GetName(),
		Email: a.GetEmail(),
		Date:  a.GetDate().Format(time.RFC3339),
	}
}

// classify tags host-unreachable and server-side failures as transient so
// the retry policy distinguishes them from hard API errors.
func classify(resp *github.Response, err error) error {
	if resp == nil || resp.StatusCode >= 500 {
		return retry.Transient(err)
	}
	return err
}
