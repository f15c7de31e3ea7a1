// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package poller sweeps the job server and reconciles what it finds into
// the build-history bucket.
//
// The bucket is the only authoritative state: each sweep re-derives its
// worklist from look-back windows over the job history plus the
// incomplete-run queries, so a crashed or restarted poller resumes by
// simply sweeping again.
package poller

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hkodungallur/bbdb/common/clock"
	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/manifest"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/poller/jenkins"
	"github.com/hkodungallur/bbdb/store"
)

// Look-back windows, in build numbers, per job kind. Top-level and distro
// jobs are high-volume and may finish long after they start; unit and
// sanity jobs are low-volume, so the incomplete-run queries carry most of
// their resumption load.
const (
	topLevelWindow = 200
	distroWindow   = 1500
	unitWindow     = 2
	sanityWindow   = 25
)

// Differ computes the component delta between two manifest revisions.
type Differ interface {
	Diff(ctx context.Context, curRev, prevRev, manifestPath string) (*manifest.Delta, error)
}

// Resolver expands a manifest delta into commits.
type Resolver interface {
	ResolveChanged(ctx context.Context, component, remote, fromRev, toRev string) ([]*model.Commit, error)
	ResolveAdded(ctx context.Context, component, remote, atRev string) ([]*model.Commit, error)
	ManifestSHA(ctx context.Context, manifestPath string, buildTime int64, buildID string) (string, error)
}

// Notifier reports a commit's first containing build to the issue tracker.
type Notifier interface {
	Notify(ctx context.Context, buildID string, c *model.Commit)
}

// Poller drives the reconciliation sweeps.
type Poller struct {
	store    store.Store
	jenkins  *jenkins.Client
	differ   Differ
	resolver Resolver
	notifier Notifier
	agg      *Aggregator
	cfg      *config.Config
}

// New returns a Poller wired to its collaborators.
func New(s store.Store, jc *jenkins.Client, d Differ, r Resolver, n Notifier, cfg *config.Config) *Poller {
	return &Poller{
		store:    s,
		jenkins:  jc,
		differ:   d,
		resolver: r,
		notifier: n,
		agg:      &Aggregator{store: s},
		cfg:      cfg,
	}
}

// RunForever sweeps, sleeps the configured interval, and sweeps again
// until the context is canceled.
func (p *Poller) RunForever(ctx context.Context) error {
	for {
		if err := p.SweepAll(ctx); err != nil {
			logging.Errorf(ctx, "poll: sweep: %s", err)
		}
		if err := clock.Sleep(ctx, p.cfg.PollEvery()); err != nil {
			return err
		}
	}
}

// SweepAll runs one full reconciliation pass: resume runs previously
// observed in flight, then sweep every release's job windows. Releases
// are independent, so they sweep concurrently and one release's failure
// never blocks another's.
func (p *Poller) SweepAll(ctx context.Context) error {
	consts, err := p.store.Constants(ctx)
	if err != nil {
		return fmt.Errorf("poll: loading constants: %w", err)
	}
	if consts == nil {
		return fmt.Errorf("poll: constants document missing")
	}

	p.resumeIncomplete(ctx)

	releases := p.cfg.Releases
	if len(releases) == 0 {
		releases = consts.Releases.Codes
	}

	var eg errgroup.Group
	for _, release := range releases {
		release := release
		urls, ok := consts.BuildURLs[release]
		if !ok {
			logging.Warningf(ctx, "poll: no build urls for release %q", release)
			continue
		}
		eg.Go(func() error {
			if err := p.sweepRelease(ctx, release, urls); err != nil {
				logging.Errorf(ctx, "poll: release %s: %s", release, err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		for _, jobURL := range consts.UnitTestURLs {
			if err := p.pollUnitJob(ctx, jobURL); err != nil {
				logging.Errorf(ctx, "poll: unit job %s: %s", jobURL, err)
			}
		}
		return nil
	})
	eg.Go(func() error {
		for _, jobURL := range consts.SanityTestURLs {
			if err := p.pollSanityJob(ctx, jobURL); err != nil {
				logging.Errorf(ctx, "poll: sanity job %s: %s", jobURL, err)
			}
		}
		return nil
	})
	return eg.Wait()
}

func (p *Poller) sweepRelease(ctx context.Context, release string, urls model.BuildURLs) error {
	logging.Infof(ctx, "poll: sweeping release %s", release)
	if urls.TopLevel != "" {
		if err := p.pollTopLevel(ctx, urls.TopLevel); err != nil {
			return err
		}
	}
	for _, jobURL := range []string{urls.Unix, urls.Windows} {
		if jobURL == "" {
			continue
		}
		if err := p.pollDistroJob(ctx, jobURL); err != nil {
			return err
		}
	}
	return nil
}

// resumeIncomplete re-probes every run recorded without a final result.
// Failures are logged and skipped: the run stays incomplete and the next
// sweep tries again.
func (p *Poller) resumeIncomplete(ctx context.Context) {
	if urls, err := p.store.IncompleteBuildURLs(ctx); err != nil {
		logging.Errorf(ctx, "poll: incomplete distro query: %s", err)
	} else {
		for _, u := range urls {
			if _, err := p.recordDistro(ctx, u); err != nil {
				logging.Errorf(ctx, "poll: resuming distro %s: %s", u, err)
			}
		}
	}
	if urls, err := p.store.IncompleteUnitRuns(ctx); err != nil {
		logging.Errorf(ctx, "poll: incomplete unit query: %s", err)
	} else {
		for _, u := range urls {
			if _, err := p.recordUnitRun(ctx, u); err != nil {
				logging.Errorf(ctx, "poll: resuming unit run %s: %s", u, err)
			}
		}
	}
	if urls, err := p.store.IncompleteSanityRuns(ctx); err != nil {
		logging.Errorf(ctx, "poll: incomplete sanity query: %s", err)
	} else {
		for _, u := range urls {
			if _, err := p.recordSanityRun(ctx, u); err != nil {
				logging.Errorf(ctx, "poll: resuming sanity run %s: %s", u, err)
			}
		}
	}
}

// sweepWindow walks job build numbers newest-first over the look-back
// window, recording each via record. The walk ends as soon as record
// reports an already-reconciled build: everything below it was covered
// by an earlier sweep, so the steady state costs one probe per job.
// Per-build failures are logged and skipped so one broken build cannot
// wedge the window behind it.
func (p *Poller) sweepWindow(ctx context.Context, jobURL string, window int, record func(ctx context.Context, jobURL string, num int) (bool, error)) error {
	job, err := p.jenkins.JobInfo(ctx, jobURL)
	if err != nil {
		return fmt.Errorf("job info %s: %w", jobURL, err)
	}
	latest := job.LastBuild.Number
	for num := latest; num > latest-window && num > 0; num-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := record(ctx, jobURL, num)
		if err != nil {
			logging.Errorf(ctx, "poll: %s #%d: %s", jobURL, num, err)
			continue
		}
		if stop {
			break
		}
	}
	return nil
}
