// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poller

import (
	"context"
	"strconv"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/poller/jenkins"
)

// pollTopLevel sweeps the release's main build job.
func (p *Poller) pollTopLevel(ctx context.Context, jobURL string) error {
	return p.sweepWindow(ctx, jobURL, topLevelWindow, p.recordTopBuild)
}

// recordTopBuild reconciles one top-level build. It reports stop=true
// when the build was already recorded by an earlier sweep, which ends
// the look-back walk.
func (p *Poller) recordTopBuild(ctx context.Context, jobURL string, num int) (bool, error) {
	info, err := p.jenkins.BuildInfo(ctx, jobURL, num)
	if err != nil {
		return false, err
	}
	if info.Building {
		return false, nil
	}
	env, err := p.jenkins.EnvVars(ctx, info.URL)
	if err != nil {
		return false, err
	}
	build := parseTopBuild(info, env, p.cfg)
	id := build.Key()

	// A build whose environment never recorded its identity still gets a
	// document, under the sentinel key. The walk continues past it: the
	// sentinel stands for every malformed build, not just the first.
	if id == model.SentinelDocID {
		logging.Warningf(ctx, "poll: %s #%d has no version/build number", jobURL, num)
		_, err := p.store.InsertBuildHistory(ctx, build, p.cfg.ForceReparse)
		return false, err
	}

	if !p.cfg.WantsVersion(build.Version) {
		logging.Debugf(ctx, "poll: %s is outside the version filter", id)
		return false, nil
	}
	if existing, err := p.store.GetBuild(ctx, id); err != nil {
		return false, err
	} else if existing != nil && !p.cfg.ForceReparse {
		return true, nil
	}

	if build.ManifestSHA == "" && build.Manifest != "" {
		sha, err := p.resolver.ManifestSHA(ctx, build.Manifest, build.Timestamp, id)
		if err != nil {
			return false, err
		}
		if sha == "" {
			logging.Warningf(ctx, "poll: no manifest revision recovered for %s", id)
		}
		build.ManifestSHA = sha
	}

	commits, deleted, err := p.resolveCommits(ctx, build)
	if err != nil {
		// The build document still goes in; its changelog stays empty
		// rather than holding up the whole window.
		logging.Errorf(ctx, "poll: resolving commits for %s: %s", id, err)
	}
	for _, c := range commits {
		build.Commits = append(build.Commits, c.Key())
	}
	build.RepoDeleted = deleted

	if _, err := p.store.InsertBuildHistory(ctx, build, p.cfg.ForceReparse); err != nil {
		return false, err
	}
	logging.Infof(ctx, "poll: recorded build %s with %d commits", id, len(commits))

	for _, c := range commits {
		if err := p.recordCommit(ctx, id, c); err != nil {
			logging.Errorf(ctx, "poll: commit %s in %s: %s", c.Key(), id, err)
		}
	}
	return false, nil
}

// recordCommit persists a commit's membership in the build and notifies
// the issue tracker the first time the commit is seen anywhere.
func (p *Poller) recordCommit(ctx context.Context, buildID string, c *model.Commit) error {
	existing, err := p.store.GetCommit(ctx, c.Key())
	if err != nil {
		return err
	}
	c.InBuild = []string{buildID}
	if _, err := p.store.InsertCommit(ctx, c); err != nil {
		return err
	}
	if existing == nil {
		p.notifier.Notify(ctx, buildID, c)
	}
	return nil
}

// resolveCommits diffs the build's manifest against its predecessor's and
// expands the delta into commits. The first build of a branch has no
// predecessor and resolves to nothing.
func (p *Poller) resolveCommits(ctx context.Context, build *model.TopLevelBuild) ([]*model.Commit, []string, error) {
	if build.ManifestSHA == "" {
		return nil, nil, nil
	}
	if start, ok := p.cfg.StartBuildNumbers[build.Version]; ok && build.BuildNum <= start {
		return nil, nil, nil
	}

	prevSHA := p.previousManifestSHA(ctx, build)
	delta, err := p.differ.Diff(ctx, build.ManifestSHA, prevSHA, build.Manifest)
	if err != nil {
		return nil, nil, err
	}

	var commits []*model.Commit
	for _, name := range delta.Changed {
		cur, prev := delta.Current[name], delta.Previous[name]
		resolved, err := p.resolver.ResolveChanged(ctx, name, cur.Remote, prev.Revision, cur.Revision)
		if err != nil {
			return nil, nil, err
		}
		commits = append(commits, resolved...)
	}
	for _, name := range delta.Added {
		cur := delta.Current[name]
		resolved, err := p.resolver.ResolveAdded(ctx, name, cur.Remote, cur.Revision)
		if err != nil {
			return nil, nil, err
		}
		commits = append(commits, resolved...)
	}
	return commits, delta.Removed, nil
}

// previousManifestSHA is the predecessor build's manifest revision, or the
// parent of this build's own revision when the predecessor was never
// recorded (the first build after a gap, or after the sentinel).
func (p *Poller) previousManifestSHA(ctx context.Context, build *model.TopLevelBuild) string {
	prevID := model.BuildKey(build.Version, build.BuildNum-1)
	if prev, err := p.store.GetBuild(ctx, prevID); err == nil && prev != nil && prev.ManifestSHA != "" {
		return prev.ManifestSHA
	}
	return build.ManifestSHA + "~1"
}

// parseTopBuild maps a build document and its environment onto the
// persisted record. A build with no usable identity parses to the
// sentinel record.
func parseTopBuild(info *jenkins.Build, env buildEnv, cfg *config.Config) *model.TopLevelBuild {
	version := env.version()
	buildNum := env.buildNum()
	if version == "" || buildNum == 0 {
		version, buildNum = "0", 0
	}
	build := &model.TopLevelBuild{
		Version:       version,
		BuildNum:      buildNum,
		Timestamp:     info.Timestamp,
		Manifest:      env.manifest(),
		ManifestSHA:   env.first("MANIFEST_SHA"),
		JobBuildNum:   strconv.Itoa(info.Number),
		ProductBranch: cfg.MapProductBranch(env.first("PRODUCT_BRANCH")),
		Unit:          env.unit(),
	}
	build.Normalize()
	return build
}
