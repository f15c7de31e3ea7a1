// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poller

import (
	"context"
	"fmt"
	"strings"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/poller/jenkins"
)

// pollUnitJob sweeps one unit test job. The window is tiny; runs observed
// in flight resume through the incomplete-run query instead.
func (p *Poller) pollUnitJob(ctx context.Context, jobURL string) error {
	return p.sweepWindow(ctx, jobURL, unitWindow, func(ctx context.Context, jobURL string, num int) (bool, error) {
		return p.recordUnitRun(ctx, fmt.Sprintf("%s/%d", strings.TrimRight(jobURL, "/"), num))
	})
}

// recordUnitRun reconciles one unit test run, by URL. The run's outcome
// lands in three places: the test-run document, the matching distro
// record's unit fields, and the parent's unit roll-up.
func (p *Poller) recordUnitRun(ctx context.Context, buildURL string) (bool, error) {
	info, err := p.jenkins.BuildInfoByURL(ctx, buildURL)
	if err != nil {
		return false, err
	}
	envMap, err := p.jenkins.EnvVars(ctx, info.URL)
	if err != nil {
		return false, err
	}
	env := buildEnv(envMap)
	version, buildNum := env.version(), env.buildNum()
	if version == "" || buildNum == 0 {
		logging.Debugf(ctx, "poll: unit run %s has no version/build number, skipping", buildURL)
		return false, nil
	}
	distro, edition := env.distro(), env.edition()
	result := runResult(info)

	if !info.Building {
		existing, err := p.store.GetTestRun(ctx, model.UnitTestKey(version, buildNum, distro, edition))
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Result == result {
			// Already recorded; re-fold the outcome so a parent that
			// missed the earlier update still converges.
			return true, p.agg.UpdateUnitResult(ctx, version, buildNum, buildURL, result)
		}
		run := &model.TestRun{
			Type:     model.TypeTestRun,
			Version:  version,
			BuildNum: buildNum,
			Distro:   distro,
			Edition:  edition,
			Result:   result,
		}
		if report, err := p.jenkins.TestReport(ctx, buildURL); err != nil {
			logging.Warningf(ctx, "poll: no test report at %s: %s", buildURL, err)
		} else {
			run.Tests = jenkins.ParseTests(report, false)
		}
		if _, err := p.store.InsertTestHistory(ctx, run, true); err != nil {
			return false, err
		}
	}

	if err := p.recordUnitCounts(ctx, info, version, buildNum, distro, edition, buildURL); err != nil {
		logging.Errorf(ctx, "poll: unit counts for %s-%d-%s: %s", version, buildNum, distro, err)
	}
	return false, p.agg.UpdateUnitResult(ctx, version, buildNum, buildURL, result)
}

// recordUnitCounts folds a unit run's test counts and state onto the
// matching distro build, if one was recorded.
func (p *Poller) recordUnitCounts(ctx context.Context, info *jenkins.Build, version string, buildNum int, distro, edition, buildURL string) error {
	d, err := p.store.GetDistro(ctx, model.DistroKey(version, buildNum, distro, edition))
	if err != nil || d == nil {
		return err
	}
	if total, fail, skip, urlName, ok := info.TestCounts(); ok {
		d.TestCount = total
		d.FailedTests = fail
		d.SkipTests = skip
		d.TestReportURL = strings.TrimRight(buildURL, "/") + "/" + urlName
	}
	if info.Building {
		d.UnitResult = model.ResultIncomplete
	} else {
		d.UnitResult = model.ResultComplete
	}
	_, err = p.store.InsertDistroHistory(ctx, d, true)
	return err
}

// pollSanityJob sweeps one build-sanity job.
func (p *Poller) pollSanityJob(ctx context.Context, jobURL string) error {
	return p.sweepWindow(ctx, jobURL, sanityWindow, func(ctx context.Context, jobURL string, num int) (bool, error) {
		return p.recordSanityRun(ctx, fmt.Sprintf("%s/%d", strings.TrimRight(jobURL, "/"), num))
	})
}

// sanityGroup accumulates one platform's share of a sanity matrix.
type sanityGroup struct {
	clusters  map[string][]model.Suite
	total     int
	fail      int
	skip      int
	hasCounts bool
}

// recordSanityRun reconciles one build-sanity run, by URL. Sanity jobs
// are multi-configuration: every matrix sub-run carries its own DISTRO,
// so its test tree merges into that platform's sanity document and onto
// that platform's distro record. Only the reference platform's outcome
// reaches the parent build.
func (p *Poller) recordSanityRun(ctx context.Context, buildURL string) (bool, error) {
	info, err := p.jenkins.BuildInfoByURL(ctx, buildURL)
	if err != nil {
		return false, err
	}
	envMap, err := p.jenkins.EnvVars(ctx, info.URL)
	if err != nil {
		return false, err
	}
	env := buildEnv(envMap)
	version := env.version()
	buildNum := env.intVal("CURRENT_BUILD_NUMBER", "BLD_NUM")
	if version == "" || buildNum == 0 {
		logging.Debugf(ctx, "poll: sanity run %s has no version/build number, skipping", buildURL)
		return false, nil
	}
	edition := env.edition()
	defaultDistro := env.distro()
	if defaultDistro == "" {
		defaultDistro = sanityReferenceDistro
	}
	result := runResult(info)

	if result != model.ResultIncomplete {
		existing, err := p.store.GetTestRun(ctx, model.SanityTestKey(version, buildNum, defaultDistro, edition))
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Result != "" && existing.Result != model.ResultIncomplete {
			// Already recorded; re-escalate so a parent that missed the
			// earlier update still converges.
			return true, p.agg.UpdateSanityResult(ctx, version, buildNum, defaultDistro, existing.Result, buildURL)
		}
	}

	groups := p.gatherSanityRuns(ctx, info, defaultDistro)
	if len(groups) == 0 {
		// Not a matrix job: the run itself is the only configuration.
		g := &sanityGroup{clusters: map[string][]model.Suite{}}
		if total, fail, skip, _, ok := info.TestCounts(); ok {
			g.total, g.fail, g.skip, g.hasCounts = total, fail, skip, true
		}
		if report, err := p.jenkins.TestReport(ctx, buildURL); err != nil {
			logging.Warningf(ctx, "poll: no sanity report at %s: %s", buildURL, err)
		} else {
			g.clusters[clusterFromURL(buildURL)] = jenkins.ParseTests(report, true)
		}
		groups = map[string]*sanityGroup{defaultDistro: g}
	}

	for distro, g := range groups {
		run, err := p.store.GetTestRun(ctx, model.SanityTestKey(version, buildNum, distro, edition))
		if err != nil {
			return false, err
		}
		if run == nil {
			run = &model.TestRun{
				Version:  version,
				BuildNum: buildNum,
				Distro:   distro,
				Edition:  edition,
			}
		}
		run.Type = model.TypeSanityRun
		if run.ClusterTests == nil {
			run.ClusterTests = map[string][]model.Suite{}
		}
		for cluster, suites := range g.clusters {
			run.ClusterTests[cluster] = suites
		}
		distroResult := result
		if result != model.ResultIncomplete {
			distroResult = sanityRollup(run.ClusterTests)
		}
		run.Result = distroResult
		if _, err := p.store.InsertTestHistory(ctx, run, true); err != nil {
			return false, err
		}

		if err := p.recordSanityCounts(ctx, version, buildNum, distro, edition, g, run); err != nil {
			logging.Errorf(ctx, "poll: sanity counts for %s-%d-%s: %s", version, buildNum, distro, err)
		}
		if err := p.agg.UpdateSanityResult(ctx, version, buildNum, distro, distroResult, buildURL); err != nil {
			return false, err
		}
	}
	return false, nil
}

// gatherSanityRuns fetches each matrix sub-run of the current build and
// groups its test trees and counts by the sub-run's platform.
func (p *Poller) gatherSanityRuns(ctx context.Context, info *jenkins.Build, defaultDistro string) map[string]*sanityGroup {
	groups := map[string]*sanityGroup{}
	for _, mr := range info.Runs {
		if mr.Number != info.Number {
			continue
		}
		distro := defaultDistro
		if subEnv, err := p.jenkins.EnvVars(ctx, mr.URL); err != nil {
			logging.Warningf(ctx, "poll: no env for sanity sub-run %s: %s", mr.URL, err)
		} else if d := buildEnv(subEnv).distro(); d != "" {
			distro = d
		}
		g := groups[distro]
		if g == nil {
			g = &sanityGroup{clusters: map[string][]model.Suite{}}
			groups[distro] = g
		}
		if subInfo, err := p.jenkins.BuildInfoByURL(ctx, mr.URL); err != nil {
			logging.Warningf(ctx, "poll: no info for sanity sub-run %s: %s", mr.URL, err)
		} else if total, fail, skip, _, ok := subInfo.TestCounts(); ok {
			g.total += total
			g.fail += fail
			g.skip += skip
			g.hasCounts = true
		}
		report, err := p.jenkins.TestReport(ctx, mr.URL)
		if err != nil {
			logging.Warningf(ctx, "poll: no sanity report at %s: %s", mr.URL, err)
			continue
		}
		g.clusters[clusterFromURL(mr.URL)] = jenkins.ParseTests(report, true)
	}
	return groups
}

// recordSanityCounts folds one platform's sanity counts onto the
// matching distro build, if one was recorded.
func (p *Poller) recordSanityCounts(ctx context.Context, version string, buildNum int, distro, edition string, g *sanityGroup, run *model.TestRun) error {
	d, err := p.store.GetDistro(ctx, model.DistroKey(version, buildNum, distro, edition))
	if err != nil || d == nil {
		return err
	}
	if g.hasCounts {
		d.SanityTestCount = g.total
		d.SanityFailedTests = g.fail
		d.SanitySkipTests = g.skip
	}
	if d.SanityResults == nil {
		d.SanityResults = map[string]string{}
	}
	for cluster, suites := range run.ClusterTests {
		d.SanityResults[cluster] = clusterResult(suites)
	}
	_, err = p.store.InsertDistroHistory(ctx, d, true)
	return err
}

// runResult maps a job outcome onto the persisted result values.
func runResult(info *jenkins.Build) string {
	switch {
	case info.Building:
		return model.ResultIncomplete
	case info.Result == "SUCCESS":
		return model.ResultPassed
	default:
		return model.ResultFailed
	}
}

// sanityRollup folds a platform's per-cluster outcomes into one result.
func sanityRollup(clusters map[string][]model.Suite) string {
	for _, suites := range clusters {
		if clusterResult(suites) == model.ResultFailed {
			return model.ResultFailed
		}
	}
	return model.ResultPassed
}

// clusterResult rolls a cluster's suites up to a single pass/fail.
func clusterResult(suites []model.Suite) string {
	for _, s := range suites {
		for _, c := range s.Cases {
			if c.Status != "PASSED" && c.Status != "FIXED" && c.Status != "SKIPPED" {
				return model.ResultFailed
			}
		}
	}
	return model.ResultPassed
}

// clusterFromURL extracts the cluster topology from a matrix run URL,
// e.g. ".../CLUSTER=2node,label_exp=sanity/42/" yields "2node".
func clusterFromURL(url string) string {
	for _, seg := range strings.Split(url, "/") {
		if !strings.Contains(seg, "=") {
			continue
		}
		first, _, _ := strings.Cut(seg, ",")
		_, val, _ := strings.Cut(first, "=")
		if val != "" {
			return val
		}
	}
	return "default"
}
