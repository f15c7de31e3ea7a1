// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/poller/jenkins"
)

// pollDistroJob sweeps one platform build job (the unix or windows
// builder of a release).
func (p *Poller) pollDistroJob(ctx context.Context, jobURL string) error {
	return p.sweepWindow(ctx, jobURL, distroWindow, func(ctx context.Context, jobURL string, num int) (bool, error) {
		return p.recordDistro(ctx, fmt.Sprintf("%s/%d", strings.TrimRight(jobURL, "/"), num))
	})
}

// recordDistro reconciles one platform build, by URL. The same path
// serves both the look-back window and resumption of a run previously
// recorded without a result; stop=true means the build already carries
// a final result and ends the window walk.
func (p *Poller) recordDistro(ctx context.Context, buildURL string) (bool, error) {
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
		logging.Debugf(ctx, "poll: %s has no version/build number, skipping", buildURL)
		return false, nil
	}
	distro := env.distro()
	if distro == "" {
		logging.Debugf(ctx, "poll: %s has no distro, skipping", buildURL)
		return false, nil
	}

	d := &model.DistroBuild{
		Version:     version,
		BuildNum:    buildNum,
		Distro:      distro,
		Edition:     env.edition(),
		Timestamp:   info.Timestamp,
		Duration:    info.Duration,
		Slave:       info.BuiltOn,
		JobBuildNum: strconv.Itoa(info.Number),
		Unit:        env.unit(),
		URL:         buildURL,
	}
	if !info.Building {
		d.Result = info.Result
	}

	existing, err := p.store.GetDistro(ctx, d.Key())
	if err != nil {
		return false, err
	}
	if existing != nil {
		// Final results never change; only an in-flight record is worth
		// re-probing.
		if existing.Result != "" {
			return true, nil
		}
		// Carry sanity fields already merged in by the sanity sweep.
		d.SanityTestCount = existing.SanityTestCount
		d.SanityFailedTests = existing.SanityFailedTests
		d.SanitySkipTests = existing.SanitySkipTests
		d.SanityResults = existing.SanityResults
	}

	if total, fail, skip, urlName, ok := info.TestCounts(); ok {
		d.TestCount = total
		d.FailedTests = fail
		d.SkipTests = skip
		d.TestReportURL = strings.TrimRight(buildURL, "/") + "/" + urlName
		if d.Result != "" {
			d.UnitResult = model.ResultComplete
		} else {
			d.UnitResult = model.ResultIncomplete
		}
		if err := p.recordDistroTests(ctx, d); err != nil {
			logging.Errorf(ctx, "poll: test report for %s: %s", d.Key(), err)
		}
	}

	d.Normalize()
	if _, err := p.store.InsertDistroHistory(ctx, d, true); err != nil {
		return false, err
	}
	logging.Debugf(ctx, "poll: recorded distro build %s (%s)", d.Key(), d.CurrentState())

	return false, p.agg.UpdateDistroResult(ctx, d)
}

// recordDistroTests captures the platform build's own unit test report as
// a test-run document.
func (p *Poller) recordDistroTests(ctx context.Context, d *model.DistroBuild) error {
	report, err := p.jenkins.TestReport(ctx, d.URL)
	if err != nil {
		return err
	}
	run := &model.TestRun{
		Type:     model.TypeTestRun,
		Version:  d.Version,
		BuildNum: d.BuildNum,
		Distro:   d.Distro,
		Edition:  d.Edition,
		Result:   d.UnitResult,
		Tests:    jenkins.ParseTests(report, false),
	}
	_, err = p.store.InsertTestHistory(ctx, run, true)
	return err
}
