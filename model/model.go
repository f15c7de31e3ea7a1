// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package model defines the document kinds persisted in the build-history
// bucket. Every document carries a "type" discriminant and derives its
// bucket key deterministically from its identity fields.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Document type discriminants.
const (
	TypeTopLevelBuild = "top_level_build"
	TypeDistroBuild   = "distro_level_build"
	TypeTestRun       = "test_run"
	TypeSanityRun     = "build_sanity_run"
	TypeCommit        = "commit"
)

// Result values for unit/sanity roll-ups on a top-level build.
const (
	ResultPassed     = "PASSED"
	ResultFailed     = "FAILED"
	ResultComplete   = "COMPLETE"
	ResultIncomplete = "INCOMPLETE"
)

// Distro-result set names on a top-level build.
const (
	StatePassed     = "passed"
	StateFailed     = "failed"
	StateIncomplete = "incomplete"
)

// ZeroVersionPrefix marks speculative probe builds (master rebuilds of old
// build numbers). Commits whose first build starts with it are not
// reported to the issue tracker.
const ZeroVersionPrefix = "0.0.0"

// SentinelDocID is returned by build parsers for a build number whose
// payload is malformed, so backward paging continues past it.
const SentinelDocID = "0-0"

// BuildKey derives the identity key of a top-level build.
func BuildKey(version string, buildNum int) string {
	return fmt.Sprintf("%s-%d", version, buildNum)
}

// DistroKey derives the identity key of a distro build.
func DistroKey(version string, buildNum int, distro, edition string) string {
	return fmt.Sprintf("%s-%d-%s-%s", version, buildNum, distro, edition)
}

// UnitTestKey derives the identity key of a unit test run document.
func UnitTestKey(version string, buildNum int, distro, edition string) string {
	return DistroKey(version, buildNum, distro, edition) + "-tests"
}

// SanityTestKey derives the identity key of a build-sanity run document.
func SanityTestKey(version string, buildNum int, distro, edition string) string {
	return DistroKey(version, buildNum, distro, edition) + "-sanity-tests"
}

// CommitKey derives the identity key of a commit document.
func CommitKey(repo, sha string) string {
	return repo + "-" + sha
}

// UnitURL tracks one unit test job run folded onto a top-level build.
type UnitURL struct {
	URL    string `json:"url"`
	Result string `json:"result"`
}

// TopLevelBuild is one invocation of the main product build job, spanning
// all platforms. Key: version-buildnum.
type TopLevelBuild struct {
	Type          string `json:"type"`
	Version       string `json:"version"`
	BuildNum      int    `json:"build_num"`
	Timestamp     int64  `json:"timestamp"`
	Manifest      string `json:"manifest"`
	ManifestSHA   string `json:"manifest_sha"`
	JobBuildNum   string `json:"job_build_num"`
	ProductBranch string `json:"product_branch"`
	Unit          string `json:"unit"`

	Commits     []string `json:"commits"`
	RepoDeleted []string `json:"repo_deleted,omitempty"`

	// A distro build id lives in exactly one of these at any time.
	Passed     []string `json:"passed"`
	Failed     []string `json:"failed"`
	Incomplete []string `json:"incomplete"`

	UnitResult string    `json:"unit_result,omitempty"`
	UnitURLs   []UnitURL `json:"unit_urls,omitempty"`

	Sanity       string `json:"sanity,omitempty"`
	SanityResult string `json:"sanity_result,omitempty"`
	SanityURL    string `json:"sanity_url,omitempty"`

	QESanity string `json:"qe_sanity,omitempty"`
}

// Key returns the build's identity key.
func (b *TopLevelBuild) Key() string {
	return BuildKey(b.Version, b.BuildNum)
}

// Normalize defaults the type discriminant and makes the set fields
// non-nil so they persist as [] rather than null.
func (b *TopLevelBuild) Normalize() {
	b.Type = TypeTopLevelBuild
	if b.Commits == nil {
		b.Commits = []string{}
	}
	if b.Passed == nil {
		b.Passed = []string{}
	}
	if b.Failed == nil {
		b.Failed = []string{}
	}
	if b.Incomplete == nil {
		b.Incomplete = []string{}
	}
}

// DistroBuild is one platform-specific sub-build of a top-level build.
// Key: version-buildnum-distro-edition.
type DistroBuild struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	BuildNum    int    `json:"build_num"`
	Distro      string `json:"distro"`
	Edition     string `json:"edition"`
	Timestamp   int64  `json:"timestamp"`
	Duration    int64  `json:"duration"`
	Result      string `json:"result"`
	Slave       string `json:"slave"`
	JobBuildNum string `json:"job_build_num"`
	Unit        string `json:"unit"`
	URL         string `json:"url"`

	TestCount     int    `json:"testcount,omitempty"`
	FailedTests   int    `json:"failedtests,omitempty"`
	SkipTests     int    `json:"skiptests,omitempty"`
	TestReportURL string `json:"test_report_url,omitempty"`
	UnitResult    string `json:"unit_result,omitempty"`

	SanityTestCount   int               `json:"sanity_testcount,omitempty"`
	SanityFailedTests int               `json:"sanity_failedtests,omitempty"`
	SanitySkipTests   int               `json:"sanity_skiptests,omitempty"`
	SanityResults     map[string]string `json:"sanity_results,omitempty"`
}

// Key returns the distro build's identity key.
func (d *DistroBuild) Key() string {
	return DistroKey(d.Version, d.BuildNum, d.Distro, d.Edition)
}

// Normalize defaults the type discriminant.
func (d *DistroBuild) Normalize() {
	d.Type = TypeDistroBuild
}

// CurrentState maps the distro build's Jenkins result onto the parent
// build's set names. An absent result means the job is still running.
func (d *DistroBuild) CurrentState() string {
	switch d.Result {
	case "":
		return StateIncomplete
	case "SUCCESS":
		return StatePassed
	default:
		return StateFailed
	}
}

// Case is a single test case result.
type Case struct {
	Name        string  `json:"name"`
	Params      string  `json:"params"`
	Duration    float64 `json:"duration"`
	Status      string  `json:"status"`
	FailedSince int     `json:"failed_since"`
}

// Suite is a named group of test cases.
type Suite struct {
	Suite    string  `json:"suite"`
	Duration float64 `json:"duration"`
	Cases    []Case  `json:"cases"`
}

// TestRun holds the parsed test report of a unit or build-sanity run.
//
// Unit runs populate Tests. Sanity runs populate ClusterTests, one suite
// tree per cluster topology, merged in as each topology reports.
type TestRun struct {
	Type     string `json:"type"`
	Version  string `json:"version"`
	BuildNum int    `json:"build_num"`
	Distro   string `json:"distro"`
	Edition  string `json:"edition"`
	Result   string `json:"result,omitempty"`

	Tests        []Suite            `json:"tests,omitempty"`
	ClusterTests map[string][]Suite `json:"cluster_tests,omitempty"`
}

// Key returns the run's identity key; sanity runs carry a distinct suffix.
func (t *TestRun) Key() string {
	if t.Type == TypeSanityRun {
		return SanityTestKey(t.Version, t.BuildNum, t.Distro, t.Edition)
	}
	return UnitTestKey(t.Version, t.BuildNum, t.Distro, t.Edition)
}

// Ident is a commit author or committer.
type Ident struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

// Commit is one source-control commit, shared by every build that pulled
// it in. Key: repo-sha.
type Commit struct {
	Type      string   `json:"type"`
	Repo      string   `json:"repo"`
	SHA       string   `json:"sha"`
	Author    Ident    `json:"author"`
	Committer Ident    `json:"committer"`
	Message   string   `json:"message"`
	URL       string   `json:"url"`
	Fixes     []string `json:"fixes"`
	InBuild   []string `json:"in_build"`
}

// Key returns the commit's identity key.
func (c *Commit) Key() string {
	return CommitKey(c.Repo, c.SHA)
}

// Title returns the first line of the commit message.
func (c *Commit) Title() string {
	title, _, _ := strings.Cut(c.Message, "\n")
	return title
}

var ticketPattern = regexp.MustCompile(`\b[A-Z]+-\d+\b`)

// FixedTickets extracts issue tracker references from the first line of a
// commit message, in order of first appearance, identical references
// collapsed.
func FixedTickets(message string) []string {
	title, _, _ := strings.Cut(message, "\n")
	fixes := []string{}
	seen := map[string]bool{}
	for _, m := range ticketPattern.FindAllString(title, -1) {
		if !seen[m] {
			seen[m] = true
			fixes = append(fixes, m)
		}
	}
	return fixes
}

// ReleaseLine restricts which builds belong to a named release line.
type ReleaseLine struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ProductBranch     string `json:"product_branch"`
	Start             int    `json:"start,omitempty"`
	End               int    `json:"end,omitempty"`
	Active            bool   `json:"active"`
	InputManifestFile string `json:"input_manifest_file,omitempty"`
}

// Release groups the release lines of one release family.
type Release struct {
	ReleaseLines []ReleaseLine `json:"release_lines"`
}

// BuildURLs holds the job server URLs polled for one release.
type BuildURLs struct {
	TopLevel string `json:"top_level"`
	Unix     string `json:"unix"`
	Windows  string `json:"windows"`
}

// Constants is the externally maintained poll configuration document.
type Constants struct {
	Releases struct {
		Codes []string `json:"codes"`
	} `json:"releases"`
	BuildURLs      map[string]BuildURLs `json:"build_urls"`
	UnitTestURLs   []string             `json:"unit_test_urls"`
	SanityTestURLs []string             `json:"sanity_test_urls"`
}
