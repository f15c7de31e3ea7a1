// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads the single configuration struct the process is
// built around. All former module-level tables (remote groups, branch
// maps, manifest maps) live here and are passed by reference; nothing
// reads ambient globals.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ManifestMapping redirects an input manifest path to the branch and file
// that actually hold it in the manifest repository.
type ManifestMapping struct {
	Branch string `yaml:"branch"`
	File   string `yaml:"file"`
}

// Config is the process configuration, loaded once at startup.
type Config struct {
	// Couchbase connection for the build-history bucket.
	CouchbaseURL      string `yaml:"couchbase_url"`
	CouchbaseUser     string `yaml:"couchbase_user"`
	CouchbasePassword string `yaml:"couchbase_password"`
	BuildBucket       string `yaml:"build_bucket"`
	VMBucket          string `yaml:"vm_bucket"`

	// Issue tracker.
	JiraURL      string `yaml:"jira_url"`
	JiraUser     string `yaml:"jira_user"`
	JiraPassword string `yaml:"jira_password"`

	// Source control host.
	GithubTokenFile string `yaml:"github_token_file"`

	// Remotes maps a manifest remote group to the owning organization on
	// the source control host.
	Remotes       map[string]string `yaml:"remotes"`
	DefaultRemote string            `yaml:"default_remote"`

	// Local clone of the manifest repository, plus the upstream repo the
	// manifest-sha recovery probe searches.
	ManifestRepoPath   string `yaml:"manifest_repo_path"`
	ManifestRepoOwner  string `yaml:"manifest_repo_owner"`
	ManifestRepoName   string `yaml:"manifest_repo_name"`
	ManifestRepoBranch string `yaml:"manifest_repo_branch"`

	// ManifestMap redirects manifest paths, ProductBranchMap collapses
	// build branches, StartBuildNumbers marks the first build of a branch
	// (which has no predecessor to diff against).
	ManifestMap       map[string]ManifestMapping `yaml:"manifest_map"`
	ProductBranchMap  map[string]string          `yaml:"product_branch_map"`
	StartBuildNumbers map[string]int             `yaml:"start_build_numbers"`

	// PollIntervalSec is the pause between release sweeps, in seconds.
	PollIntervalSec int `yaml:"poll_interval_sec"`

	// Releases overrides the release codes from the constants document
	// when non-empty.
	Releases []string `yaml:"releases"`

	// VersionFilter, when non-empty, restricts top-level recording to the
	// listed versions. ForceReparse re-records builds the store already
	// holds, for backfilling after a parser fix.
	VersionFilter []string `yaml:"version_filter"`
	ForceReparse  bool     `yaml:"force_reparse"`

	// HTTP listen addresses for the two front ends.
	DashboardAddr string `yaml:"dashboard_addr"`
	RestAddr      string `yaml:"rest_addr"`

	// Dashboard link templates.
	JiraBrowseURL string `yaml:"jira_browse_url"`
	ReviewURL     string `yaml:"review_url"`
	JobLinkFormat string `yaml:"job_link_format"`

	LogLevel string `yaml:"log_level"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{
		BuildBucket:        "build-history",
		VMBucket:           "default",
		DefaultRemote:      "couchbase",
		ManifestRepoBranch: "master",
		PollIntervalSec:    300,
		DashboardAddr:      ":8000",
		RestAddr:           ":8282",
		LogLevel:           "debug",
	}
	if err := yaml.Unmarshal(blob, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.CouchbaseURL == "":
		return fmt.Errorf("config: couchbase_url is required")
	case c.ManifestRepoPath == "":
		return fmt.Errorf("config: manifest_repo_path is required")
	}
	return nil
}

// GithubToken reads the token file, if configured.
func (c *Config) GithubToken() (string, error) {
	if c.GithubTokenFile == "" {
		return "", nil
	}
	blob, err := os.ReadFile(c.GithubTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading github token: %w", err)
	}
	return strings.TrimSpace(string(blob)), nil
}

// MapManifest resolves the branch and file for an input manifest path.
// Unmapped paths fall through to the default branch and the path itself.
func (c *Config) MapManifest(manifestPath string) (branch, file string) {
	if m, ok := c.ManifestMap[manifestPath]; ok {
		return m.Branch, m.File
	}
	return c.ManifestRepoBranch, manifestPath
}

// MapProductBranch collapses aliased product branches.
func (c *Config) MapProductBranch(branch string) string {
	if mapped, ok := c.ProductBranchMap[branch]; ok {
		return mapped
	}
	return branch
}

// RemoteOwner resolves a manifest remote group to its organization.
func (c *Config) RemoteOwner(remote string) (string, bool) {
	if remote == "" {
		remote = c.DefaultRemote
	}
	owner, ok := c.Remotes[remote]
	return owner, ok
}

// WantsVersion reports whether top-level recording covers the version.
func (c *Config) WantsVersion(version string) bool {
	if len(c.VersionFilter) == 0 {
		return true
	}
	for _, v := range c.VersionFilter {
		if v == version {
			return true
		}
	}
	return false
}

// PollEvery returns the pause between release sweeps.
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}
