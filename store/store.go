// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package store persists build-history documents. The document store is
// the single source of truth: pollers keep no authoritative in-memory
// state, so a restarted process re-derives its worklist from the
// incomplete-run queries here.
package store

import (
	"context"

	"github.com/hkodungallur/bbdb/model"
)

// ChangelogEntry is one commit attributed to the build that pulled it in.
type ChangelogEntry struct {
	BuildNum int          `json:"build_num"`
	Commit   model.Commit `json:"commit"`
}

// Store is the persistence interface over the build-history bucket.
//
// Getters are non-throwing existence probes: an absent document yields
// (nil, nil). Insert operations derive the document key from the record's
// identity fields; with update=false an existing key is a benign duplicate
// reported as an empty id, with update=true the record is overwritten.
type Store interface {
	GetBuild(ctx context.Context, id string) (*model.TopLevelBuild, error)
	GetDistro(ctx context.Context, id string) (*model.DistroBuild, error)
	GetTestRun(ctx context.Context, id string) (*model.TestRun, error)
	GetCommit(ctx context.Context, id string) (*model.Commit, error)

	InsertBuildHistory(ctx context.Context, b *model.TopLevelBuild, update bool) (string, error)
	InsertDistroHistory(ctx context.Context, d *model.DistroBuild, update bool) (string, error)
	InsertTestHistory(ctx context.Context, t *model.TestRun, update bool) (string, error)

	// InsertCommit merges: if the commit document exists, the build
	// membership array gains the commit's build id (append-if-absent,
	// atomically); otherwise the document is created.
	InsertCommit(ctx context.Context, c *model.Commit) (string, error)

	// Resumption queries: callback URLs of work observed in-flight.
	IncompleteBuildURLs(ctx context.Context) ([]string, error)
	IncompleteUnitRuns(ctx context.Context) ([]string, error)
	IncompleteSanityRuns(ctx context.Context) ([]string, error)

	// Reference documents maintained outside the poller.
	Constants(ctx context.Context) (*model.Constants, error)
	ReleaseLines(ctx context.Context, onlyActive bool) (map[string][]model.ReleaseLine, error)
	ReleaseLineInfo(ctx context.Context, release, line string) (*model.ReleaseLine, error)

	// Read-side queries for the front ends.
	RecentBuilds(ctx context.Context, version string, limit int) ([]*model.TopLevelBuild, error)
	LastUnit(ctx context.Context, version string) (int, error)
	LastSanity(ctx context.Context, version string, passedOnly bool) (int, error)
	LastUnitPlusSanity(ctx context.Context, version string) (int, error)
	LastQE(ctx context.Context, version string) (int, error)
	NotYetUnitTested(ctx context.Context, version string, limit int) ([]int, error)
	NotYetSanityTested(ctx context.Context, version string, limit int) ([]int, error)
	Changelog(ctx context.Context, version string, fromBuild, toBuild int) ([]ChangelogEntry, error)
	TicketInBuilds(ctx context.Context, ticket string) ([]string, error)
	FixesInBuild(ctx context.Context, version string, buildNum int) ([]string, error)
	MarkQEKickedOff(ctx context.Context, id string) (string, error)
}

// VMStore leases pool VMs to test automation.
type VMStore interface {
	Provision(ctx context.Context, platform string, count int, purpose, who string, hours int) ([]string, error)
	Release(ctx context.Context, ips []string) ([]string, error)
}

// VM is one pool machine, keyed by IP.
type VM struct {
	IP      string   `json:"ip"`
	OS      string   `json:"os"`
	State   string   `json:"state"`
	Who     string   `json:"who"`
	Purpose []string `json:"purpose"`
	Expires int64    `json:"expires"`
}
