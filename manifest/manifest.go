// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package manifest diffs two snapshots of the product's repo manifest to
// find which component repositories changed between consecutive builds.
package manifest

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
)

// Repo abstracts the local clone of the manifest repository.
type Repo interface {
	// Checkout switches the working tree to branch.
	Checkout(branch string) error
	// Pull fast-forwards the checked-out branch from origin.
	Pull() error
	// Show returns the manifest file content at the given revision.
	// Revision suffixes like "<sha>~1" are honored.
	Show(rev, path string) (string, error)
}

// Component is one pinned project declaration in a manifest snapshot.
type Component struct {
	Revision string
	Remote   string
}

// Snapshot indexes a parsed manifest by component name.
type Snapshot map[string]Component

// Delta is the component-level difference between two snapshots.
type Delta struct {
	Added   []string // in Current only
	Removed []string // in Previous only
	Changed []string // in both, different revision

	Current  Snapshot
	Previous Snapshot
}

// Differ computes manifest deltas against the manifest repository.
type Differ struct {
	repo Repo
	cfg  *config.Config
}

// NewDiffer returns a Differ reading manifests from repo.
func NewDiffer(repo Repo, cfg *config.Config) *Differ {
	return &Differ{repo: repo, cfg: cfg}
}

// Diff fetches the manifest at curRev and prevRev and diffs them.
//
// manifestPath is the input manifest named by the build environment; it is
// mapped through the configuration to the branch and file that track it in
// the manifest repository. A manifest file missing at either revision is a
// configuration error and is surfaced, not retried.
func (d *Differ) Diff(ctx context.Context, curRev, prevRev, manifestPath string) (*Delta, error) {
	branch, file := d.cfg.MapManifest(manifestPath)

	if err := d.repo.Checkout(branch); err != nil {
		return nil, fmt.Errorf("manifest checkout %q: %w", branch, err)
	}
	if err := d.repo.Pull(); err != nil {
		return nil, fmt.Errorf("manifest pull: %w", err)
	}

	logging.Debugf(ctx, "manifest diff %s: %s..%s", file, prevRev, curRev)

	cur, err := d.snapshotAt(curRev, file)
	if err != nil {
		return nil, err
	}
	prev, err := d.snapshotAt(prevRev, file)
	if err != nil {
		return nil, err
	}
	return Diff(cur, prev), nil
}

func (d *Differ) snapshotAt(rev, file string) (Snapshot, error) {
	content, err := d.repo.Show(rev, file)
	if err != nil {
		return nil, fmt.Errorf("manifest %s at %s: %w", file, rev, err)
	}
	return Parse(content, d.cfg.DefaultRemote)
}

// Parse reads a manifest document into a Snapshot. Components without an
// explicit remote get defaultRemote.
func Parse(content, defaultRemote string) (Snapshot, error) {
	var doc struct {
		Projects []struct {
			Name     string `xml:"name,attr"`
			Revision string `xml:"revision,attr"`
			Remote   string `xml:"remote,attr"`
		} `xml:"project"`
	}
	if err := xml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	snap := Snapshot{}
	for _, p := range doc.Projects {
		remote := p.Remote
		if remote == "" {
			remote = defaultRemote
		}
		snap[p.Name] = Component{Revision: p.Revision, Remote: remote}
	}
	return snap, nil
}

// Diff computes the component-level delta from prev to cur. Components
// with identical name and revision in both snapshots produce no work.
func Diff(cur, prev Snapshot) *Delta {
	delta := &Delta{
		Added:    []string{},
		Removed:  []string{},
		Changed:  []string{},
		Current:  cur,
		Previous: prev,
	}
	for name, c := range cur {
		p, ok := prev[name]
		switch {
		case !ok:
			delta.Added = append(delta.Added, name)
		case p.Revision != c.Revision:
			delta.Changed = append(delta.Changed, name)
		}
	}
	for name := range prev {
		if _, ok := cur[name]; !ok {
			delta.Removed = append(delta.Removed, name)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Changed)
	return delta
}
