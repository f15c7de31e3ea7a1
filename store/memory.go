// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/model"
)

// Memory is an in-memory Store and VMStore with the same observable
// behavior as the Couchbase implementation. It backs the test suite and
// keeps the query semantics honest in one process.
type Memory struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage

	// Reference documents.
	ConstantsDoc *model.Constants
	Releases     map[string]model.Release

	vms map[string]*VM
}

var _ Store = (*Memory)(nil)
var _ VMStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: map[string]json.RawMessage{},
		vms:  map[string]*VM{},
	}
}

func (m *Memory) getLocked(id string, out any) bool {
	blob, ok := m.docs[id]
	if !ok {
		return false
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false
	}
	return true
}

func (m *Memory) putLocked(id string, doc any) {
	blob, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	m.docs[id] = blob
}

// GetBuild implements Store.
func (m *Memory) GetBuild(ctx context.Context, id string) (*model.TopLevelBuild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b model.TopLevelBuild
	if !m.getLocked(id, &b) {
		return nil, nil
	}
	return &b, nil
}

// GetDistro implements Store.
func (m *Memory) GetDistro(ctx context.Context, id string) (*model.DistroBuild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d model.DistroBuild
	if !m.getLocked(id, &d) {
		return nil, nil
	}
	return &d, nil
}

// GetTestRun implements Store.
func (m *Memory) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t model.TestRun
	if !m.getLocked(id, &t) {
		return nil, nil
	}
	return &t, nil
}

// GetCommit implements Store.
func (m *Memory) GetCommit(ctx context.Context, id string) (*model.Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c model.Commit
	if !m.getLocked(id, &c) {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) insert(ctx context.Context, id string, doc any, update bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !update {
		if _, exists := m.docs[id]; exists {
			logging.Warningf(ctx, "couldn't create %s, document exists", id)
			return "", nil
		}
	}
	m.putLocked(id, doc)
	return id, nil
}

// InsertBuildHistory implements Store.
func (m *Memory) InsertBuildHistory(ctx context.Context, b *model.TopLevelBuild, update bool) (string, error) {
	b.Normalize()
	return m.insert(ctx, b.Key(), b, update)
}

// InsertDistroHistory implements Store.
func (m *Memory) InsertDistroHistory(ctx context.Context, d *model.DistroBuild, update bool) (string, error) {
	d.Normalize()
	return m.insert(ctx, d.Key(), d, update)
}

// InsertTestHistory implements Store.
func (m *Memory) InsertTestHistory(ctx context.Context, t *model.TestRun, update bool) (string, error) {
	if t.Type == "" {
		t.Type = model.TypeTestRun
	}
	return m.insert(ctx, t.Key(), t, update)
}

// InsertCommit implements Store.
func (m *Memory) InsertCommit(ctx context.Context, c *model.Commit) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Type = model.TypeCommit
	id := c.Key()
	if len(c.InBuild) == 0 {
		return "", fmt.Errorf("commit %q has no build membership", id)
	}
	var existing model.Commit
	if !m.getLocked(id, &existing) {
		m.putLocked(id, c)
		return id, nil
	}
	inBuild := c.InBuild[0]
	if !containsString(existing.InBuild, inBuild) {
		existing.InBuild = append(existing.InBuild, inBuild)
		m.putLocked(id, &existing)
	}
	return id, nil
}

func (m *Memory) builds() []*model.TopLevelBuild {
	var out []*model.TopLevelBuild
	for _, blob := range m.docs {
		var b model.TopLevelBuild
		if json.Unmarshal(blob, &b) == nil && b.Type == model.TypeTopLevelBuild {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuildNum > out[j].BuildNum })
	return out
}

func (m *Memory) distros() []*model.DistroBuild {
	var out []*model.DistroBuild
	for _, blob := range m.docs {
		var d model.DistroBuild
		if json.Unmarshal(blob, &d) == nil && d.Type == model.TypeDistroBuild {
			d := d
			out = append(out, &d)
		}
	}
	return out
}

func (m *Memory) commits() []*model.Commit {
	var out []*model.Commit
	for _, blob := range m.docs {
		var c model.Commit
		if json.Unmarshal(blob, &c) == nil && c.Type == model.TypeCommit {
			c := c
			out = append(out, &c)
		}
	}
	return out
}

// IncompleteBuildURLs implements Store.
func (m *Memory) IncompleteBuildURLs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := []string{}
	for _, d := range m.distros() {
		if d.Result == "" && d.URL != "" {
			urls = append(urls, d.URL)
		}
	}
	sort.Strings(urls)
	return urls, nil
}

// IncompleteUnitRuns implements Store.
func (m *Memory) IncompleteUnitRuns(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := []string{}
	for _, b := range m.builds() {
		for _, u := range b.UnitURLs {
			if u.Result == model.ResultIncomplete {
				urls = append(urls, u.URL)
			}
		}
	}
	return urls, nil
}

// IncompleteSanityRuns implements Store.
func (m *Memory) IncompleteSanityRuns(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := []string{}
	for _, b := range m.builds() {
		if b.SanityResult == model.ResultIncomplete && b.SanityURL != "" {
			urls = append(urls, b.SanityURL)
		}
	}
	return urls, nil
}

// Constants implements Store.
func (m *Memory) Constants(ctx context.Context) (*model.Constants, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConstantsDoc, nil
}

// ReleaseLines implements Store.
func (m *Memory) ReleaseLines(ctx context.Context, onlyActive bool) (map[string][]model.ReleaseLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterReleaseLines(m.Releases, onlyActive), nil
}

// ReleaseLineInfo implements Store.
func (m *Memory) ReleaseLineInfo(ctx context.Context, release, line string) (*model.ReleaseLine, error) {
	lines, err := m.ReleaseLines(ctx, false)
	if err != nil {
		return nil, err
	}
	return findReleaseLine(lines, release, line), nil
}

// RecentBuilds implements Store.
func (m *Memory) RecentBuilds(ctx context.Context, version string, limit int) ([]*model.TopLevelBuild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.TopLevelBuild{}
	// LIMIT 0 yields no rows on the query side; mirror that.
	if limit <= 0 {
		return out, nil
	}
	for _, b := range m.builds() {
		if b.Version == version {
			out = append(out, b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) lastMatching(version string, match func(*model.TopLevelBuild) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.builds() {
		if b.Version == version && match(b) {
			return b.BuildNum, nil
		}
	}
	return 0, nil
}

// LastUnit implements Store.
func (m *Memory) LastUnit(ctx context.Context, version string) (int, error) {
	return m.lastMatching(version, func(b *model.TopLevelBuild) bool { return b.Unit == "true" })
}

// LastSanity implements Store.
func (m *Memory) LastSanity(ctx context.Context, version string, passedOnly bool) (int, error) {
	return m.lastMatching(version, func(b *model.TopLevelBuild) bool {
		if passedOnly {
			return b.SanityResult == model.ResultPassed
		}
		return b.SanityResult != ""
	})
}

// LastUnitPlusSanity implements Store.
func (m *Memory) LastUnitPlusSanity(ctx context.Context, version string) (int, error) {
	return m.lastMatching(version, func(b *model.TopLevelBuild) bool {
		return b.Unit == "true" && b.SanityResult == model.ResultPassed
	})
}

// LastQE implements Store.
func (m *Memory) LastQE(ctx context.Context, version string) (int, error) {
	return m.lastMatching(version, func(b *model.TopLevelBuild) bool { return b.QESanity == "true" })
}

// NotYetUnitTested implements Store.
func (m *Memory) NotYetUnitTested(ctx context.Context, version string, limit int) ([]int, error) {
	from, _ := m.LastUnit(ctx, version)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []int{}
	for _, b := range m.builds() {
		if b.Version == version && b.BuildNum > from && b.UnitResult == "" {
			out = append(out, b.BuildNum)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// NotYetSanityTested implements Store.
func (m *Memory) NotYetSanityTested(ctx context.Context, version string, limit int) ([]int, error) {
	from, _ := m.LastSanity(ctx, version, false)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []int{}
	for _, b := range m.builds() {
		if b.Version == version && b.BuildNum > from && b.SanityResult == "" &&
			len(b.Failed) == 0 && len(b.Incomplete) == 0 {
			out = append(out, b.BuildNum)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Changelog implements Store.
func (m *Memory) Changelog(ctx context.Context, version string, fromBuild, toBuild int) ([]ChangelogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ChangelogEntry{}
	for _, b := range m.builds() {
		if b.Version != version || b.BuildNum <= fromBuild || b.BuildNum > toBuild {
			continue
		}
		for _, key := range b.Commits {
			var c model.Commit
			if m.getLocked(key, &c) {
				out = append(out, ChangelogEntry{BuildNum: b.BuildNum, Commit: c})
			}
		}
	}
	return out, nil
}

// TicketInBuilds implements Store.
func (m *Memory) TicketInBuilds(ctx context.Context, ticket string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var memberships [][]string
	for _, c := range m.commits() {
		if containsString(c.Fixes, ticket) {
			memberships = append(memberships, c.InBuild)
		}
	}
	return uniqueStrings(memberships), nil
}

// FixesInBuild implements Store.
func (m *Memory) FixesInBuild(ctx context.Context, version string, buildNum int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b model.TopLevelBuild
	if !m.getLocked(model.BuildKey(version, buildNum), &b) {
		return nil, nil
	}
	var out []string
	for _, key := range b.Commits {
		var c model.Commit
		if m.getLocked(key, &c) {
			out = append(out, c.Fixes...)
		}
	}
	return out, nil
}

// MarkQEKickedOff implements Store.
func (m *Memory) MarkQEKickedOff(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b model.TopLevelBuild
	if !m.getLocked(id, &b) {
		return "", nil
	}
	b.QESanity = "true"
	m.putLocked(id, &b)
	return id, nil
}

// AddVM seeds a pool machine.
func (m *Memory) AddVM(vm *VM) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vms[vm.IP] = vm
}

// Provision implements VMStore.
func (m *Memory) Provision(ctx context.Context, platform string, count int, purpose, who string, hours int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	var avail []string
	for ip, vm := range m.vms {
		free := vm.State == "available" || (vm.Expires > 0 && vm.Expires < now)
		if vm.OS == platform && free && containsString(vm.Purpose, purpose) {
			avail = append(avail, ip)
		}
	}
	if len(avail) < count {
		return []string{}, nil
	}
	sort.Strings(avail)
	leased := avail[:count]
	for _, ip := range leased {
		m.vms[ip].State = "reserved"
		m.vms[ip].Who = who
		m.vms[ip].Expires = now + int64(hours)*3600
	}
	return leased, nil
}

// Release implements VMStore.
func (m *Memory) Release(ctx context.Context, ips []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ip := range ips {
		if vm, ok := m.vms[ip]; ok {
			vm.State = "available"
			vm.Who = ""
			vm.Expires = 0
		}
	}
	return ips, nil
}
