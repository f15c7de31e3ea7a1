// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
)

// casRetries bounds the read-modify-write loop in InsertCommit. Contention
// on a single commit document is rare (two sweeps discovering the same
// commit), so a handful of attempts is plenty.
const casRetries = 5

// Couchbase is the production Store, backed by the build-history bucket.
type Couchbase struct {
	cluster *gocb.Cluster
	col     *gocb.Collection
	bucket  string
}

var _ Store = (*Couchbase)(nil)

// NewCouchbase connects to the cluster and opens the build-history bucket.
func NewCouchbase(cfg *config.Config) (*Couchbase, error) {
	cluster, err := gocb.Connect(cfg.CouchbaseURL, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.CouchbaseUser,
			Password: cfg.CouchbasePassword,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to couchbase: %w", err)
	}
	bucket := cluster.Bucket(cfg.BuildBucket)
	if err := bucket.WaitUntilReady(10*time.Second, nil); err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", cfg.BuildBucket, err)
	}
	return &Couchbase{
		cluster: cluster,
		col:     bucket.DefaultCollection(),
		bucket:  cfg.BuildBucket,
	}, nil
}

// get decodes the document into out, reporting absence as (false, nil).
func (s *Couchbase) get(id string, out any) (bool, error) {
	res, err := s.col.Get(id, nil)
	switch {
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get %q: %w", id, err)
	}
	if err := res.Content(out); err != nil {
		return false, fmt.Errorf("decode %q: %w", id, err)
	}
	return true, nil
}

// GetBuild implements Store.
func (s *Couchbase) GetBuild(ctx context.Context, id string) (*model.TopLevelBuild, error) {
	var b model.TopLevelBuild
	ok, err := s.get(id, &b)
	if !ok || err != nil {
		return nil, err
	}
	return &b, nil
}

// GetDistro implements Store.
func (s *Couchbase) GetDistro(ctx context.Context, id string) (*model.DistroBuild, error) {
	var d model.DistroBuild
	ok, err := s.get(id, &d)
	if !ok || err != nil {
		return nil, err
	}
	return &d, nil
}

// GetTestRun implements Store.
func (s *Couchbase) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	var t model.TestRun
	ok, err := s.get(id, &t)
	if !ok || err != nil {
		return nil, err
	}
	return &t, nil
}

// GetCommit implements Store.
func (s *Couchbase) GetCommit(ctx context.Context, id string) (*model.Commit, error) {
	var c model.Commit
	ok, err := s.get(id, &c)
	if !ok || err != nil {
		return nil, err
	}
	return &c, nil
}

// upsertOrInsert writes doc under id. With update=false an existing key is
// a benign duplicate: logged, empty id returned.
func (s *Couchbase) upsertOrInsert(ctx context.Context, id string, doc any, update bool) (string, error) {
	if update {
		if _, err := s.col.Upsert(id, doc, nil); err != nil {
			return "", fmt.Errorf("upsert %q: %w", id, err)
		}
		return id, nil
	}
	_, err := s.col.Insert(id, doc, nil)
	switch {
	case errors.Is(err, gocb.ErrDocumentExists):
		logging.Warningf(ctx, "couldn't create %s, document exists", id)
		return "", nil
	case err != nil:
		return "", fmt.Errorf("insert %q: %w", id, err)
	}
	return id, nil
}

// InsertBuildHistory implements Store.
func (s *Couchbase) InsertBuildHistory(ctx context.Context, b *model.TopLevelBuild, update bool) (string, error) {
	b.Normalize()
	return s.upsertOrInsert(ctx, b.Key(), b, update)
}

// InsertDistroHistory implements Store.
func (s *Couchbase) InsertDistroHistory(ctx context.Context, d *model.DistroBuild, update bool) (string, error) {
	d.Normalize()
	return s.upsertOrInsert(ctx, d.Key(), d, update)
}

// InsertTestHistory implements Store.
func (s *Couchbase) InsertTestHistory(ctx context.Context, t *model.TestRun, update bool) (string, error) {
	if t.Type == "" {
		t.Type = model.TypeTestRun
	}
	return s.upsertOrInsert(ctx, t.Key(), t, update)
}

// InsertCommit implements Store. The membership merge is CAS-protected so
// two sweeps discovering the same commit cannot drop each other's build
// id.
func (s *Couchbase) InsertCommit(ctx context.Context, c *model.Commit) (string, error) {
	c.Type = model.TypeCommit
	id := c.Key()
	if len(c.InBuild) == 0 {
		return "", fmt.Errorf("commit %q has no build membership", id)
	}
	inBuild := c.InBuild[0]

	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := s.col.Get(id, nil)
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			_, err = s.col.Insert(id, c, nil)
			if errors.Is(err, gocb.ErrDocumentExists) {
				continue // lost the creation race, merge instead
			}
			if err != nil {
				return "", fmt.Errorf("insert commit %q: %w", id, err)
			}
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("get commit %q: %w", id, err)
		}

		var existing model.Commit
		if err := res.Content(&existing); err != nil {
			return "", fmt.Errorf("decode commit %q: %w", id, err)
		}
		if containsString(existing.InBuild, inBuild) {
			return id, nil
		}
		existing.InBuild = append(existing.InBuild, inBuild)
		_, err = s.col.Replace(id, &existing, &gocb.ReplaceOptions{Cas: res.Cas()})
		if errors.Is(err, gocb.ErrCasMismatch) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("merge commit %q: %w", id, err)
		}
		return id, nil
	}
	return "", fmt.Errorf("commit %q: too much contention", id)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// query runs a parameterized N1QL statement and decodes each row into a
// fresh T via decode.
func queryRows[T any](s *Couchbase, stmt string, params map[string]any) ([]T, error) {
	res, err := s.cluster.Query(stmt, &gocb.QueryOptions{NamedParameters: params})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer res.Close()

	var out []T
	for res.Next() {
		var row T
		if err := res.Row(&row); err != nil {
			return nil, fmt.Errorf("query row: %w", err)
		}
		out = append(out, row)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// IncompleteBuildURLs implements Store: distro builds whose job had not
// reported a result at last observation.
func (s *Couchbase) IncompleteBuildURLs(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW url FROM `%s` WHERE type = $type AND (result IS NULL OR result = '') AND url IS NOT MISSING",
		s.bucket)
	return queryRows[string](s, stmt, map[string]any{"type": model.TypeDistroBuild})
}

// IncompleteSanityRuns implements Store.
func (s *Couchbase) IncompleteSanityRuns(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW sanity_url FROM `%s` WHERE type = $type AND sanity_result = $res AND sanity_url IS NOT MISSING",
		s.bucket)
	return queryRows[string](s, stmt, map[string]any{
		"type": model.TypeTopLevelBuild,
		"res":  model.ResultIncomplete,
	})
}

// IncompleteUnitRuns implements Store.
func (s *Couchbase) IncompleteUnitRuns(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW u.url FROM `%s` AS b UNNEST b.unit_urls AS u WHERE b.type = $type AND u.result = $res",
		s.bucket)
	return queryRows[string](s, stmt, map[string]any{
		"type": model.TypeTopLevelBuild,
		"res":  model.ResultIncomplete,
	})
}

// Constants implements Store.
func (s *Couchbase) Constants(ctx context.Context) (*model.Constants, error) {
	var c model.Constants
	ok, err := s.get("constants", &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("constants document missing")
	}
	return &c, nil
}

// ReleaseLines implements Store. The all-releases document carries a
// "type" discriminant next to the release entries, so it is decoded
// field by field.
func (s *Couchbase) ReleaseLines(ctx context.Context, onlyActive bool) (map[string][]model.ReleaseLine, error) {
	var raw map[string]json.RawMessage
	ok, err := s.get("all-releases", &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("all-releases document missing")
	}
	all := map[string]model.Release{}
	for rel, blob := range raw {
		if rel == "type" {
			continue
		}
		var info model.Release
		if err := json.Unmarshal(blob, &info); err != nil {
			logging.Warningf(ctx, "all-releases: skipping malformed release %q: %s", rel, err)
			continue
		}
		all[rel] = info
	}
	return filterReleaseLines(all, onlyActive), nil
}

// ReleaseLineInfo implements Store.
func (s *Couchbase) ReleaseLineInfo(ctx context.Context, release, line string) (*model.ReleaseLine, error) {
	lines, err := s.ReleaseLines(ctx, false)
	if err != nil {
		return nil, err
	}
	return findReleaseLine(lines, release, line), nil
}

// RecentBuilds implements Store.
func (s *Couchbase) RecentBuilds(ctx context.Context, version string, limit int) ([]*model.TopLevelBuild, error) {
	stmt := fmt.Sprintf(
		"SELECT b.* FROM `%s` AS b WHERE b.type = $type AND b.version = $version ORDER BY b.build_num DESC LIMIT %d",
		s.bucket, limit)
	rows, err := queryRows[model.TopLevelBuild](s, stmt, map[string]any{
		"type":    model.TypeTopLevelBuild,
		"version": version,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.TopLevelBuild, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (s *Couchbase) lastBuildNum(where string, params map[string]any) (int, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW b.build_num FROM `%s` AS b WHERE b.type = $type AND b.version = $version AND %s ORDER BY b.build_num DESC LIMIT 1",
		s.bucket, where)
	nums, err := queryRows[int](s, stmt, params)
	if err != nil || len(nums) == 0 {
		return 0, err
	}
	return nums[0], nil
}

// LastUnit implements Store.
func (s *Couchbase) LastUnit(ctx context.Context, version string) (int, error) {
	return s.lastBuildNum("b.unit = 'true'", map[string]any{
		"type": model.TypeTopLevelBuild, "version": version,
	})
}

// LastSanity implements Store.
func (s *Couchbase) LastSanity(ctx context.Context, version string, passedOnly bool) (int, error) {
	where := "b.sanity_result IS NOT MISSING"
	if passedOnly {
		where = "b.sanity_result = 'PASSED'"
	}
	return s.lastBuildNum(where, map[string]any{
		"type": model.TypeTopLevelBuild, "version": version,
	})
}

// LastUnitPlusSanity implements Store.
func (s *Couchbase) LastUnitPlusSanity(ctx context.Context, version string) (int, error) {
	return s.lastBuildNum("b.unit = 'true' AND b.sanity_result = 'PASSED'", map[string]any{
		"type": model.TypeTopLevelBuild, "version": version,
	})
}

// LastQE implements Store.
func (s *Couchbase) LastQE(ctx context.Context, version string) (int, error) {
	return s.lastBuildNum("b.qe_sanity = 'true'", map[string]any{
		"type": model.TypeTopLevelBuild, "version": version,
	})
}

// NotYetUnitTested implements Store.
func (s *Couchbase) NotYetUnitTested(ctx context.Context, version string, limit int) ([]int, error) {
	from, err := s.LastUnit(ctx, version)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(
		"SELECT RAW b.build_num FROM `%s` AS b WHERE b.type = $type AND b.version = $version AND b.build_num > $from AND b.unit_result IS MISSING ORDER BY b.build_num DESC LIMIT %d",
		s.bucket, limit)
	return queryRows[int](s, stmt, map[string]any{
		"type": model.TypeTopLevelBuild, "version": version, "from": from,
	})
}

// NotYetSanityTested implements Store.
func (s *Couchbase) NotYetSanityTested(ctx context.Context, version string, limit int) ([]int, error) {
	from, err := s.LastSanity(ctx, version, false)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(
		"SELECT RAW b.build_num FROM `%s` AS b WHERE b.type = $type AND b.version = $version AND b.build_num > $from AND b.failed = [] AND b.incomplete = [] AND b.sanity_result IS MISSING ORDER BY b.build_num DESC LIMIT %d",
		s.bucket, limit)
	return queryRows[int](s, stmt, map[string]any{
		"type": model.TypeTopLevelBuild, "version": version, "from": from,
	})
}

type changelogRow struct {
	BuildNum int `json:"bnum"`
	model.Commit
}

// Changelog implements Store: a key-array join from builds to the commits
// they introduced, in (fromBuild, toBuild].
func (s *Couchbase) Changelog(ctx context.Context, version string, fromBuild, toBuild int) ([]ChangelogEntry, error) {
	stmt := fmt.Sprintf(
		"SELECT b.build_num AS bnum, c.* FROM `%s` AS b JOIN `%s` AS c ON KEYS b.commits "+
			"WHERE b.type = $btype AND c.type = $ctype AND b.version = $version "+
			"AND b.build_num > $from AND b.build_num <= $to",
		s.bucket, s.bucket)
	rows, err := queryRows[changelogRow](s, stmt, map[string]any{
		"btype":   model.TypeTopLevelBuild,
		"ctype":   model.TypeCommit,
		"version": version,
		"from":    fromBuild,
		"to":      toBuild,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ChangelogEntry, len(rows))
	for i, r := range rows {
		out[i] = ChangelogEntry{BuildNum: r.BuildNum, Commit: r.Commit}
	}
	return out, nil
}

// TicketInBuilds implements Store.
func (s *Couchbase) TicketInBuilds(ctx context.Context, ticket string) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW c.in_build FROM `%s` AS c WHERE c.type = $type AND ANY f IN c.fixes SATISFIES f = $ticket END",
		s.bucket)
	memberships, err := queryRows[[]string](s, stmt, map[string]any{
		"type":   model.TypeCommit,
		"ticket": ticket,
	})
	if err != nil {
		return nil, err
	}
	return uniqueStrings(memberships), nil
}

// FixesInBuild implements Store.
func (s *Couchbase) FixesInBuild(ctx context.Context, version string, buildNum int) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT RAW c.fixes FROM `%s` AS b JOIN `%s` AS c ON KEYS b.commits WHERE META(b).id = $id",
		s.bucket, s.bucket)
	fixes, err := queryRows[[]string](s, stmt, map[string]any{
		"id": model.BuildKey(version, buildNum),
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range fixes {
		out = append(out, f...)
	}
	return out, nil
}

// MarkQEKickedOff implements Store.
func (s *Couchbase) MarkQEKickedOff(ctx context.Context, id string) (string, error) {
	b, err := s.GetBuild(ctx, id)
	if err != nil || b == nil {
		return "", err
	}
	b.QESanity = "true"
	if _, err := s.InsertBuildHistory(ctx, b, true); err != nil {
		return "", err
	}
	return id, nil
}

func uniqueStrings(lists [][]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func filterReleaseLines(all map[string]model.Release, onlyActive bool) map[string][]model.ReleaseLine {
	out := map[string][]model.ReleaseLine{}
	for rel, info := range all {
		lines := []model.ReleaseLine{}
		for _, line := range info.ReleaseLines {
			if onlyActive && !line.Active {
				continue
			}
			lines = append(lines, line)
		}
		out[rel] = lines
	}
	return out
}

func findReleaseLine(lines map[string][]model.ReleaseLine, release, line string) *model.ReleaseLine {
	for _, l := range lines[release] {
		if l.Name == line {
			l := l
			return &l
		}
	}
	return nil
}
