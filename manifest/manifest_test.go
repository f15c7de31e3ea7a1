// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"context"
	"fmt"
	"testing"

	"github.com/hkodungallur/bbdb/config"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeRepo struct {
	// files[rev][path] = content
	files map[string]map[string]string

	checkouts []string
	pulls     int
}

func (f *fakeRepo) Checkout(branch string) error {
	f.checkouts = append(f.checkouts, branch)
	return nil
}

func (f *fakeRepo) Pull() error {
	f.pulls++
	return nil
}

func (f *fakeRepo) Show(rev, path string) (string, error) {
	if content, ok := f.files[rev][path]; ok {
		return content, nil
	}
	return "", fmt.Errorf("no %s at %s", path, rev)
}

const manifestA = `<manifest>
  <project name="x" revision="1"/>
  <project name="y" revision="2" remote="couchbaselabs"/>
</manifest>`

const manifestB = `<manifest>
  <project name="x" revision="1"/>
  <project name="y" revision="3" remote="couchbaselabs"/>
  <project name="z" revision="1"/>
</manifest>`

func testConfig() *config.Config {
	return &config.Config{
		DefaultRemote:      "couchbase",
		ManifestRepoBranch: "master",
		ManifestMap: map[string]config.ManifestMapping{
			"couchbase-server/watson/4.5.0.xml": {Branch: "watson-4.5.0", File: "watson.xml"},
		},
	}
}

func TestParse(t *testing.T) {
	Convey(`Parse`, t, func() {
		Convey(`Indexes components by name with a default remote.`, func() {
			snap, err := Parse(manifestA, "couchbase")
			So(err, ShouldBeNil)
			So(snap, ShouldResemble, Snapshot{
				"x": {Revision: "1", Remote: "couchbase"},
				"y": {Revision: "2", Remote: "couchbaselabs"},
			})
		})

		Convey(`Rejects malformed XML.`, func() {
			_, err := Parse("<manifest><project", "couchbase")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDiff(t *testing.T) {
	Convey(`Diff`, t, func() {
		Convey(`Identical snapshots produce no work.`, func() {
			snap, err := Parse(manifestA, "couchbase")
			So(err, ShouldBeNil)
			delta := Diff(snap, snap)
			So(delta.Added, ShouldBeEmpty)
			So(delta.Removed, ShouldBeEmpty)
			So(delta.Changed, ShouldBeEmpty)
		})

		Convey(`Reports changed, removed and added components.`, func() {
			cur, err := Parse(manifestA, "couchbase")
			So(err, ShouldBeNil)
			prev, err := Parse(manifestB, "couchbase")
			So(err, ShouldBeNil)

			delta := Diff(cur, prev)
			So(delta.Changed, ShouldResemble, []string{"y"})
			So(delta.Removed, ShouldResemble, []string{"z"})
			So(delta.Added, ShouldBeEmpty)
		})
	})
}

func TestDiffer(t *testing.T) {
	Convey(`Differ`, t, func() {
		ctx := context.Background()
		repo := &fakeRepo{files: map[string]map[string]string{
			"shaA": {"watson.xml": manifestA},
			"shaB": {"watson.xml": manifestB},
		}}
		d := NewDiffer(repo, testConfig())

		Convey(`Checks out the mapped branch, pulls, and diffs both revisions.`, func() {
			delta, err := d.Diff(ctx, "shaA", "shaB", "couchbase-server/watson/4.5.0.xml")
			So(err, ShouldBeNil)
			So(repo.checkouts, ShouldResemble, []string{"watson-4.5.0"})
			So(repo.pulls, ShouldEqual, 1)
			So(delta.Changed, ShouldResemble, []string{"y"})
			So(delta.Removed, ShouldResemble, []string{"z"})
			So(delta.Current["y"].Remote, ShouldEqual, "couchbaselabs")
		})

		Convey(`Surfaces a missing manifest file as an error.`, func() {
			_, err := d.Diff(ctx, "shaA", "shaB", "unmapped.xml")
			So(err, ShouldNotBeNil)
		})
	})
}
