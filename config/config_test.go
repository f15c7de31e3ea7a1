// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleConfig = `
couchbase_url: couchbase://localhost
couchbase_user: bbdb
couchbase_password: secret
manifest_repo_path: /var/lib/bbdb/build-team-manifests
manifest_repo_owner: couchbase
manifest_repo_name: build-team-manifests
remotes:
  couchbase: couchbase
  couchbaselabs: couchbaselabs
  blevesearch: blevesearch
manifest_map:
  couchbase-server/watson/4.5.0.xml:
    branch: watson-4.5.0
    file: watson.xml
  branch-master.xml:
    branch: master
    file: couchbase-server/master.xml
product_branch_map:
  watson-4.5.0: master
start_build_numbers:
  master: 1
  watson-dp1: 1300
poll_interval_sec: 60
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bbdb.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey(`Load`, t, func() {
		Convey(`Parses a full config and applies defaults.`, func() {
			cfg, err := Load(writeConfig(t, sampleConfig))
			So(err, ShouldBeNil)
			So(cfg.BuildBucket, ShouldEqual, "build-history")
			So(cfg.PollEvery(), ShouldEqual, time.Minute)
			So(cfg.DashboardAddr, ShouldEqual, ":8000")
			So(cfg.MapProductBranch("watson-4.5.0"), ShouldEqual, "master")
			So(cfg.MapProductBranch("sherlock-4.1.1"), ShouldEqual, "sherlock-4.1.1")
			So(cfg.StartBuildNumbers["watson-dp1"], ShouldEqual, 1300)
		})

		Convey(`Maps manifest paths, falling back to the path itself.`, func() {
			cfg, err := Load(writeConfig(t, sampleConfig))
			So(err, ShouldBeNil)

			branch, file := cfg.MapManifest("couchbase-server/watson/4.5.0.xml")
			So(branch, ShouldEqual, "watson-4.5.0")
			So(file, ShouldEqual, "watson.xml")

			branch, file = cfg.MapManifest("couchbase-server/spock.xml")
			So(branch, ShouldEqual, "master")
			So(file, ShouldEqual, "couchbase-server/spock.xml")
		})

		Convey(`Resolves remote owners with a default group.`, func() {
			cfg, err := Load(writeConfig(t, sampleConfig))
			So(err, ShouldBeNil)

			owner, ok := cfg.RemoteOwner("blevesearch")
			So(ok, ShouldBeTrue)
			So(owner, ShouldEqual, "blevesearch")

			owner, ok = cfg.RemoteOwner("")
			So(ok, ShouldBeTrue)
			So(owner, ShouldEqual, "couchbase")

			_, ok = cfg.RemoteOwner("unknown-group")
			So(ok, ShouldBeFalse)
		})

		Convey(`Rejects a config without a couchbase URL.`, func() {
			_, err := Load(writeConfig(t, "manifest_repo_path: /tmp/x\n"))
			So(err, ShouldNotBeNil)
		})
	})
}
