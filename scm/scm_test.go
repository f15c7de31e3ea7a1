// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hkodungallur/bbdb/common/clock"
	"github.com/hkodungallur/bbdb/common/retry"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeClient struct {
	// compares["owner/repo base...head"] and lists["owner/repo sha"].
	compares map[string][]HostCommit
	lists    map[string][]HostCommit

	lastList ListOptions
	failures int
	calls    int
}

func (f *fakeClient) Compare(ctx context.Context, owner, repo, base, head string) ([]HostCommit, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, retry.Transient(fmt.Errorf("host unreachable"))
	}
	key := fmt.Sprintf("%s/%s %s...%s", owner, repo, base, head)
	commits, ok := f.compares[key]
	if !ok {
		return nil, fmt.Errorf("no compare for %q", key)
	}
	return commits, nil
}

func (f *fakeClient) ListCommits(ctx context.Context, owner, repo string, opts ListOptions) ([]HostCommit, error) {
	f.calls++
	f.lastList = opts
	key := fmt.Sprintf("%s/%s %s", owner, repo, opts.SHA)
	commits, ok := f.lists[key]
	if !ok {
		return nil, fmt.Errorf("no listing for %q", key)
	}
	return commits, nil
}

func resolverConfig() *config.Config {
	return &config.Config{
		Remotes: map[string]string{
			"couchbase":     "couchbase",
			"couchbaselabs": "couchbaselabs",
		},
		DefaultRemote:      "couchbase",
		ManifestRepoOwner:  "couchbase",
		ManifestRepoName:   "manifest",
		ManifestRepoBranch: "master",
		ManifestMap: map[string]config.ManifestMapping{
			"couchbase-server/watson/4.5.0.xml": {Branch: "watson-4.5.0", File: "watson.xml"},
		},
	}
}

func TestResolver(t *testing.T) {
	Convey(`Resolver`, t, func() {
		ctx, _ := clock.UseTest(context.Background(), time.Unix(1460000000, 0))
		cl := &fakeClient{
			compares: map[string][]HostCommit{
				"couchbase/ep-engine abc...def": {
					{
						SHA:     "def",
						Author:  model.Ident{Name: "a", Email: "a@example.com"},
						Message: "MB-1234 fix rebalance hang\n\nLonger body MB-9999",
						URL:     "http://host/def",
					},
				},
			},
			lists: map[string][]HostCommit{
				"couchbaselabs/new-repo def": {
					{SHA: "def", Message: "initial import"},
				},
			},
		}
		r := NewResolver(cl, resolverConfig())

		Convey(`ResolveChanged normalizes host commits with tickets.`, func() {
			commits, err := r.ResolveChanged(ctx, "ep-engine", "", "abc", "def")
			So(err, ShouldBeNil)
			So(commits, ShouldHaveLength, 1)
			So(commits[0].Type, ShouldEqual, model.TypeCommit)
			So(commits[0].Key(), ShouldEqual, "ep-engine-def")
			So(commits[0].Fixes, ShouldResemble, []string{"MB-1234"})
			So(commits[0].Author.Name, ShouldEqual, "a")
		})

		Convey(`ResolveChanged retries transient host failures.`, func() {
			cl.failures = 2
			commits, err := r.ResolveChanged(ctx, "ep-engine", "", "abc", "def")
			So(err, ShouldBeNil)
			So(commits, ShouldHaveLength, 1)
			So(cl.calls, ShouldEqual, 3)
		})

		Convey(`ResolveChanged surfaces hard errors without retrying.`, func() {
			_, err := r.ResolveChanged(ctx, "no-such-repo", "", "abc", "def")
			So(err, ShouldNotBeNil)
			So(cl.calls, ShouldEqual, 1)
		})

		Convey(`ResolveAdded lists commits of the added component's revision.`, func() {
			commits, err := r.ResolveAdded(ctx, "new-repo", "couchbaselabs", "def")
			So(err, ShouldBeNil)
			So(commits, ShouldHaveLength, 1)
			So(commits[0].Fixes, ShouldBeEmpty)
		})

		Convey(`Unknown remote groups are configuration errors.`, func() {
			_, err := r.ResolveChanged(ctx, "ep-engine", "unknown", "abc", "def")
			So(err, ShouldNotBeNil)
			So(cl.calls, ShouldEqual, 0)
		})
	})
}

func TestManifestSHA(t *testing.T) {
	Convey(`ManifestSHA`, t, func() {
		ctx := context.Background()
		cl := &fakeClient{
			lists: map[string][]HostCommit{
				"couchbase/manifest watson-4.5.0": {
					{SHA: "s3", Message: "4.5.0 build 703"},
					{SHA: "s2", Message: "4.5.0 build 702"},
					{SHA: "s1", Message: "4.5.0 build 701"},
				},
			},
		}
		r := NewResolver(cl, resolverConfig())

		Convey(`Finds the manifest commit naming the build.`, func() {
			sha, err := r.ManifestSHA(ctx, "couchbase-server/watson/4.5.0.xml", 1460000000000, "4.5.0 build 702")
			So(err, ShouldBeNil)
			So(sha, ShouldEqual, "s2")
			So(cl.lastList.Path, ShouldEqual, "watson.xml")
			So(cl.lastList.Until, ShouldEqual, time.Unix(1460000000, 0))
		})

		Convey(`Returns empty when no manifest commit matches.`, func() {
			sha, err := r.ManifestSHA(ctx, "couchbase-server/watson/4.5.0.xml", 1460000000000, "4.5.0 build 999")
			So(err, ShouldBeNil)
			So(sha, ShouldEqual, "")
		})
	})
}
