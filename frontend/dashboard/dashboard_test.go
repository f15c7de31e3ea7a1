// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dashboard

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/store"

	. "github.com/smartystreets/goconvey/convey"
)

func seededStore() *store.Memory {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Releases = map[string]model.Release{
		"watson": {ReleaseLines: []model.ReleaseLine{
			{Name: "4.5.0 GA", Version: "4.5.0", Active: true},
		}},
	}

	b := &model.TopLevelBuild{
		Version: "4.5.0", BuildNum: 702, Timestamp: 1460000000000,
		ProductBranch: "watson", UnitResult: model.ResultComplete,
		SanityResult: model.ResultPassed, SanityURL: "http://jenkins/job/sanity/42",
		Commits: []string{"ep-engine-abc"},
	}
	b.Normalize()
	if _, err := mem.InsertBuildHistory(ctx, b, false); err != nil {
		panic(err)
	}
	c := &model.Commit{
		Repo: "ep-engine", SHA: "abc",
		Message: "MB-1234 fix rebalance hang",
		URL:     "http://review/1234",
		Fixes:   []string{"MB-1234"},
		InBuild: []string{"4.5.0-702"},
	}
	if _, err := mem.InsertCommit(ctx, c); err != nil {
		panic(err)
	}
	return mem
}

func TestDashboard(t *testing.T) {
	Convey(`Dashboard`, t, func() {
		cfg := &config.Config{JiraBrowseURL: "https://issues.example.com/browse/"}
		srv, err := New(seededStore(), cfg)
		So(err, ShouldBeNil)
		ts := httptest.NewServer(srv.Router())
		defer ts.Close()

		get := func(path string) (int, string) {
			resp, err := http.Get(ts.URL + path)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			return resp.StatusCode, string(body)
		}

		Convey(`The board lists active release lines and their builds.`, func() {
			code, body := get("/")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "4.5.0 GA")
			So(body, ShouldContainSubstring, "4.5.0-702")
			So(body, ShouldContainSubstring, model.ResultPassed)
		})

		Convey(`The changelog form renders empty.`, func() {
			code, body := get("/changelog")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "<form")
			So(body, ShouldNotContainSubstring, "no value")
		})

		Convey(`The changelog links commits and tickets.`, func() {
			code, body := get("/getchangelog?rel=4.5.0&fromb=701&tob=702")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "MB-1234 fix rebalance hang")
			So(body, ShouldContainSubstring, "http://review/1234")
			So(body, ShouldContainSubstring, "https://issues.example.com/browse/MB-1234")
		})

		Convey(`A changelog request without a range is rejected.`, func() {
			code, _ := get("/getchangelog?rel=4.5.0")
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
