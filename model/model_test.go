// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package model

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKeys(t *testing.T) {
	Convey(`Document keys`, t, func() {
		Convey(`Top-level build key round-trips through persisted fields.`, func() {
			b := &TopLevelBuild{Version: "4.5.0", BuildNum: 2601}
			So(b.Key(), ShouldEqual, "4.5.0-2601")

			blob, err := json.Marshal(b)
			So(err, ShouldBeNil)
			var back TopLevelBuild
			So(json.Unmarshal(blob, &back), ShouldBeNil)
			So(back.Key(), ShouldEqual, b.Key())
		})

		Convey(`Distro build key includes distro and edition.`, func() {
			d := &DistroBuild{Version: "4.5.0", BuildNum: 2601, Distro: "centos7", Edition: "enterprise"}
			So(d.Key(), ShouldEqual, "4.5.0-2601-centos7-enterprise")
		})

		Convey(`Unit and sanity runs carry distinct suffixes.`, func() {
			u := &TestRun{Type: TypeTestRun, Version: "4.5.0", BuildNum: 2601, Distro: "centos7", Edition: "enterprise"}
			s := &TestRun{Type: TypeSanityRun, Version: "4.5.0", BuildNum: 2601, Distro: "centos7", Edition: "enterprise"}
			So(u.Key(), ShouldEqual, "4.5.0-2601-centos7-enterprise-tests")
			So(s.Key(), ShouldEqual, "4.5.0-2601-centos7-enterprise-sanity-tests")
		})

		Convey(`Commit key is repo-sha.`, func() {
			c := &Commit{Repo: "kv_engine", SHA: "deadbeef"}
			So(c.Key(), ShouldEqual, "kv_engine-deadbeef")
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey(`Normalize`, t, func() {
		Convey(`Makes result sets persist as arrays, not null.`, func() {
			b := &TopLevelBuild{Version: "4.5.0", BuildNum: 1}
			b.Normalize()
			blob, err := json.Marshal(b)
			So(err, ShouldBeNil)
			So(string(blob), ShouldContainSubstring, `"passed":[]`)
			So(string(blob), ShouldContainSubstring, `"failed":[]`)
			So(string(blob), ShouldContainSubstring, `"incomplete":[]`)
			So(string(blob), ShouldContainSubstring, `"type":"top_level_build"`)
		})
	})
}

func TestCurrentState(t *testing.T) {
	Convey(`DistroBuild.CurrentState`, t, func() {
		d := &DistroBuild{}
		So(d.CurrentState(), ShouldEqual, StateIncomplete)
		d.Result = "SUCCESS"
		So(d.CurrentState(), ShouldEqual, StatePassed)
		d.Result = "FAILURE"
		So(d.CurrentState(), ShouldEqual, StateFailed)
		d.Result = "ABORTED"
		So(d.CurrentState(), ShouldEqual, StateFailed)
	})
}

func TestFixedTickets(t *testing.T) {
	Convey(`FixedTickets`, t, func() {
		Convey(`Extracts a single ticket from the title.`, func() {
			So(FixedTickets("CBD-1234: fix crash"), ShouldResemble, []string{"CBD-1234"})
		})

		Convey(`Returns empty for a message without tickets.`, func() {
			So(FixedTickets("no ticket here"), ShouldResemble, []string{})
		})

		Convey(`Only scans the first line.`, func() {
			So(FixedTickets("fix crash\n\nCBD-1234 mentioned in body"), ShouldResemble, []string{})
		})

		Convey(`Keeps order of first appearance, collapsing duplicates.`, func() {
			So(FixedTickets("MB-99 CBD-1 MB-99 fixes"), ShouldResemble, []string{"MB-99", "CBD-1"})
		})

		Convey(`Is case sensitive.`, func() {
			So(FixedTickets("mb-99 lower case"), ShouldResemble, []string{})
		})
	})
}
