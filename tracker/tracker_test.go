// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tracker

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	jira "github.com/andygrunwald/go-jira"

	"github.com/hkodungallur/bbdb/model"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeIssues struct {
	known    map[string]bool
	comments map[string][]string
	broken   map[string]bool
}

func newFakeIssues(known ...string) *fakeIssues {
	f := &fakeIssues{
		known:    map[string]bool{},
		comments: map[string][]string{},
		broken:   map[string]bool{},
	}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func (f *fakeIssues) GetWithContext(ctx context.Context, issueID string, options *jira.GetQueryOptions) (*jira.Issue, *jira.Response, error) {
	if f.broken[issueID] {
		return nil, nil, fmt.Errorf("tracker on fire")
	}
	if !f.known[issueID] {
		resp := &jira.Response{Response: &http.Response{StatusCode: 404}}
		return nil, resp, fmt.Errorf("issue does not exist")
	}
	return &jira.Issue{Key: issueID}, nil, nil
}

func (f *fakeIssues) AddCommentWithContext(ctx context.Context, issueID string, comment *jira.Comment) (*jira.Comment, *jira.Response, error) {
	if f.broken[issueID] {
		return nil, nil, fmt.Errorf("tracker on fire")
	}
	f.comments[issueID] = append(f.comments[issueID], comment.Body)
	return comment, nil, nil
}

func testCommit(fixes ...string) *model.Commit {
	return &model.Commit{
		Type:    model.TypeCommit,
		Repo:    "ep-engine",
		SHA:     "def456",
		Message: "fix rebalance hang\n\ndetails",
		URL:     "http://host/def456",
		Fixes:   fixes,
	}
}

func TestNotify(t *testing.T) {
	Convey(`Notify`, t, func() {
		ctx := context.Background()
		issues := newFakeIssues("MB-1234", "MB-5678")
		n := &Notifier{issues: issues}

		Convey(`Comments on each fixed ticket with the containing build.`, func() {
			n.Notify(ctx, "4.5.0-702", testCommit("MB-1234", "MB-5678"))
			So(issues.comments["MB-1234"], ShouldHaveLength, 1)
			So(issues.comments["MB-5678"], ShouldHaveLength, 1)
			So(issues.comments["MB-1234"][0], ShouldContainSubstring, "Build 4.5.0-702 contains ep-engine commit def456")
			So(issues.comments["MB-1234"][0], ShouldContainSubstring, "fix rebalance hang")
			So(issues.comments["MB-1234"][0], ShouldNotContainSubstring, "details")
		})

		Convey(`A missing ticket does not block the remaining ones.`, func() {
			n.Notify(ctx, "4.5.0-702", testCommit("MB-9999", "MB-1234"))
			So(issues.comments["MB-9999"], ShouldBeEmpty)
			So(issues.comments["MB-1234"], ShouldHaveLength, 1)
		})

		Convey(`A tracker failure on one ticket does not block the rest.`, func() {
			issues.broken["MB-1234"] = true
			n.Notify(ctx, "4.5.0-702", testCommit("MB-1234", "MB-5678"))
			So(issues.comments["MB-1234"], ShouldBeEmpty)
			So(issues.comments["MB-5678"], ShouldHaveLength, 1)
		})

		Convey(`Speculative probe builds are never reported.`, func() {
			n.Notify(ctx, "0.0.0-1456", testCommit("MB-1234"))
			So(issues.comments["MB-1234"], ShouldBeEmpty)
		})
	})
}
