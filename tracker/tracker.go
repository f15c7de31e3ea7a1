// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tracker posts build-containment comments to the issue tracker
// for the tickets a commit claims to fix.
package tracker

import (
	"context"
	"fmt"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
)

// issueService is the slice of the JIRA API the notifier uses.
type issueService interface {
	GetWithContext(ctx context.Context, issueID string, options *jira.GetQueryOptions) (*jira.Issue, *jira.Response, error)
	AddCommentWithContext(ctx context.Context, issueID string, comment *jira.Comment) (*jira.Comment, *jira.Response, error)
}

// Notifier comments on tracker tickets when a build first contains a
// commit that fixes them.
type Notifier struct {
	issues issueService
}

// NewNotifier returns a Notifier authenticated against the configured
// JIRA instance.
func NewNotifier(cfg *config.Config) (*Notifier, error) {
	tp := jira.BasicAuthTransport{
		Username: cfg.JiraUser,
		Password: cfg.JiraPassword,
	}
	client, err := jira.NewClient(tp.Client(), cfg.JiraURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: connecting to %q: %w", cfg.JiraURL, err)
	}
	return &Notifier{issues: client.Issue}, nil
}

// Notify comments on every ticket the commit fixes, naming the build
// that first contains it.
//
// Notification is best effort: a ticket that does not exist, or a
// tracker hiccup on one ticket, is logged and does not block the rest.
// Speculative probe builds are never reported.
func (n *Notifier) Notify(ctx context.Context, buildID string, c *model.Commit) {
	if strings.HasPrefix(buildID, model.ZeroVersionPrefix) {
		logging.Debugf(ctx, "tracker: skipping probe build %s for %s", buildID, c.Key())
		return
	}
	body := fmt.Sprintf("Build %s contains %s commit %s with commit message:\n%s\n%s",
		buildID, c.Repo, c.SHA, c.Title(), c.URL)
	for _, ticket := range c.Fixes {
		_, resp, err := n.issues.GetWithContext(ctx, ticket, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == 404 {
				logging.Warningf(ctx, "tracker: %s named by %s does not exist", ticket, c.Key())
			} else {
				logging.Errorf(ctx, "tracker: looking up %s: %s", ticket, err)
			}
			continue
		}
		if _, _, err := n.issues.AddCommentWithContext(ctx, ticket, &jira.Comment{Body: body}); err != nil {
			logging.Errorf(ctx, "tracker: commenting on %s: %s", ticket, err)
			continue
		}
		logging.Infof(ctx, "tracker: commented on %s for build %s", ticket, buildID)
	}
}
