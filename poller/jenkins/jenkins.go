// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package jenkins is a read-only client for the job server's JSON API.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hkodungallur/bbdb/common/retry"
	"github.com/hkodungallur/bbdb/model"
)

// Job is the depth-0 job document.
type Job struct {
	LastBuild struct {
		Number int `json:"number"`
	} `json:"lastBuild"`
}

// Action is one entry of a build's actions array. Test-result actions
// carry totalCount; its presence marks the action kind.
type Action struct {
	TotalCount *int   `json:"totalCount"`
	FailCount  int    `json:"failCount"`
	SkipCount  int    `json:"skipCount"`
	URLName    string `json:"urlName"`
}

// Run is one matrix axis run of a multi-configuration build.
type Run struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Build is the depth-0 build document.
type Build struct {
	Number    int      `json:"number"`
	Timestamp int64    `json:"timestamp"`
	Result    string   `json:"result"`
	Building  bool     `json:"building"`
	Duration  int64    `json:"duration"`
	BuiltOn   string   `json:"builtOn"`
	URL       string   `json:"url"`
	Actions   []Action `json:"actions"`
	Runs      []Run    `json:"runs"`
}

// TestCounts returns the aggregate test counts and the report URL name,
// if the build published a test-result action.
func (b *Build) TestCounts() (total, fail, skip int, urlName string, ok bool) {
	for _, a := range b.Actions {
		if a.TotalCount != nil {
			return *a.TotalCount, a.FailCount, a.SkipCount, a.URLName, true
		}
	}
	return 0, 0, 0, "", false
}

// ReportCase is one test case of a published test report.
type ReportCase struct {
	Name        string  `json:"name"`
	ClassName   string  `json:"className"`
	Duration    float64 `json:"duration"`
	Status      string  `json:"status"`
	FailedSince int     `json:"failedSince"`
}

// ReportSuite is one suite of a published test report.
type ReportSuite struct {
	Name     string       `json:"name"`
	Duration float64      `json:"duration"`
	Cases    []ReportCase `json:"cases"`
}

// TestReport is the published test report of a build.
type TestReport struct {
	Suites []ReportSuite `json:"suites"`
}

// Client reads the job server's JSON API. Probes are short and retried;
// a job server restart mid-sweep is routine.
type Client struct {
	http *http.Client
}

// NewClient returns a Client with the probe timeout applied.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 3 * time.Second}}
}

func probePolicy(ctx context.Context) retry.Iterator {
	return &retry.TransientOnly{Iterator: retry.Default(ctx)}
}

// getJSON fetches url and decodes the body, retrying transient failures.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return retry.Retry(ctx, probePolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return retry.Transient(fmt.Errorf("jenkins: GET %s: %s", url, resp.Status))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("jenkins: GET %s: %s", url, resp.Status)
		}
		blob, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Transient(err)
		}
		if err := json.Unmarshal(blob, out); err != nil {
			return fmt.Errorf("jenkins: decoding %s: %w", url, err)
		}
		return nil
	}, nil)
}

// JobInfo returns the job document for a job URL.
func (c *Client) JobInfo(ctx context.Context, jobURL string) (*Job, error) {
	job := &Job{}
	if err := c.getJSON(ctx, apiURL(jobURL), job); err != nil {
		return nil, err
	}
	return job, nil
}

// BuildInfo returns the build document for one build number of a job.
func (c *Client) BuildInfo(ctx context.Context, jobURL string, number int) (*Build, error) {
	return c.BuildInfoByURL(ctx, fmt.Sprintf("%s/%d", strings.TrimRight(jobURL, "/"), number))
}

// BuildInfoByURL returns the build document at an explicit build URL, as
// recorded in an incomplete run being resumed.
func (c *Client) BuildInfoByURL(ctx context.Context, buildURL string) (*Build, error) {
	b := &Build{}
	if err := c.getJSON(ctx, apiURL(buildURL), b); err != nil {
		return nil, err
	}
	return b, nil
}

// EnvVars returns the injected environment of a build.
func (c *Client) EnvVars(ctx context.Context, buildURL string) (map[string]string, error) {
	var doc struct {
		EnvMap map[string]string `json:"envMap"`
	}
	url := strings.TrimRight(buildURL, "/") + "/injectedEnvVars/api/json"
	if err := c.getJSON(ctx, url, &doc); err != nil {
		return nil, err
	}
	return doc.EnvMap, nil
}

// TestReport returns the published test report of a build.
func (c *Client) TestReport(ctx context.Context, buildURL string) (*TestReport, error) {
	report := &TestReport{}
	url := strings.TrimRight(buildURL, "/") + "/testReport/api/json"
	if err := c.getJSON(ctx, url, report); err != nil {
		return nil, err
	}
	return report, nil
}

func apiURL(base string) string {
	return strings.TrimRight(base, "/") + "/api/json?depth=0"
}

// ParseTests converts a published report into persisted suites. Sanity
// case names carry their parameters after the first comma; unit case
// names are plain.
func ParseTests(report *TestReport, sanity bool) []model.Suite {
	suites := make([]model.Suite, 0, len(report.Suites))
	for _, rs := range report.Suites {
		suite := model.Suite{
			Suite:    rs.Name,
			Duration: rs.Duration,
			Cases:    make([]model.Case, 0, len(rs.Cases)),
		}
		for _, rc := range rs.Cases {
			tc := model.Case{
				Name:        rc.Name,
				Duration:    rc.Duration,
				Status:      rc.Status,
				FailedSince: rc.FailedSince,
			}
			if sanity {
				name, params, _ := strings.Cut(rc.Name, ",")
				tc.Name = name
				tc.Params = params
			}
			suite.Cases = append(suite.Cases, tc)
		}
		suites = append(suites, suite)
	}
	return suites
}
