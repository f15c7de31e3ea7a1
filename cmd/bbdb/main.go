// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command bbdb runs the build database: the job-server poller and the
// two HTTP front ends, each as its own subcommand so deployments can
// scale and restart them independently.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/subcommands"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/frontend/dashboard"
	"github.com/hkodungallur/bbdb/frontend/restapi"
	"github.com/hkodungallur/bbdb/manifest"
	"github.com/hkodungallur/bbdb/poller"
	"github.com/hkodungallur/bbdb/poller/jenkins"
	"github.com/hkodungallur/bbdb/scm"
	"github.com/hkodungallur/bbdb/store"
	"github.com/hkodungallur/bbdb/tracker"
)

type commonRun struct {
	subcommands.CommandRunBase
	configPath string
}

func (r *commonRun) registerFlags() {
	r.Flags.StringVar(&r.configPath, "config", "bbdb.yaml", "path to the YAML configuration file")
}

func (r *commonRun) setup() (context.Context, *config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, nil, err
	}
	ctx := logging.Use(context.Background(), logging.ParseLevel(cfg.LogLevel))
	return ctx, cfg, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "bbdb: %s\n", err)
	return 1
}

var cmdPoll = &subcommands.Command{
	UsageLine: "poll",
	ShortDesc: "polls the job server and reconciles build history",
	LongDesc: "Sweeps every release's build, test and sanity jobs on an interval\n" +
		"and reconciles what it finds into the build-history bucket.",
	CommandRun: func() subcommands.CommandRun {
		r := &pollRun{}
		r.registerFlags()
		return r
	},
}

type pollRun struct {
	commonRun
}

func (r *pollRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx, cfg, err := r.setup()
	if err != nil {
		return fail(err)
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewCouchbase(cfg)
	if err != nil {
		return fail(err)
	}
	repo, err := manifest.OpenGit(cfg.ManifestRepoPath)
	if err != nil {
		return fail(err)
	}
	token, err := cfg.GithubToken()
	if err != nil {
		return fail(err)
	}
	notifier, err := tracker.NewNotifier(cfg)
	if err != nil {
		return fail(err)
	}
	p := poller.New(
		st,
		jenkins.NewClient(),
		manifest.NewDiffer(repo, cfg),
		scm.NewResolver(scm.NewGithub(ctx, token), cfg),
		notifier,
		cfg,
	)

	logging.Infof(ctx, "bbdb: polling every %s", cfg.PollEvery())
	if err := p.RunForever(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fail(err)
	}
	return 0
}

var cmdDashboard = &subcommands.Command{
	UsageLine: "dashboard",
	ShortDesc: "serves the build board",
	LongDesc:  "Serves the human-facing build board over HTTP.",
	CommandRun: func() subcommands.CommandRun {
		r := &dashboardRun{}
		r.registerFlags()
		return r
	},
}

type dashboardRun struct {
	commonRun
}

func (r *dashboardRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx, cfg, err := r.setup()
	if err != nil {
		return fail(err)
	}
	st, err := store.NewCouchbase(cfg)
	if err != nil {
		return fail(err)
	}
	srv, err := dashboard.New(st, cfg)
	if err != nil {
		return fail(err)
	}
	logging.Infof(ctx, "bbdb: dashboard listening on %s", cfg.DashboardAddr)
	return fail(srv.ListenAndServe())
}

var cmdRestAPI = &subcommands.Command{
	UsageLine: "restapi",
	ShortDesc: "serves the JSON API",
	LongDesc:  "Serves the machine-facing JSON API used by test automation.",
	CommandRun: func() subcommands.CommandRun {
		r := &restRun{}
		r.registerFlags()
		return r
	},
}

type restRun struct {
	commonRun
}

func (r *restRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx, cfg, err := r.setup()
	if err != nil {
		return fail(err)
	}
	st, err := store.NewCouchbase(cfg)
	if err != nil {
		return fail(err)
	}
	vms, err := store.NewCouchbaseVMs(cfg)
	if err != nil {
		return fail(err)
	}
	logging.Infof(ctx, "bbdb: rest api listening on %s", cfg.RestAddr)
	return fail(restapi.New(st, vms, cfg).ListenAndServe())
}

var application = &subcommands.DefaultApplication{
	Name:  "bbdb",
	Title: "Build database tools.",
	Commands: []*subcommands.Command{
		cmdPoll,
		cmdDashboard,
		cmdRestAPI,
		subcommands.CmdHelp,
	},
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}
