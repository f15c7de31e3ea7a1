// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dashboard serves the human-facing build board.
package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/julienschmidt/httprouter"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// recentBuilds is how many builds the board shows per release line.
const recentBuilds = 20

// Server renders the build board.
type Server struct {
	store store.Store
	cfg   *config.Config
	tmpl  *template.Template
}

// New returns a Server rendering from s.
func New(s store.Store, cfg *config.Config) (*Server, error) {
	tmpl, err := template.New("dashboard").Funcs(template.FuncMap{
		"age": func(millis int64) string {
			if millis == 0 {
				return ""
			}
			return humanize.Time(time.UnixMilli(millis))
		},
		"ticketURL": func(ticket string) string {
			return cfg.JiraBrowseURL + ticket
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parsing templates: %w", err)
	}
	return &Server{store: s, cfg: cfg, tmpl: tmpl}, nil
}

// Router returns the dashboard's route table.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/", s.index)
	r.GET("/changelog", s.changelogForm)
	r.GET("/getchangelog", s.changelog)
	return r
}

// ListenAndServe serves the board on the configured address.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.cfg.DashboardAddr, s.Router())
}

type lineView struct {
	Release string
	Line    model.ReleaseLine
	Builds  []*model.TopLevelBuild
}

func (s *Server) index(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	ctx := req.Context()
	lines, err := s.store.ReleaseLines(ctx, true)
	if err != nil {
		s.fail(w, req, err)
		return
	}
	releases := make([]string, 0, len(lines))
	for release := range lines {
		releases = append(releases, release)
	}
	sort.Strings(releases)

	var views []lineView
	for _, release := range releases {
		for _, line := range lines[release] {
			builds, err := s.store.RecentBuilds(ctx, line.Version, recentBuilds)
			if err != nil {
				s.fail(w, req, err)
				return
			}
			views = append(views, lineView{Release: release, Line: line, Builds: builds})
		}
	}
	s.render(w, req, "index.html", map[string]any{"Lines": views})
}

func (s *Server) changelogForm(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	s.render(w, req, "changelog.html", map[string]any{
		"Version": "", "From": 0, "To": 0, "Entries": nil,
	})
}

func (s *Server) changelog(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	ctx := req.Context()
	version := req.FormValue("rel")
	from, _ := strconv.Atoi(req.FormValue("fromb"))
	to, _ := strconv.Atoi(req.FormValue("tob"))
	if version == "" || to == 0 {
		http.Error(w, "rel and tob are required", http.StatusBadRequest)
		return
	}
	entries, err := s.store.Changelog(ctx, version, from, to)
	if err != nil {
		s.fail(w, req, err)
		return
	}
	s.render(w, req, "changelog.html", map[string]any{
		"Version": version,
		"From":    from,
		"To":      to,
		"Entries": entries,
	})
}

func (s *Server) render(w http.ResponseWriter, req *http.Request, name string, data any) {
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		logging.Errorf(req.Context(), "dashboard: rendering %s: %s", name, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, req *http.Request, err error) {
	logging.Errorf(req.Context(), "dashboard: %s %s: %s", req.Method, req.URL.Path, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
