// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package restapi serves the machine-facing JSON API used by test
// automation: build status lookups, changelogs, and the VM pool.
package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/store"
)

// Server is the JSON API front end.
type Server struct {
	store store.Store
	vms   store.VMStore
	cfg   *config.Config
}

// New returns a Server reading from s and leasing from vms.
func New(s store.Store, vms store.VMStore, cfg *config.Config) *Server {
	return &Server{store: s, vms: vms, cfg: cfg}
}

// Router returns the API's route table.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/builds/lastunit", s.lastUnit)
	r.GET("/builds/lastsanity", s.lastSanity)
	r.GET("/builds/lastunitsanity", s.lastUnitSanity)
	r.GET("/builds/lastqe", s.lastQE)
	r.GET("/builds/totest", s.toTest)
	r.GET("/builds/info", s.buildInfo)
	r.GET("/builds/tickets", s.buildTickets)
	r.GET("/builds/hasticket", s.hasTicket)
	r.GET("/builds/qekickoff", s.qeKickoff)
	r.GET("/changelog", s.changelog)
	r.GET("/vms/get", s.vmGet)
	r.GET("/vms/release", s.vmRelease)
	return r
}

// ListenAndServe serves the API on the configured address.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.cfg.RestAddr, s.Router())
}

func (s *Server) lastUnit(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	num, err := s.store.LastUnit(req.Context(), version)
	s.reply(w, req, map[string]any{"build_num": num}, err)
}

func (s *Server) lastSanity(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	passedOnly := req.FormValue("passed") == "true"
	num, err := s.store.LastSanity(req.Context(), version, passedOnly)
	s.reply(w, req, map[string]any{"build_num": num}, err)
}

func (s *Server) lastUnitSanity(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	num, err := s.store.LastUnitPlusSanity(req.Context(), version)
	s.reply(w, req, map[string]any{"build_num": num}, err)
}

func (s *Server) lastQE(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	num, err := s.store.LastQE(req.Context(), version)
	s.reply(w, req, map[string]any{"build_num": num}, err)
}

// toTest dispatches on the kind of testing the caller schedules.
func (s *Server) toTest(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	switch req.FormValue("type") {
	case "unit":
		s.toUnitTest(w, req, ps)
	case "sanity":
		s.toSanityTest(w, req, ps)
	default:
		s.badRequest(w, "type must be unit or sanity")
	}
}

func (s *Server) toUnitTest(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	nums, err := s.store.NotYetUnitTested(req.Context(), version, s.limit(req))
	s.reply(w, req, map[string]any{"build_nums": nums}, err)
}

func (s *Server) toSanityTest(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	nums, err := s.store.NotYetSanityTested(req.Context(), version, s.limit(req))
	s.reply(w, req, map[string]any{"build_nums": nums}, err)
}

func (s *Server) buildInfo(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, num, ok := s.build(w, req)
	if !ok {
		return
	}
	b, err := s.store.GetBuild(req.Context(), model.BuildKey(version, num))
	if err == nil && b == nil {
		s.notFound(w)
		return
	}
	s.reply(w, req, b, err)
}

func (s *Server) buildTickets(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, num, ok := s.build(w, req)
	if !ok {
		return
	}
	tickets, err := s.store.FixesInBuild(req.Context(), version, num)
	s.reply(w, req, map[string]any{"tickets": tickets}, err)
}

func (s *Server) hasTicket(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	ticket := req.FormValue("ticket")
	if ticket == "" {
		s.badRequest(w, "ticket is required")
		return
	}
	builds, err := s.store.TicketInBuilds(req.Context(), ticket)
	s.reply(w, req, map[string]any{"builds": builds}, err)
}

func (s *Server) qeKickoff(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, num, ok := s.build(w, req)
	if !ok {
		return
	}
	id, err := s.store.MarkQEKickedOff(req.Context(), model.BuildKey(version, num))
	if err == nil && id == "" {
		s.notFound(w)
		return
	}
	s.reply(w, req, map[string]any{"marked": id}, err)
}

func (s *Server) changelog(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	version, ok := s.version(w, req)
	if !ok {
		return
	}
	from, _ := strconv.Atoi(req.FormValue("fromb"))
	to, _ := strconv.Atoi(req.FormValue("tob"))
	if to == 0 {
		s.badRequest(w, "tob is required")
		return
	}
	entries, err := s.store.Changelog(req.Context(), version, from, to)
	s.reply(w, req, map[string]any{"changelog": entries}, err)
}

func (s *Server) vmGet(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	platform := req.FormValue("platform")
	who := req.FormValue("who")
	if platform == "" || who == "" {
		s.badRequest(w, "platform and who are required")
		return
	}
	count, _ := strconv.Atoi(req.FormValue("count"))
	if count <= 0 {
		count = 1
	}
	hours, _ := strconv.Atoi(req.FormValue("hours"))
	if hours <= 0 {
		hours = 24
	}
	ips, err := s.vms.Provision(req.Context(), platform, count, req.FormValue("purpose"), who, hours)
	s.reply(w, req, map[string]any{"vms": ips}, err)
}

func (s *Server) vmRelease(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	raw := req.FormValue("ips")
	if raw == "" {
		s.badRequest(w, "ips is required")
		return
	}
	released, err := s.vms.Release(req.Context(), strings.Split(raw, ","))
	s.reply(w, req, map[string]any{"released": released}, err)
}

// version reads the required release version parameter.
func (s *Server) version(w http.ResponseWriter, req *http.Request) (string, bool) {
	version := req.FormValue("rel")
	if version == "" {
		s.badRequest(w, "rel is required")
		return "", false
	}
	return version, true
}

// build reads the required version and build number parameters.
func (s *Server) build(w http.ResponseWriter, req *http.Request) (string, int, bool) {
	version, ok := s.version(w, req)
	if !ok {
		return "", 0, false
	}
	num, err := strconv.Atoi(req.FormValue("bldnum"))
	if err != nil || num <= 0 {
		s.badRequest(w, "bldnum is required")
		return "", 0, false
	}
	return version, num, true
}

func (s *Server) limit(req *http.Request) int {
	limit, _ := strconv.Atoi(req.FormValue("limit"))
	if limit <= 0 {
		limit = 10
	}
	return limit
}

func (s *Server) reply(w http.ResponseWriter, req *http.Request, body any, err error) {
	if err != nil {
		logging.Errorf(req.Context(), "restapi: %s %s: %s", req.Method, req.URL.Path, err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
