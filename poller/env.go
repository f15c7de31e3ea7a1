// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poller

import (
	"strconv"
	"strings"
)

// buildEnv wraps a build's injected environment. Job configurations have
// drifted over the years, so most values have more than one spelling.
type buildEnv map[string]string

// first returns the first non-empty value among keys.
func (e buildEnv) first(keys ...string) string {
	for _, k := range keys {
		if v := e[k]; v != "" {
			return v
		}
	}
	return ""
}

func (e buildEnv) intVal(keys ...string) int {
	n, _ := strconv.Atoi(e.first(keys...))
	return n
}

func (e buildEnv) version() string  { return e.first("VERSION") }
func (e buildEnv) buildNum() int    { return e.intVal("BLD_NUM") }
func (e buildEnv) manifest() string { return e.first("MANIFEST", "MANIFEST_FILE") }

// unit reports whether unit tests ran inside the build. Jobs predating
// the flag never export it, which means they did not run them.
func (e buildEnv) unit() string {
	if v := e.first("UNIT_TEST"); v != "" {
		return v
	}
	return "false"
}

func (e buildEnv) edition() string {
	if ed := e.first("EDITION"); ed != "" {
		return ed
	}
	return "enterprise"
}

// distro returns the canonical platform name. Windows builds are keyed by
// architecture, and bare ubuntu names gain their point release so they
// match the distro names the test jobs report.
func (e buildEnv) distro() string {
	d := strings.ToLower(e.first("DISTRO", "PLATFORM"))
	switch d {
	case "windows":
		if arch := strings.ToLower(e.first("ARCHITECTURE", "ARCH")); arch != "" {
			return "win-" + arch
		}
		return "win"
	case "ubuntu12":
		return "ubuntu12.04"
	case "ubuntu14":
		return "ubuntu14.04"
	case "ubuntu16":
		return "ubuntu16.04"
	}
	return d
}
