// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging defines a leveled logging facade carried through the
// Context, so library code never holds a logger of its own.
//
// The default backend writes through go-logging (see gologger.go). Tests
// that want to assert on output can install a Memory logger.
package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Level is a logging severity.
type Level int

// Supported logging levels, least to most severe.
const (
	Debug Level = iota
	Info
	Warning
	Error
)

// Logger is the interface all logging backends implement.
type Logger interface {
	Debugf(fmt string, args ...any)
	Infof(fmt string, args ...any)
	Warningf(fmt string, args ...any)
	Errorf(fmt string, args ...any)
}

var loggerKey = "bbdb/common/logging"

// Set installs a Logger into the Context.
func Set(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

// Get returns the Logger installed in the Context, or a go-logging backed
// stderr logger if none is installed.
func Get(ctx context.Context) Logger {
	if l, ok := ctx.Value(&loggerKey).(Logger); ok {
		return l
	}
	return defaultLogger()
}

// Debugf is a shorthand method to call the current logger's Debugf method.
func Debugf(ctx context.Context, format string, args ...any) {
	Get(ctx).Debugf(format, args...)
}

// Infof is a shorthand method to call the current logger's Infof method.
func Infof(ctx context.Context, format string, args ...any) {
	Get(ctx).Infof(format, args...)
}

// Warningf is a shorthand method to call the current logger's Warningf
// method.
func Warningf(ctx context.Context, format string, args ...any) {
	Get(ctx).Warningf(format, args...)
}

// Errorf is a shorthand method to call the current logger's Errorf method.
func Errorf(ctx context.Context, format string, args ...any) {
	Get(ctx).Errorf(format, args...)
}

// Entry is a single captured log line.
type Entry struct {
	Level Level
	Msg   string
}

// Memory is a Logger that accumulates entries in memory, for tests.
type Memory struct {
	mu      sync.Mutex
	Entries []Entry
}

func (m *Memory) log(l Level, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, Entry{l, fmt.Sprintf(format, args...)})
}

func (m *Memory) Debugf(format string, args ...any)   { m.log(Debug, format, args...) }
func (m *Memory) Infof(format string, args ...any)    { m.log(Info, format, args...) }
func (m *Memory) Warningf(format string, args ...any) { m.log(Warning, format, args...) }
func (m *Memory) Errorf(format string, args ...any)   { m.log(Error, format, args...) }

// Has reports whether any captured entry at the given level contains
// substr.
func (m *Memory) Has(l Level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Level == l && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}
