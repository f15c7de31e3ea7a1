// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"context"
	"io"
	"os"
	"sync"

	gol "github.com/op/go-logging"
)

// StandardFormat prints time, module, logging level, then the message.
const StandardFormat = `%{time:2006-01-02 15:04:05.000} %{module} %{level:.4s}| %{message}`

var (
	defaultOnce sync.Once
	defaultImpl Logger
)

// New creates a Logger backed by the go-logging library, writing messages
// of the given level or above to w.
func New(w io.Writer, level gol.Level) Logger {
	backend := gol.NewBackendFormatter(
		gol.NewLogBackend(w, "", 0),
		gol.MustStringFormatter(StandardFormat))
	leveled := gol.AddModuleLevel(backend)
	leveled.SetLevel(level, "")

	l := gol.MustGetLogger("bbdb")
	l.SetBackend(leveled)
	l.ExtraCalldepth = 1
	return goLogger{l}
}

// Use installs a go-logging backed stderr logger into the Context.
func Use(ctx context.Context, level gol.Level) context.Context {
	return Set(ctx, New(os.Stderr, level))
}

func defaultLogger() Logger {
	defaultOnce.Do(func() {
		defaultImpl = New(os.Stderr, gol.DEBUG)
	})
	return defaultImpl
}

// ParseLevel maps a configuration string to a go-logging level. Anything
// unrecognized defaults to ERROR.
func ParseLevel(s string) gol.Level {
	switch s {
	case "debug", "DEBUG":
		return gol.DEBUG
	case "info", "INFO":
		return gol.INFO
	case "warning", "WARNING":
		return gol.WARNING
	default:
		return gol.ERROR
	}
}

type goLogger struct {
	l *gol.Logger
}

func (g goLogger) Debugf(format string, args ...any)   { g.l.Debugf(format, args...) }
func (g goLogger) Infof(format string, args ...any)    { g.l.Infof(format, args...) }
func (g goLogger) Warningf(format string, args ...any) { g.l.Warningf(format, args...) }
func (g goLogger) Errorf(format string, args ...any)   { g.l.Errorf(format, args...) }
