// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package clock is an interface to system time, allowing time-dependent
// code to be instrumented in tests.
package clock

import (
	"context"
	"time"
)

// Clock is an interface to system time.
//
// The standard clock is the system clock. A test clock is available to
// simulate time facilities for testing.
type Clock interface {
	// Now returns the current time (see time.Now).
	Now() time.Time

	// Sleep suspends the current goroutine for the given duration, or until
	// the supplied Context is canceled, whichever comes first. It returns the
	// Context's error if it woke up due to cancellation.
	Sleep(context.Context, time.Duration) error
}

var clockKey = "bbdb/common/clock"

// Get returns the Clock installed in the Context, or the system clock if
// none is installed.
func Get(ctx context.Context) Clock {
	if c, ok := ctx.Value(&clockKey).(Clock); ok {
		return c
	}
	return systemClock{}
}

// Set installs a Clock into a Context.
func Set(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, &clockKey, c)
}

// Now calls Clock.Now on the Context's clock.
func Now(ctx context.Context) time.Time {
	return Get(ctx).Now()
}

// Sleep calls Clock.Sleep on the Context's clock.
func Sleep(ctx context.Context, d time.Duration) error {
	return Get(ctx).Sleep(ctx, d)
}

// systemClock falls through to the system time library.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
