// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package clock

import (
	"context"
	"sync"
	"time"
)

// TestClock is a Clock with additional methods to help instrument it.
type TestClock interface {
	Clock

	// Set sets the test clock's time.
	Set(time.Time)

	// Add advances the test clock's time.
	Add(time.Duration)
}

// testClock is a test-oriented implementation of Clock.
//
// Sleep advances the clock by the full requested duration and returns
// immediately, so retry and poll loops run instantly under test.
type testClock struct {
	sync.Mutex

	now    time.Time
	sleeps []time.Duration
}

var _ TestClock = (*testClock)(nil)

// NewTest returns a TestClock instance set at the specified time.
func NewTest(now time.Time) TestClock {
	return &testClock{now: now}
}

// UseTest installs a new TestClock set at the specified time into the
// Context, returning both.
func UseTest(ctx context.Context, now time.Time) (context.Context, TestClock) {
	tc := NewTest(now)
	return Set(ctx, tc), tc
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *testClock) Set(t time.Time) {
	c.Lock()
	defer c.Unlock()
	c.now = t
}

func (c *testClock) Add(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}
