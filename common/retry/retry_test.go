// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hkodungallur/bbdb/common/clock"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLimited(t *testing.T) {
	Convey(`A Limited Iterator`, t, func() {
		ctx := context.Background()
		l := Limited{}

		Convey(`When empty, will return Stop immediately.`, func() {
			So(l.Next(ctx, nil), ShouldEqual, Stop)
		})

		Convey(`With 3 retries, will Stop after three retries.`, func() {
			l.Delay = time.Second
			l.Retries = 3

			So(l.Next(ctx, nil), ShouldEqual, time.Second)
			So(l.Next(ctx, nil), ShouldEqual, time.Second)
			So(l.Next(ctx, nil), ShouldEqual, time.Second)
			So(l.Next(ctx, nil), ShouldEqual, Stop)
		})
	})
}

func TestExponentialBackoff(t *testing.T) {
	Convey(`An ExponentialBackoff Iterator`, t, func() {
		ctx := context.Background()
		e := ExponentialBackoff{
			Limited: Limited{
				Delay:   time.Second,
				Retries: 10,
			},
			Multiplier: 2,
			MaxDelay:   3 * time.Second,
		}

		Convey(`Doubles the delay, capped at MaxDelay.`, func() {
			So(e.Next(ctx, nil), ShouldEqual, time.Second)
			So(e.Next(ctx, nil), ShouldEqual, 2*time.Second)
			So(e.Next(ctx, nil), ShouldEqual, 3*time.Second)
			So(e.Next(ctx, nil), ShouldEqual, 3*time.Second)
		})
	})
}

func TestRetry(t *testing.T) {
	Convey(`Retry, using an instrumented clock`, t, func() {
		ctx, _ := clock.UseTest(context.Background(), time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC))
		boom := errors.New("boom")

		Convey(`Returns nil on first success.`, func() {
			calls := 0
			err := Retry(ctx, Default, func() error {
				calls++
				return nil
			}, nil)
			So(err, ShouldBeNil)
			So(calls, ShouldEqual, 1)
		})

		Convey(`Runs out of retries and returns the last error.`, func() {
			calls := 0
			err := Retry(ctx, func(context.Context) Iterator {
				return &Limited{Delay: time.Second, Retries: 2}
			}, func() error {
				calls++
				return boom
			}, nil)
			So(err, ShouldEqual, boom)
			So(calls, ShouldEqual, 3)
		})

		Convey(`Succeeds after transient failures.`, func() {
			calls := 0
			err := Retry(ctx, Default, func() error {
				calls++
				if calls < 3 {
					return boom
				}
				return nil
			}, nil)
			So(err, ShouldBeNil)
			So(calls, ShouldEqual, 3)
		})

		Convey(`With a nil Factory, does not retry.`, func() {
			calls := 0
			err := Retry(ctx, nil, func() error {
				calls++
				return boom
			}, nil)
			So(err, ShouldEqual, boom)
			So(calls, ShouldEqual, 1)
		})
	})
}

func TestTransient(t *testing.T) {
	Convey(`Transient error tagging`, t, func() {
		boom := errors.New("boom")

		Convey(`Transient(nil) is nil.`, func() {
			So(Transient(nil), ShouldBeNil)
		})

		Convey(`IsTransient sees through wrapping.`, func() {
			So(IsTransient(boom), ShouldBeFalse)
			So(IsTransient(Transient(boom)), ShouldBeTrue)
			So(errors.Is(Transient(boom), boom), ShouldBeTrue)
		})

		Convey(`TransientOnly stops on non-transient errors.`, func() {
			ctx := context.Background()
			it := TransientOnly{&Limited{Delay: time.Second, Retries: 5}}
			So(it.Next(ctx, Transient(boom)), ShouldEqual, time.Second)
			So(it.Next(ctx, boom), ShouldEqual, Stop)
		})
	})
}
