// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package retry provides bounded retry-with-backoff policies shared by
// every external call site (job server, source control host, issue
// tracker, document store).
package retry

import (
	"context"
	"time"

	"github.com/hkodungallur/bbdb/common/clock"
)

// Stop is returned by an Iterator to indicate that no more retries should
// be attempted.
const Stop time.Duration = -1

// Iterator describes a retry policy instance's state.
//
// Next is called after each failed attempt with the error that caused the
// failure. It returns the duration to wait before the next attempt, or
// Stop to give up.
type Iterator interface {
	Next(context.Context, error) time.Duration
}

// Factory returns a new Iterator instance. A nil Factory means "no
// retries".
type Factory func(context.Context) Iterator

// Callback is invoked between failed attempts, before sleeping.
type Callback func(error, time.Duration)

// Limited is an Iterator that retries a fixed number of times with a fixed
// delay between attempts.
type Limited struct {
	Delay   time.Duration // Delay between attempts.
	Retries int           // Number of retries after the initial attempt.
}

// Next implements Iterator.
func (i *Limited) Next(ctx context.Context, err error) time.Duration {
	if i.Retries <= 0 {
		return Stop
	}
	i.Retries--
	return i.Delay
}

// ExponentialBackoff is an Iterator with a multiplicative delay growth
// capped at MaxDelay.
type ExponentialBackoff struct {
	Limited

	Multiplier float64
	MaxDelay   time.Duration
}

// Next implements Iterator.
func (i *ExponentialBackoff) Next(ctx context.Context, err error) time.Duration {
	d := i.Limited.Next(ctx, err)
	if d == Stop {
		return Stop
	}
	if i.Multiplier > 1 {
		next := time.Duration(float64(i.Delay) * i.Multiplier)
		if i.MaxDelay > 0 && next > i.MaxDelay {
			next = i.MaxDelay
		}
		i.Delay = next
	}
	return d
}

// Retry executes f, retrying per the policy produced by fac whenever f
// fails. cb, if not nil, is invoked before each sleep. The last error from
// f is returned once the policy gives up or the Context is canceled.
func Retry(ctx context.Context, fac Factory, f func() error, cb Callback) error {
	var it Iterator
	if fac != nil {
		it = fac(ctx)
	}
	for {
		err := f()
		if err == nil {
			return nil
		}
		if it == nil {
			return err
		}
		d := it.Next(ctx, err)
		if d == Stop {
			return err
		}
		if cb != nil {
			cb(err, d)
		}
		if serr := clock.Sleep(ctx, d); serr != nil {
			return err
		}
	}
}
