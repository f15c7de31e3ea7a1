// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package retry

import (
	"context"
	"time"
)

// Default is a Factory with the retry parameters used for job server
// probes: a handful of attempts with a fixed short delay, matching the
// behavior the polling infrastructure has always had.
func Default(context.Context) Iterator {
	return &Limited{
		Delay:   5 * time.Second,
		Retries: 4,
	}
}

// Backoff is a Factory for calls where hammering the remote on failure is
// unhelpful (source control host, issue tracker).
func Backoff(context.Context) Iterator {
	return &ExponentialBackoff{
		Limited: Limited{
			Delay:   200 * time.Millisecond,
			Retries: 5,
		},
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
	}
}
