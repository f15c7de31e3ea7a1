// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package retry

import (
	"context"
	"errors"
	"time"
)

// transientError wraps an error that is considered transient (network
// timeouts, unreachable hosts) and therefore worth retrying.
type transientError struct {
	error
}

func (t transientError) Unwrap() error { return t.error }

// Transient marks an error as transient. Marking nil returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err}
}

// IsTransient reports whether err or anything it wraps was marked with
// Transient.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// TransientOnly is an Iterator that only retries errors marked transient.
type TransientOnly struct {
	Iterator // The wrapped Iterator.
}

// Next implements Iterator.
func (i *TransientOnly) Next(ctx context.Context, err error) time.Duration {
	if !IsTransient(err) {
		return Stop
	}
	return i.Iterator.Next(ctx, err)
}
