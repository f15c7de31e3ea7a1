// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poller

import (
	"context"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/model"
	"github.com/hkodungallur/bbdb/store"
)

// sanityReferenceDistro is the platform whose sanity outcome stands for
// the whole build on the top-level record.
const sanityReferenceDistro = "centos7"

// Aggregator folds distro, unit and sanity outcomes onto the parent
// top-level build. A missing parent is not an error: the distro sweep can
// outrun the top-level sweep, and the next pass reconciles.
type Aggregator struct {
	store store.Store
}

// NewAggregator returns an Aggregator writing through s.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// UpdateDistroResult moves the distro build's id into the parent's set
// matching its current state. An id lives in exactly one set at a time.
func (a *Aggregator) UpdateDistroResult(ctx context.Context, d *model.DistroBuild) error {
	parent, err := a.store.GetBuild(ctx, model.BuildKey(d.Version, d.BuildNum))
	if err != nil {
		return err
	}
	if parent == nil {
		logging.Debugf(ctx, "poll: no parent build for %s yet", d.Key())
		return nil
	}
	id := d.Key()
	parent.Passed = removeString(parent.Passed, id)
	parent.Failed = removeString(parent.Failed, id)
	parent.Incomplete = removeString(parent.Incomplete, id)
	switch d.CurrentState() {
	case model.StatePassed:
		parent.Passed = append(parent.Passed, id)
	case model.StateFailed:
		parent.Failed = append(parent.Failed, id)
	default:
		parent.Incomplete = append(parent.Incomplete, id)
	}
	_, err = a.store.InsertBuildHistory(ctx, parent, true)
	return err
}

// UpdateUnitResult merges one unit run's outcome into the parent's unit
// URL set and recomputes the roll-up.
func (a *Aggregator) UpdateUnitResult(ctx context.Context, version string, buildNum int, url, result string) error {
	parent, err := a.store.GetBuild(ctx, model.BuildKey(version, buildNum))
	if err != nil {
		return err
	}
	if parent == nil {
		logging.Debugf(ctx, "poll: no parent build for unit run %s yet", url)
		return nil
	}
	merged := false
	for i := range parent.UnitURLs {
		if parent.UnitURLs[i].URL == url {
			parent.UnitURLs[i].Result = result
			merged = true
			break
		}
	}
	if !merged {
		parent.UnitURLs = append(parent.UnitURLs, model.UnitURL{URL: url, Result: result})
	}
	parent.UnitResult = model.ResultComplete
	for _, u := range parent.UnitURLs {
		if u.Result == model.ResultIncomplete {
			parent.UnitResult = model.ResultIncomplete
			break
		}
	}
	if parent.UnitResult == model.ResultComplete {
		parent.Unit = "true"
	}
	_, err = a.store.InsertBuildHistory(ctx, parent, true)
	return err
}

// UpdateSanityResult records the reference platform's sanity outcome on
// the parent. Other platforms keep their results on the distro record
// only.
func (a *Aggregator) UpdateSanityResult(ctx context.Context, version string, buildNum int, distro, result, url string) error {
	if distro != sanityReferenceDistro {
		return nil
	}
	parent, err := a.store.GetBuild(ctx, model.BuildKey(version, buildNum))
	if err != nil {
		return err
	}
	if parent == nil {
		logging.Debugf(ctx, "poll: no parent build for sanity run %s yet", url)
		return nil
	}
	// The flag flips only once the matrix completes; an in-flight run
	// records just its result and callback URL.
	if result != model.ResultIncomplete {
		parent.Sanity = "true"
	}
	parent.SanityResult = result
	parent.SanityURL = url
	_, err = a.store.InsertBuildHistory(ctx, parent, true)
	return err
}

func removeString(set []string, s string) []string {
	out := set[:0]
	for _, v := range set {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
