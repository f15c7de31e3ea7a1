// Copyright 2016 The bbdb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/hkodungallur/bbdb/common/logging"
	"github.com/hkodungallur/bbdb/config"
)

// CouchbaseVMs is the production VMStore, backed by the pool bucket.
type CouchbaseVMs struct {
	cluster *gocb.Cluster
	col     *gocb.Collection
	bucket  string
}

var _ VMStore = (*CouchbaseVMs)(nil)

// NewCouchbaseVMs connects to the cluster and opens the VM pool bucket.
func NewCouchbaseVMs(cfg *config.Config) (*CouchbaseVMs, error) {
	cluster, err := gocb.Connect(cfg.CouchbaseURL, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.CouchbaseUser,
			Password: cfg.CouchbasePassword,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to couchbase: %w", err)
	}
	bucket := cluster.Bucket(cfg.VMBucket)
	if err := bucket.WaitUntilReady(10*time.Second, nil); err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", cfg.VMBucket, err)
	}
	return &CouchbaseVMs{
		cluster: cluster,
		col:     bucket.DefaultCollection(),
		bucket:  cfg.VMBucket,
	}, nil
}

// Provision implements VMStore. The lease is all or nothing: if fewer
// than count machines can be reserved, any partial reservations are
// rolled back and the caller gets an empty list.
func (s *CouchbaseVMs) Provision(ctx context.Context, platform string, count int, purpose, who string, hours int) ([]string, error) {
	now := time.Now().Unix()
	stmt := fmt.Sprintf(
		"SELECT RAW ip FROM `%s` WHERE os = $os"+
			" AND (state = 'available' OR (expires > 0 AND expires < $now))"+
			" AND ANY p IN purpose SATISFIES p = $purpose END"+
			" ORDER BY ip",
		s.bucket)
	res, err := s.cluster.Query(stmt, &gocb.QueryOptions{
		NamedParameters: map[string]any{"os": platform, "now": now, "purpose": purpose},
		Context:         ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vm pool: %w", err)
	}
	var candidates []string
	for res.Next() {
		var ip string
		if err := res.Row(&ip); err != nil {
			return nil, err
		}
		candidates = append(candidates, ip)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if len(candidates) < count {
		return []string{}, nil
	}

	expires := now + int64(hours)*3600
	var leased []string
	for _, ip := range candidates {
		if len(leased) == count {
			break
		}
		if err := s.reserve(ip, who, expires, now); err != nil {
			// Another caller raced us to this machine; try the next one.
			logging.Debugf(ctx, "vmpool: skipping %s: %s", ip, err)
			continue
		}
		leased = append(leased, ip)
	}
	if len(leased) < count {
		if _, err := s.Release(ctx, leased); err != nil {
			logging.Errorf(ctx, "vmpool: rolling back partial lease: %s", err)
		}
		return []string{}, nil
	}
	return leased, nil
}

// reserve flips one machine to reserved, guarded by CAS against a
// concurrent lease.
func (s *CouchbaseVMs) reserve(ip, who string, expires, now int64) error {
	res, err := s.col.Get(ip, nil)
	if err != nil {
		return err
	}
	var vm VM
	if err := res.Content(&vm); err != nil {
		return err
	}
	if vm.State != "available" && !(vm.Expires > 0 && vm.Expires < now) {
		return errors.New("no longer free")
	}
	vm.State = "reserved"
	vm.Who = who
	vm.Expires = expires
	_, err = s.col.Replace(ip, &vm, &gocb.ReplaceOptions{Cas: res.Cas()})
	return err
}

// Release implements VMStore. Unknown machines are ignored.
func (s *CouchbaseVMs) Release(ctx context.Context, ips []string) ([]string, error) {
	released := []string{}
	for _, ip := range ips {
		res, err := s.col.Get(ip, nil)
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		var vm VM
		if err := res.Content(&vm); err != nil {
			return released, err
		}
		vm.State = "available"
		vm.Who = ""
		vm.Expires = 0
		if _, err := s.col.Replace(ip, &vm, &gocb.ReplaceOptions{Cas: res.Cas()}); err != nil {
			return released, err
		}
		released = append(released, ip)
	}
	return released, nil
}
