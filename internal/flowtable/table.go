// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowtable implements the flow-state table shared between the NF
// worker and the Manager. It is a sharded, RWMutex-guarded hash map: each
// shard serializes its own bucket so readers on one shard never block on
// writers touching another, and within a shard no reader ever observes a
// torn FlowState value because Go map/struct assignment under a held lock
// is atomic with respect to other lock holders.
package flowtable

import (
	"sync"
	"sync/atomic"

	"github.com/zhangmh/ecmpgw/internal/errors"
	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
)

// numShards must be a power of two; shard selection masks the key hash.
const numShards = 64

type shard struct {
	mu sync.RWMutex
	m  map[gwtypes.FlowKey]gwtypes.FlowState
}

// Table is the concurrent flow-state table described by the gateway's
// data model: many readers, multiple writers, linearizable per-key
// operations, no eviction during normal operation.
type Table struct {
	shards   [numShards]shard
	capacity int64
	size     atomic.Int64
	logger   *logging.Logger
}

// Config tunes a Table at construction.
type Config struct {
	// Capacity is the flow count at which Insert starts rejecting new
	// keys; Upsert does not check it. Zero means unbounded.
	Capacity int
	Logger   *logging.Logger
}

// New builds an empty Table.
func New(cfg Config) *Table {
	t := &Table{capacity: int64(cfg.Capacity), logger: cfg.Logger}
	if t.logger == nil {
		t.logger = logging.WithComponent("flowtable")
	}
	for i := range t.shards {
		t.shards[i].m = make(map[gwtypes.FlowKey]gwtypes.FlowState)
	}
	return t
}

func shardIndex(k gwtypes.FlowKey) uint64 {
	return k.Hash() & (numShards - 1)
}

// Insert publishes value for key if and only if key is not already
// present. It is the NF worker's exclusive write path (spec §4.1/§4.4):
// a successful return makes the value visible to lookups on every shard
// reader immediately (the shard's mutex release is the publication point).
func (t *Table) Insert(key gwtypes.FlowKey, value gwtypes.FlowState) error {
	s := &t.shards[shardIndex(key)]

	s.mu.Lock()
	if _, exists := s.m[key]; exists {
		s.mu.Unlock()
		return errors.Errorf(errors.KindConflict, "flowtable: duplicate key %s", key)
	}
	if t.capacity > 0 && t.size.Load() >= t.capacity {
		s.mu.Unlock()
		return errors.Errorf(errors.KindUnavailable, "flowtable: table full (capacity %d)", t.capacity)
	}
	s.m[key] = value
	s.mu.Unlock()

	t.size.Add(1)
	t.logger.Debug("flow installed", "key", key.String(), "state", value.String())
	return nil
}

// Lookup returns the FlowState for key, wait-free with respect to other
// readers and serialized only against writers of the same shard.
func (t *Table) Lookup(key gwtypes.FlowKey) (gwtypes.FlowState, bool) {
	s := &t.shards[shardIndex(key)]
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

// Upsert installs or overwrites the value for key, used exclusively by the
// Manager master's state-backup-push handler (spec §4.2.3). Overwrite with
// an identical value is idempotent by construction: the map write is the
// same regardless of whether the key already held that exact value.
func (t *Table) Upsert(key gwtypes.FlowKey, value gwtypes.FlowState) {
	s := &t.shards[shardIndex(key)]
	s.mu.Lock()
	_, existed := s.m[key]
	s.m[key] = value
	s.mu.Unlock()

	if !existed {
		t.size.Add(1)
	}
	t.logger.Debug("flow replicated", "key", key.String(), "state", value.String())
}

// Len returns the current number of installed flows.
func (t *Table) Len() int64 {
	return t.size.Load()
}

// Delete removes key, if present. The steady-state pipelines never call
// this (spec §4.4: entries are never evicted during normal operation);
// it exists for test teardown and administrative use.
func (t *Table) Delete(key gwtypes.FlowKey) {
	s := &t.shards[shardIndex(key)]
	s.mu.Lock()
	if _, ok := s.m[key]; ok {
		delete(s.m, key)
		s.mu.Unlock()
		t.size.Add(-1)
		return
	}
	s.mu.Unlock()
}
