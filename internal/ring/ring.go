// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ring implements the bounded single-producer/single-consumer
// queue carrying newly-installed flow identities from the NF worker to
// the Manager slave. It is a thin wrapper over a buffered channel: no
// polling loop in this gateway may block, so both ends use non-blocking
// try-push/try-pop rather than a plain channel send/receive.
package ring

import "github.com/zhangmh/ecmpgw/internal/gwtypes"

// Ring is safe for exactly one producer goroutine and one consumer
// goroutine, matching the NF-worker-to-Manager-slave relationship. It
// carries FlowKey by value (spec §9's redesign of the original
// pointer-into-slab sharing), eliminating any lifetime coupling between
// producer and consumer.
type Ring struct {
	ch chan gwtypes.FlowKey
}

// New creates a Ring with the given capacity.
func New(capacity int) *Ring {
	return &Ring{ch: make(chan gwtypes.FlowKey, capacity)}
}

// TryPush enqueues key without blocking. It reports false if the ring is
// full; per spec §5/§7, a full ring is a non-fatal condition: the caller
// drops the backup request and the flow remains locally correct but
// unreplicated until a future probe cycle.
func (r *Ring) TryPush(key gwtypes.FlowKey) bool {
	select {
	case r.ch <- key:
		return true
	default:
		return false
	}
}

// TryPop dequeues a key without blocking. It reports false if the ring is
// currently empty.
func (r *Ring) TryPop() (gwtypes.FlowKey, bool) {
	select {
	case k := <-r.ch:
		return k, true
	default:
		return gwtypes.FlowKey{}, false
	}
}

// Len reports the number of queued entries, for diagnostics/tests only.
func (r *Ring) Len() int {
	return len(r.ch)
}

// Cap reports the configured capacity.
func (r *Ring) Cap() int {
	return cap(r.ch)
}
