// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package gwtypes holds the gateway's core value types: the flow key and
// flow state shared between the NF worker and the Manager, and the
// gateway's own identity (self IP, peer IP, backend pool).
package gwtypes

import (
	"encoding/binary"
	"fmt"
)

// IPProto identifies the IPv4 protocol field values this gateway classifies.
type IPProto uint8

const (
	ProtoICMP IPProto = 1
	ProtoTCP  IPProto = 6
	ProtoUDP  IPProto = 17
	// ProtoState marks a state-backup-push control frame: the replication
	// protocol overloads the IPv4 protocol field with 0 to mean "this
	// payload is a (FlowKey, FlowState) pair, not L4 data".
	ProtoState IPProto = 0
)

// FlowKey is the canonical 5-tuple flow identifier. It is always stored in
// network byte order and is immutable once inserted into the flow table.
// The trailing 3 bytes keep the logical 13-byte key inside a 16-byte slot
// so the whole value is a single aligned word-multiple for hashing.
type FlowKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Proto   IPProto
	_       [3]byte
}

// NewFlowKey canonicalizes a 5-tuple into a FlowKey. All inputs are
// expected already in network byte order, matching how they are read off
// the wire.
func NewFlowKey(srcIP, dstIP uint32, srcPort, dstPort uint16, proto IPProto) FlowKey {
	return FlowKey{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, Proto: proto}
}

// Bytes returns the 16-byte canonical encoding of the key, stable across
// calls, used for hashing and as the 5-tuple payload of probe frames. Its
// first 13 bytes have the same layout as the state-backup payload's
// leading 13 bytes.
func (k FlowKey) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], k.SrcIP)
	binary.BigEndian.PutUint32(b[4:8], k.DstIP)
	binary.BigEndian.PutUint16(b[8:10], k.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], k.DstPort)
	b[12] = byte(k.Proto)
	return b
}

// Hash returns a hash of the key suitable for shard selection. It is a
// stable FNV-1a style fold over the canonical byte encoding.
func (k FlowKey) Hash() uint64 {
	b := k.Bytes()
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// Reversed returns the key with source and destination swapped. The
// Manager slave uses this to send a probe in the direction of the server
// rather than the direction of the original client packet.
func (k FlowKey) Reversed() FlowKey {
	return FlowKey{
		SrcIP:   k.DstIP,
		DstIP:   k.SrcIP,
		SrcPort: k.DstPort,
		DstPort: k.SrcPort,
		Proto:   k.Proto,
	}
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", ipString(k.SrcIP), k.SrcPort, ipString(k.DstIP), k.DstPort, k.Proto)
}

// FlowState is the backend assignment and replication bookkeeping for a
// flow. ServerIP is the backend the flow is pinned to; Dip/Dport/Bip carry
// the peer gateway's view of the flow's direct/backup IPs during ECMP
// reconvergence, per the wire format.
type FlowState struct {
	ServerIP uint32
	Dip      uint32
	Dport    uint16
	Bip      uint32
}

func (s FlowState) String() string {
	return fmt.Sprintf("server=%s dip=%s dport=%d bip=%s",
		ipString(s.ServerIP), ipString(s.Dip), s.Dport, ipString(s.Bip))
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// GatewayIdentity is the process-wide, set-once-at-startup configuration
// of this gateway instance.
type GatewayIdentity struct {
	SelfIP  uint32
	PeerIP  uint32
	DIPPool []uint32
}

// NextBackend returns the backend at position counter mod len(pool), the
// spec's "counter mod N" backend-selection policy. It panics if the pool
// is empty; callers must validate configuration before starting workers.
func (g GatewayIdentity) NextBackend(counter uint64) uint32 {
	n := uint64(len(g.DIPPool))
	if n == 0 {
		panic("gwtypes: empty DIP pool")
	}
	return g.DIPPool[counter%n]
}
