// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wire implements the gateway's on-the-wire formats: Ethernet/ARP
// parsing and reply construction via gopacket, the control-subnet
// demultiplexing predicates of the replication protocol, and the
// hand-rolled codec for the 40-byte state-backup payload.
package wire

import (
	"encoding/binary"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// ControlKind classifies a received control-queue IPv4 frame by
// destination address, per the replication protocol's addressing
// conventions on 172.16.0.0/16.
type ControlKind int

const (
	ControlUnknown ControlKind = iota
	ControlProbeRequest
	ControlProbeReply
	ControlBroadcast
	ControlBackupPush
)

// ControlSubnet is the reserved /16 used for inter-gateway replication
// traffic.
const ControlSubnet = 0xAC100000 // 172.16.0.0

// probeRequestPrefix is 172.16.253.0/24.
const probeRequestPrefix = 0xAC10FD00

// ProbeDiscoveryAddr is the fixed destination address the Manager slave
// addresses every outgoing probe request to. A single reserved address
// (rather than one per peer) suffices for the active/standby pair this
// gateway replicates to (spec §9: GatewayIdentity carries one PeerIP).
const ProbeDiscoveryAddr = probeRequestPrefix | 1

// broadcastAddr is 172.16.0.255/32.
const broadcastAddr = 0xAC1000FF

// backupPushPrefix is 172.16.0.0/24.
const backupPushPrefix = 0xAC100000

// ClassifyControlDest demultiplexes a destination IPv4 address and IP
// protocol field the way the Manager master does (spec §4.2): proto
// TCP/UDP traffic in 172.16.253.0/24 is a probe request, proto TCP/UDP
// traffic anywhere else in 172.16.0.0/16 is a probe reply; proto 0 to the
// exact broadcast address is a reserved broadcast, proto 0 anywhere else
// in 172.16.0.0/24 is a state-backup push.
func ClassifyControlDest(dstIP uint32, proto uint8) ControlKind {
	switch proto {
	case 6, 17:
		if dstIP&0xFFFFFF00 == probeRequestPrefix {
			return ControlProbeRequest
		}
		if dstIP&0xFFFF0000 == ControlSubnet {
			return ControlProbeReply
		}
		return ControlUnknown
	case 0:
		if dstIP == broadcastAddr {
			return ControlBroadcast
		}
		if dstIP&0xFFFFFF00 == backupPushPrefix {
			return ControlBackupPush
		}
		return ControlUnknown
	default:
		return ControlUnknown
	}
}

// ClassifyControlFrame decodes just enough of a control-queue frame (its
// IPv4 header) to classify it, without assuming a particular L4 protocol
// is present the way DecodeDataFrame does.
func ClassifyControlFrame(frame []byte) (kind ControlKind, dstIP uint32, ok bool) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return ControlUnknown, 0, false
	}
	ip := ipLayer.(*layers.IPv4)
	dstIP = ipToUint32(ip.DstIP)
	return ClassifyControlDest(dstIP, uint8(ip.Protocol)), dstIP, true
}

// BackupPushAddr returns the state-backup-push destination address for a
// given responder identity (the configured peer, or whichever gateway a
// probe reply came from): the backup-push prefix with the responder's own
// low byte, keeping the frame inside 172.16.0.0/24 (so ClassifyControlDest
// recognizes it) while still carrying a responder-specific address.
func BackupPushAddr(responderIP uint32) uint32 {
	return backupPushPrefix | (responderIP & 0xFF)
}

// StateBackupPayloadLen is the exact wire size of the state-backup push
// payload (spec §6).
const StateBackupPayloadLen = 40

// backupPacketID is the IPv4 identification field value used on every
// gateway-originated backup/probe packet. The value carries no semantic
// meaning; it is reproduced verbatim from the original implementation
// so wire captures are byte-for-byte comparable against it.
const backupPacketID = 0x36

// EncodeBackupPayload serializes (key, state) into the 40-byte state-backup
// payload described by spec §6. Both the 5-tuple and the state fields are
// written in network byte order (see the byte-order decision in
// SPEC_FULL.md §9: this implementation does not reproduce the original
// artifact's host-order inconsistency for the state fields).
func EncodeBackupPayload(srcIP, dstIP uint32, srcPort, dstPort uint16, proto uint8, serverIP, dip uint32, dport uint16, bip uint32) []byte {
	b := make([]byte, StateBackupPayloadLen)
	binary.BigEndian.PutUint32(b[0:4], srcIP)
	binary.BigEndian.PutUint32(b[4:8], dstIP)
	binary.BigEndian.PutUint16(b[8:10], srcPort)
	binary.BigEndian.PutUint16(b[10:12], dstPort)
	b[12] = proto
	// b[13:16] padding, left zero.
	binary.BigEndian.PutUint32(b[16:20], serverIP)
	binary.BigEndian.PutUint32(b[20:24], dip)
	binary.BigEndian.PutUint16(b[24:26], dport)
	// b[26:28] padding, left zero.
	binary.BigEndian.PutUint32(b[28:32], bip)
	// b[32:40] reserved, left zero.
	return b
}

// DecodedBackup is the parsed form of a state-backup payload.
type DecodedBackup struct {
	SrcIP, DstIP     uint32
	SrcPort, DstPort uint16
	Proto            uint8
	ServerIP, Dip    uint32
	Dport            uint16
	Bip              uint32
}

// DecodeBackupPayload parses a 40-byte state-backup payload. It returns
// false if b is short.
func DecodeBackupPayload(b []byte) (DecodedBackup, bool) {
	if len(b) < StateBackupPayloadLen {
		return DecodedBackup{}, false
	}
	return DecodedBackup{
		SrcIP:    binary.BigEndian.Uint32(b[0:4]),
		DstIP:    binary.BigEndian.Uint32(b[4:8]),
		SrcPort:  binary.BigEndian.Uint16(b[8:10]),
		DstPort:  binary.BigEndian.Uint16(b[10:12]),
		Proto:    b[12],
		ServerIP: binary.BigEndian.Uint32(b[16:20]),
		Dip:      binary.BigEndian.Uint32(b[20:24]),
		Dport:    binary.BigEndian.Uint16(b[24:26]),
		Bip:      binary.BigEndian.Uint32(b[28:32]),
	}, true
}
