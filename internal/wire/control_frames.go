// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/zhangmh/ecmpgw/internal/gwtypes"
)

// ProbeFrame is the content of an ECMP probe request or probe reply: the
// candidate 5-tuple's ports carried in the L4 port fields of a TCP/UDP
// header, and the whole 5-tuple (Key.Bytes) carried as the L4 payload,
// in an IPv4 packet addressed into the control subnet (spec §6).
type ProbeFrame struct {
	DstMAC net.HardwareAddr
	SrcMAC net.HardwareAddr
	SrcIP  uint32
	DstIP  uint32
	Key    gwtypes.FlowKey
}

// BuildProbeFrame serializes a probe request or probe reply. The caller
// picks DstIP (172.16.253.x for a request, 172.16.y.z for a reply) and
// Key.Proto (6 or 17) per the addressing table in spec §6.
func BuildProbeFrame(f ProbeFrame) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       f.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	proto := layers.IPProtocol(f.Key.Proto)
	ip := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TTL:        4,
		Id:         backupPacketID,
		Protocol:   proto,
		SrcIP:      uint32ToIP(f.SrcIP),
		DstIP:      uint32ToIP(f.DstIP),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var l4 gopacket.SerializableLayer
	switch proto {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{SrcPort: layers.TCPPort(f.Key.SrcPort), DstPort: layers.TCPPort(f.Key.DstPort)}
		tcp.SetNetworkLayerForChecksum(ip)
		l4 = tcp
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.Key.SrcPort), DstPort: layers.UDPPort(f.Key.DstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		l4 = udp
	default:
		return nil, errNotIPv4Frame
	}

	kb := f.Key.Bytes()
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(kb[:])); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeProbeFrame extracts the candidate 5-tuple and source IP (the
// probing gateway's own address) from a received probe request or
// probe reply frame.
func DecodeProbeFrame(frame []byte) (srcIP uint32, key gwtypes.FlowKey, ok bool) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return 0, gwtypes.FlowKey{}, false
	}
	ip := ipLayer.(*layers.IPv4)

	var srcPort, dstPort uint16
	var proto gwtypes.IPProto
	var body []byte
	switch ip.Protocol {
	case layers.IPProtocolTCP:
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return 0, gwtypes.FlowKey{}, false
		}
		tcp := tcpLayer.(*layers.TCP)
		srcPort, dstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		proto = gwtypes.ProtoTCP
		body = tcp.Payload
	case layers.IPProtocolUDP:
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return 0, gwtypes.FlowKey{}, false
		}
		udp := udpLayer.(*layers.UDP)
		srcPort, dstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		proto = gwtypes.ProtoUDP
		body = udp.Payload
	default:
		return 0, gwtypes.FlowKey{}, false
	}
	if len(body) < 8 {
		return 0, gwtypes.FlowKey{}, false
	}

	key = gwtypes.NewFlowKey(binary.BigEndian.Uint32(body[0:4]), binary.BigEndian.Uint32(body[4:8]), srcPort, dstPort, proto)
	return ipToUint32(ip.SrcIP), key, true
}

// BuildBackupFrame serializes a state-backup push frame: Ethernet/IPv4
// (protocol=0, TTL=4, checksum computed last) carrying the 40-byte
// payload of spec §6.
func BuildBackupFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP uint32, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      4,
		Id:       backupPacketID,
		Protocol: layers.IPProtocol(0),
		SrcIP:    uint32ToIP(srcIP),
		DstIP:    uint32ToIP(dstIP),
	}

	buf := gopacket.NewSerializeBuffer()
	// ComputeChecksums with FixLengths fills in total_length and the IPv4
	// header checksum only after every other field (including the
	// payload) has been written — the fix for the original artifact's
	// checksum-before-fill defect (spec §9).
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeBackupFrame extracts the 40-byte state-backup payload from a
// received frame. The payload is taken from the IPv4 layer itself:
// gopacket reads IPv4 protocol 0 as an IPv6 hop-by-hop header, so no
// application layer is decoded for it.
func DecodeBackupFrame(frame []byte) ([]byte, bool) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, false
	}
	return ipLayer.(*layers.IPv4).Payload, true
}
