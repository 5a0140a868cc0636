// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// ParsedARPRequest is the subset of an inbound ARP request the NF worker
// needs to build a reply (spec §4.1 item 1).
type ParsedARPRequest struct {
	SenderHW net.HardwareAddr
	SenderIP net.IP
	TargetIP net.IP
}

// DecodeARPRequest parses frame as an Ethernet+ARP request. It returns
// false if frame is not an ARP request (wrong EtherType or opcode).
func DecodeARPRequest(frame []byte) (ParsedARPRequest, bool) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return ParsedARPRequest{}, false
	}
	arp, ok := arpLayer.(*layers.ARP)
	if !ok || arp.Operation != layers.ARPRequest {
		return ParsedARPRequest{}, false
	}
	return ParsedARPRequest{
		SenderHW: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP: net.IP(arp.SourceProtAddress),
		TargetIP: net.IP(arp.DstProtAddress),
	}, true
}

// BuildARPReply builds the Ethernet+ARP reply frame for a request received
// on an interface with hardware address portMAC and IPv4 address portIP:
// sender/target hardware and protocol addresses are swapped and the
// opcode set to reply, matching the original gateway's in-place rewrite.
func BuildARPReply(req ParsedARPRequest, portMAC net.HardwareAddr, portIP net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       portMAC,
		DstMAC:       req.SenderHW,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   []byte(portMAC),
		SourceProtAddress: []byte(portIP.To4()),
		DstHwAddress:      []byte(req.SenderHW),
		DstProtAddress:    []byte(req.SenderIP.To4()),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
