// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/zhangmh/ecmpgw/internal/gwtypes"
)

// DataFrame is a parsed data-queue frame: an Ethernet/ARP/IPv4 packet the
// NF worker classifies per spec §4.1.
type DataFrame struct {
	IsARP bool
	ARP   ParsedARPRequest

	IsIPv4  bool
	Key     gwtypes.FlowKey
	SYN     bool
	ipv4    *layers.IPv4
	payload []byte
}

// DecodeDataFrame parses an inbound Ethernet frame from the data queue.
// EtherType 0x0806 (ARP) and 0x0800 (IPv4, TCP or UDP) are recognized;
// anything else reports IsARP=false, IsIPv4=false so the caller drops it.
func DecodeDataFrame(frame []byte) DataFrame {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	if arpLayer := packet.Layer(layers.LayerTypeARP); arpLayer != nil {
		arp := arpLayer.(*layers.ARP)
		if arp.Operation == layers.ARPRequest {
			return DataFrame{
				IsARP: true,
				ARP: ParsedARPRequest{
					SenderHW: cloneHW(arp.SourceHwAddress),
					SenderIP: cloneIP(arp.SourceProtAddress),
					TargetIP: cloneIP(arp.DstProtAddress),
				},
			}
		}
		return DataFrame{}
	}

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return DataFrame{}
	}
	ip := ipLayer.(*layers.IPv4)

	var srcPort, dstPort uint16
	var synFlag bool
	var proto gwtypes.IPProto

	switch ip.Protocol {
	case layers.IPProtocolTCP:
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return DataFrame{}
		}
		tcp := tcpLayer.(*layers.TCP)
		srcPort, dstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		// A new-flow install requires an exact pure-SYN packet (flags == 0x02),
		// not merely the SYN bit set: a SYN+ACK or SYN+ECE must not re-trigger
		// backend allocation for an already-established flow.
		synFlag = tcp.SYN && !tcp.ACK && !tcp.FIN && !tcp.RST && !tcp.PSH && !tcp.URG && !tcp.ECE && !tcp.CWR && !tcp.NS
		proto = gwtypes.ProtoTCP
	case layers.IPProtocolUDP:
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return DataFrame{}
		}
		udp := udpLayer.(*layers.UDP)
		srcPort, dstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		proto = gwtypes.ProtoUDP
	default:
		return DataFrame{}
	}

	key := gwtypes.NewFlowKey(
		binary.BigEndian.Uint32(ip.SrcIP.To4()),
		binary.BigEndian.Uint32(ip.DstIP.To4()),
		srcPort, dstPort, proto,
	)

	return DataFrame{
		IsIPv4: true,
		Key:    key,
		SYN:    synFlag,
		ipv4:   ip,
	}
}

// EthernetAddrs returns the source/destination MAC addresses of an
// Ethernet frame, without decoding any further layer.
func EthernetAddrs(frame []byte) (src, dst net.HardwareAddr, ok bool) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, nil, false
	}
	eth := ethLayer.(*layers.Ethernet)
	return cloneHW(eth.SrcMAC), cloneHW(eth.DstMAC), true
}

// RewriteDestination returns the data frame re-serialized with its IPv4
// destination address replaced by newDst (network order), as the NF
// worker does before transmitting an established or newly-installed flow
// (spec §4.1 items 3). dstMAC/srcMAC become the outer Ethernet addresses.
func RewriteDestination(frame []byte, newDst uint32, srcMAC, dstMAC []byte) ([]byte, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ethLayer == nil || ipLayer == nil {
		return nil, errNotIPv4Frame
	}
	eth := ethLayer.(*layers.Ethernet)
	ip := ipLayer.(*layers.IPv4)

	eth.SrcMAC = srcMAC
	eth.DstMAC = dstMAC
	ip.DstIP = uint32ToIP(newDst)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var serializable []gopacket.SerializableLayer
	serializable = append(serializable, eth, ip)
	switch l4 := packet.Layer(layers.LayerTypeTCP); {
	case l4 != nil:
		tcp := l4.(*layers.TCP)
		tcp.SetNetworkLayerForChecksum(ip)
		serializable = append(serializable, tcp)
	default:
		if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp := udpLayer.(*layers.UDP)
			udp.SetNetworkLayerForChecksum(ip)
			serializable = append(serializable, udp)
		}
	}
	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		serializable = append(serializable, gopacket.Payload(appLayer.Payload()))
	}

	if err := gopacket.SerializeLayers(buf, opts, serializable...); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
