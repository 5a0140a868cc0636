// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
)

func buildTCPFrame(t *testing.T, srcIP, dstIP net.IP, tcp layers.TCP) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts, eth, ip, &tcp)
	assert.NoError(t, err)
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func TestDecodeDataFrame_PureSYNInstallsFlow(t *testing.T) {
	frame := buildTCPFrame(t, net.IPv4(10, 0, 0, 5), net.IPv4(172, 17, 17, 2), layers.TCP{
		SrcPort: 40001, DstPort: 80, SYN: true,
	})

	df := DecodeDataFrame(frame)
	assert.True(t, df.IsIPv4)
	assert.True(t, df.SYN)
}

func TestDecodeDataFrame_SYNACKDoesNotInstallFlow(t *testing.T) {
	frame := buildTCPFrame(t, net.IPv4(10, 0, 0, 5), net.IPv4(172, 17, 17, 2), layers.TCP{
		SrcPort: 40001, DstPort: 80, SYN: true, ACK: true,
	})

	df := DecodeDataFrame(frame)
	assert.True(t, df.IsIPv4)
	assert.False(t, df.SYN, "a SYN+ACK must not be treated as a new-flow SYN")
}

func TestDecodeDataFrame_ACKOnlyIsNotSYN(t *testing.T) {
	frame := buildTCPFrame(t, net.IPv4(10, 0, 0, 5), net.IPv4(172, 17, 17, 2), layers.TCP{
		SrcPort: 40001, DstPort: 80, ACK: true,
	})

	df := DecodeDataFrame(frame)
	assert.True(t, df.IsIPv4)
	assert.False(t, df.SYN)
}
