// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"

	"github.com/zhangmh/ecmpgw/internal/flowtable"
	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/metrics"
	"github.com/zhangmh/ecmpgw/internal/port"
	"github.com/zhangmh/ecmpgw/internal/ring"
	"github.com/zhangmh/ecmpgw/internal/wire"
)

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func testCtx(t *testing.T, dipPool []uint32) (*GatewayCtx, *port.Fake) {
	t.Helper()
	p := port.NewFake(net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x01}, net.IPv4(172, 16, 0, 1))
	identity := gwtypes.GatewayIdentity{
		SelfIP:  ip4(172, 16, 1, 1),
		PeerIP:  ip4(172, 16, 1, 2),
		DIPPool: dipPool,
	}
	ctx := NewGatewayCtx(
		identity,
		[]port.Port{p},
		flowtable.New(flowtable.Config{}),
		ring.New(8),
		metrics.New(nil),
		logging.New(logging.DefaultConfig()),
	)
	return ctx, p
}

func buildTCPFrame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP uint32, srcPort, dstPort uint16, syn bool) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(byte(srcIP>>24), byte(srcIP>>16), byte(srcIP>>8), byte(srcIP)),
		DstIP: net.IPv4(byte(dstIP>>24), byte(dstIP>>16), byte(dstIP>>8), byte(dstIP)),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: syn, Seq: 1}
	assert.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, eth, ip, tcp)
	assert.NoError(t, err)
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func buildARPRequestFrame(t *testing.T, senderHW net.HardwareAddr, senderIP, targetIP net.IP) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: senderHW, DstMAC: broadcastMAC, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte(senderHW), SourceProtAddress: []byte(senderIP.To4()),
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte(targetIP.To4()),
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp)
	assert.NoError(t, err)
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func TestNFWorker_SYNInstallsAndForwards(t *testing.T) {
	ctx, p := testCtx(t, []uint32{ip4(10, 1, 0, 5)})
	log := ctx.Logger.WithComponent("test")
	clientMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	switchMAC := net.HardwareAddr{6, 5, 4, 3, 2, 1}

	frame := buildTCPFrame(t, clientMAC, switchMAC, ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, true)
	nfHandleFrame(ctx, p, frame, log)

	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, gwtypes.ProtoTCP)
	state, ok := ctx.Table.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, ip4(10, 1, 0, 5), state.ServerIP)

	ringKey, ok := ctx.Ring.TryPop()
	assert.True(t, ok)
	assert.Equal(t, key, ringKey)

	sent := p.Sent(0)
	assert.Len(t, sent, 1)
	df := wire.DecodeDataFrame(sent[0])
	assert.True(t, df.IsIPv4)
	assert.Equal(t, ip4(10, 1, 0, 5), df.Key.DstIP)
}

func TestNFWorker_DuplicateSYNForwardsExistingAssignment(t *testing.T) {
	ctx, p := testCtx(t, []uint32{ip4(10, 1, 0, 5), ip4(10, 1, 0, 6)})
	log := ctx.Logger.WithComponent("test")
	clientMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	switchMAC := net.HardwareAddr{6, 5, 4, 3, 2, 1}

	frame := buildTCPFrame(t, clientMAC, switchMAC, ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, true)
	nfHandleFrame(ctx, p, frame, log)
	p.Sent(0)
	ctx.Ring.TryPop()

	nfHandleFrame(ctx, p, frame, log)

	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, gwtypes.ProtoTCP)
	state, ok := ctx.Table.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, ip4(10, 1, 0, 5), state.ServerIP, "second SYN must forward to the already-installed backend")

	sent := p.Sent(0)
	assert.Len(t, sent, 1)
	df := wire.DecodeDataFrame(sent[0])
	assert.Equal(t, ip4(10, 1, 0, 5), df.Key.DstIP)
}

func TestNFWorker_EstablishedForward(t *testing.T) {
	ctx, p := testCtx(t, []uint32{ip4(10, 1, 0, 5)})
	log := ctx.Logger.WithComponent("test")
	clientMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	switchMAC := net.HardwareAddr{6, 5, 4, 3, 2, 1}

	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, gwtypes.ProtoTCP)
	assert.NoError(t, ctx.Table.Insert(key, gwtypes.FlowState{ServerIP: ip4(10, 1, 0, 5)}))

	frame := buildTCPFrame(t, clientMAC, switchMAC, ip4(10, 0, 0, 5), ip4(172, 16, 1, 1), 40001, 80, false)
	nfHandleFrame(ctx, p, frame, log)

	sent := p.Sent(0)
	assert.Len(t, sent, 1)
	df := wire.DecodeDataFrame(sent[0])
	assert.Equal(t, ip4(10, 1, 0, 5), df.Key.DstIP)
}

func TestNFWorker_EstablishedLookupMissDrops(t *testing.T) {
	ctx, p := testCtx(t, []uint32{ip4(10, 1, 0, 5)})
	log := ctx.Logger.WithComponent("test")
	clientMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	switchMAC := net.HardwareAddr{6, 5, 4, 3, 2, 1}

	frame := buildTCPFrame(t, clientMAC, switchMAC, ip4(10, 0, 0, 9), ip4(172, 16, 1, 1), 40001, 80, false)
	nfHandleFrame(ctx, p, frame, log)

	assert.Empty(t, p.Sent(0), "non-SYN packet with no installed flow must be dropped")
}

func TestNFWorker_ARPKeepalive(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	senderHW := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	senderIP := net.IPv4(172, 16, 0, 254)

	frame := buildARPRequestFrame(t, senderHW, senderIP, p.IPv4Addr())
	nfHandleFrame(ctx, p, frame, log)

	assert.Equal(t, senderHW, ctx.InterfaceMAC())

	sent := p.Sent(0)
	assert.Len(t, sent, 1)
	packet := gopacket.NewPacket(sent[0], layers.LayerTypeEthernet, gopacket.NoCopy)
	arp := packet.Layer(layers.LayerTypeARP).(*layers.ARP)
	assert.Equal(t, layers.ARPReply, arp.Operation)
	assert.Equal(t, []byte(senderHW), arp.DstHwAddress)
}

func TestManagerMaster_ProbeRequestSendsReply(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	peerMAC := net.HardwareAddr{9, 9, 9, 9, 9, 9}
	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, gwtypes.ProtoTCP)

	req, err := wire.BuildProbeFrame(wire.ProbeFrame{
		SrcMAC: peerMAC, DstMAC: p.HardwareAddr(),
		SrcIP: ip4(172, 16, 1, 2), DstIP: wire.ProbeDiscoveryAddr, Key: key,
	})
	assert.NoError(t, err)

	masterHandleFrame(ctx, p, req, log)

	sent := p.Sent(1)
	assert.Len(t, sent, 1)
	srcIP, gotKey, ok := wire.DecodeProbeFrame(sent[0])
	assert.True(t, ok)
	assert.Equal(t, ctx.Identity.SelfIP, srcIP)
	assert.Equal(t, key, gotKey)
}

func TestManagerMaster_ProbeReplyPushesBackup(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	peerMAC := net.HardwareAddr{9, 9, 9, 9, 9, 9}
	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, gwtypes.ProtoTCP)
	state := gwtypes.FlowState{ServerIP: ip4(10, 1, 0, 2)}
	assert.NoError(t, ctx.Table.Insert(key, state))

	// A probe reply carries its 5-tuple in the slave's reversed,
	// server-facing convention (spec §4.3); the handler reverses it back
	// before looking up the forward key the table was inserted with.
	reply, err := wire.BuildProbeFrame(wire.ProbeFrame{
		SrcMAC: peerMAC, DstMAC: p.HardwareAddr(),
		SrcIP: ctx.Identity.PeerIP, DstIP: ctx.Identity.SelfIP, Key: key.Reversed(),
	})
	assert.NoError(t, err)

	masterHandleFrame(ctx, p, reply, log)

	sent := p.Sent(1)
	assert.Len(t, sent, 1)
	payload, ok := wire.DecodeBackupFrame(sent[0])
	assert.True(t, ok)
	decoded, ok := wire.DecodeBackupPayload(payload)
	assert.True(t, ok)
	assert.Equal(t, state.ServerIP, decoded.ServerIP)
	assert.Equal(t, key.SrcIP, decoded.SrcIP)
}

func TestManagerMaster_ProbeReplyNoLocalStateSendsNothing(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	peerMAC := net.HardwareAddr{9, 9, 9, 9, 9, 9}
	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, gwtypes.ProtoTCP)

	reply, err := wire.BuildProbeFrame(wire.ProbeFrame{
		SrcMAC: peerMAC, DstMAC: p.HardwareAddr(),
		SrcIP: ctx.Identity.PeerIP, DstIP: ctx.Identity.SelfIP, Key: key.Reversed(),
	})
	assert.NoError(t, err)

	masterHandleFrame(ctx, p, reply, log)
	assert.Empty(t, p.Sent(1))
}

func TestManagerMaster_BackupPushApplied(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	peerMAC := net.HardwareAddr{9, 9, 9, 9, 9, 9}

	payload := wire.EncodeBackupPayload(
		ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, uint8(gwtypes.ProtoTCP),
		ip4(10, 1, 0, 9), 0, 0, 0,
	)
	frame, err := wire.BuildBackupFrame(peerMAC, p.HardwareAddr(), ctx.Identity.PeerIP, wire.BackupPushAddr(ctx.Identity.SelfIP), payload)
	assert.NoError(t, err)

	masterHandleFrame(ctx, p, frame, log)

	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, gwtypes.ProtoTCP)
	state, ok := ctx.Table.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, ip4(10, 1, 0, 9), state.ServerIP)

	// Re-applying the identical push must be a no-op, not an error.
	masterHandleFrame(ctx, p, frame, log)
	state2, ok := ctx.Table.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, state, state2)
}

func TestManagerMaster_BroadcastLogsOnly(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")

	eth := &layers.Ethernet{SrcMAC: p.HardwareAddr(), DstMAC: broadcastMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 4, Protocol: layers.IPProtocol(0),
		SrcIP: net.IPv4(172, 16, 1, 1), DstIP: net.IPv4(172, 16, 0, 255)}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, eth, ip)
	assert.NoError(t, err)

	masterHandleFrame(ctx, p, buf.Bytes(), log)
	assert.Empty(t, p.Sent(0))
	assert.Empty(t, p.Sent(1))
}

func TestManagerSlave_DrainsRingAndSendsProbe(t *testing.T) {
	ctx, p := testCtx(t, nil)
	log := ctx.Logger.WithComponent("test")
	key := gwtypes.NewFlowKey(ip4(10, 0, 0, 5), ip4(172, 17, 17, 2), 40001, 80, gwtypes.ProtoTCP)
	assert.True(t, ctx.Ring.TryPush(key))

	drained := slaveDrainOne(ctx, log)
	assert.True(t, drained)

	sent := p.Sent(1)
	assert.Len(t, sent, 1)
	_, gotKey, ok := wire.DecodeProbeFrame(sent[0])
	assert.True(t, ok)
	assert.Equal(t, key.Reversed(), gotKey)

	assert.False(t, slaveDrainOne(ctx, log), "a drained ring must report nothing left")
}
