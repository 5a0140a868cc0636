// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"runtime"

	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/port"
	"github.com/zhangmh/ecmpgw/internal/wire"
)

const masterBurstSize = 64

// RunManagerMaster is the Manager master's entry point (spec §4.2): it
// pins itself to its OS thread and polls queue 1 of every port, demuxing
// each received frame by destination address per the replication
// protocol's addressing convention. RunManagerMaster returns when done
// is closed.
func RunManagerMaster(ctx *GatewayCtx, done <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := ctx.Logger.WithComponent("managermaster")
	bufs := make([][]byte, masterBurstSize)

	for {
		select {
		case <-done:
			return
		default:
		}

		idle := true
		for _, p := range ctx.enabledPorts() {
			n, err := p.RecvBurst(1, bufs)
			if err != nil {
				log.WithError(err).Warn("control queue recv failed")
				continue
			}
			if n == 0 {
				continue
			}
			idle = false
			for _, frame := range bufs[:n] {
				masterHandleFrame(ctx, p, frame, log)
			}
		}
		if idle {
			runtime.Gosched()
		}
	}
}

func masterHandleFrame(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger) {
	kind, _, ok := wire.ClassifyControlFrame(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}

	switch kind {
	case wire.ControlProbeRequest:
		masterHandleProbeRequest(ctx, p, frame, log)
	case wire.ControlProbeReply:
		masterHandleProbeReply(ctx, p, frame, log)
	case wire.ControlBroadcast:
		log.Debug("control broadcast received")
	case wire.ControlBackupPush:
		masterHandleBackupPush(ctx, frame, log)
	default:
		ctx.Metrics.ControlFramesDropped.Inc()
	}
}

// masterHandleProbeRequest answers a probe request unconditionally, by
// address alone: the request's own source address (not a flow-table
// lookup) tells this gateway where to send the reply (spec §4.2.1).
func masterHandleProbeRequest(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger) {
	srcIP, key, ok := wire.DecodeProbeFrame(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}
	reqSrcMAC, _, ok := wire.EthernetAddrs(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}

	reply, err := wire.BuildProbeFrame(wire.ProbeFrame{
		SrcMAC: p.HardwareAddr(),
		DstMAC: reqSrcMAC,
		SrcIP:  ctx.Identity.SelfIP,
		DstIP:  srcIP,
		Key:    key,
	})
	if err != nil {
		log.WithError(err).Warn("probe reply build failed")
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}
	log.Debug("claiming flow state", "node_id", ctx.NodeID, "key", key.String())
	masterTransmit(ctx, p, reply, log, ctx.Metrics.ProbeRepliesSent)
}

// masterHandleProbeReply is the confirmation that some gateway is alive
// for the probed flow: if this gateway still holds local state for that
// flow, it pushes that state to the reply's own source address (the
// responder that ECMP is now routing this flow's probes to, not
// necessarily the configured peer) so it can install the identical
// backend assignment (spec §4.2.2).
func masterHandleProbeReply(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger) {
	backupIP, probeKey, ok := wire.DecodeProbeFrame(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}
	// The probe carries its 5-tuple in the slave's reversed, server-facing
	// convention (spec §4.3); reverse it back to the forward client->server
	// form the flow table is keyed and looked up by.
	key := probeKey.Reversed()
	state, ok := ctx.Table.Lookup(key)
	if !ok {
		return
	}

	replySrcMAC, _, ok := wire.EthernetAddrs(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}

	payload := wire.EncodeBackupPayload(
		key.SrcIP, key.DstIP, key.SrcPort, key.DstPort, uint8(key.Proto),
		state.ServerIP, state.Dip, state.Dport, state.Bip,
	)
	push, err := wire.BuildBackupFrame(p.HardwareAddr(), replySrcMAC, ctx.Identity.SelfIP, wire.BackupPushAddr(backupIP), payload)
	if err != nil {
		log.WithError(err).Warn("backup push build failed")
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}
	masterTransmit(ctx, p, push, log, ctx.Metrics.BackupPushesSent)
}

// masterHandleBackupPush applies a peer's state-backup push to the local
// flow table (spec §4.2.3); Table.Upsert makes re-applying the same push
// idempotent.
func masterHandleBackupPush(ctx *GatewayCtx, frame []byte, log *logging.Logger) {
	payload, ok := wire.DecodeBackupFrame(frame)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}
	decoded, ok := wire.DecodeBackupPayload(payload)
	if !ok {
		ctx.Metrics.ControlFramesDropped.Inc()
		return
	}

	key := gwtypes.NewFlowKey(decoded.SrcIP, decoded.DstIP, decoded.SrcPort, decoded.DstPort, gwtypes.IPProto(decoded.Proto))
	state := gwtypes.FlowState{ServerIP: decoded.ServerIP, Dip: decoded.Dip, Dport: decoded.Dport, Bip: decoded.Bip}
	ctx.Table.Upsert(key, state)
	ctx.Metrics.BackupPushesApplied.Inc()
	log.Debug("backup push applied", "key", key.String(), "state", state.String())
}

func masterTransmit(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger, sentCounter interface{ Inc() }) {
	sent, err := p.SendBurst(1, [][]byte{frame})
	if err != nil {
		log.WithError(err).Warn("control send failed")
		ctx.Metrics.TransmitFailures.Inc()
		return
	}
	if sent == 0 {
		ctx.Metrics.TransmitFailures.Inc()
		return
	}
	ctx.Metrics.FramesTransmitted.Inc()
	sentCounter.Inc()
}
