// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"runtime"

	"github.com/zhangmh/ecmpgw/internal/errors"
	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/port"
	"github.com/zhangmh/ecmpgw/internal/wire"
)

// nfBurstSize bounds how many frames a single RecvBurst call drains from
// one port's data queue per poll iteration.
const nfBurstSize = 64

// RunNFWorker is the NF worker's entry point (spec §4.1): it pins itself
// to its OS thread and polls queue 0 of every port, never blocking.
// ARP requests are answered and learn the upstream MAC; a SYN allocates a
// backend and installs flow state, publishing the new key onto the ring
// for replication; every other recognized packet is forwarded according
// to existing flow state or dropped for lack of it. RunNFWorker returns
// when done is closed.
func RunNFWorker(ctx *GatewayCtx, done <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := ctx.Logger.WithComponent("nfworker")
	bufs := make([][]byte, nfBurstSize)

	for {
		select {
		case <-done:
			return
		default:
		}

		idle := true
		for _, p := range ctx.enabledPorts() {
			n, err := p.RecvBurst(0, bufs)
			if err != nil {
				log.WithError(err).Warn("data queue recv failed")
				continue
			}
			if n == 0 {
				continue
			}
			idle = false
			for _, frame := range bufs[:n] {
				nfHandleFrame(ctx, p, frame, log)
			}
		}
		if idle {
			runtime.Gosched()
		}
	}
}

func nfHandleFrame(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger) {
	df := wire.DecodeDataFrame(frame)

	switch {
	case df.IsARP:
		nfHandleARP(ctx, p, df, log)
	case df.IsIPv4:
		nfHandleIPv4(ctx, p, frame, df, log)
	default:
		ctx.Metrics.FramesMalformed.Inc()
	}
}

func nfHandleARP(ctx *GatewayCtx, p port.Port, df wire.DataFrame, log *logging.Logger) {
	ctx.SetInterfaceMAC(df.ARP.SenderHW)

	reply, err := wire.BuildARPReply(df.ARP, p.HardwareAddr(), p.IPv4Addr())
	if err != nil {
		log.WithError(err).Warn("arp reply build failed")
		ctx.Metrics.FramesMalformed.Inc()
		return
	}
	nfTransmit(ctx, p, reply, log)
}

// nfHandleIPv4 installs or looks up flow state for a data-queue IPv4
// packet and forwards it to the assigned backend (spec §4.1 items 2-3).
// A duplicate SYN (the same 5-tuple arriving twice before the first
// install is visible, or a legitimate retransmit) forwards using the
// already-installed backend rather than being dropped.
func nfHandleIPv4(ctx *GatewayCtx, p port.Port, frame []byte, df wire.DataFrame, log *logging.Logger) {
	var state gwtypes.FlowState

	if df.SYN {
		backend, err := ctx.NextBackend()
		if err != nil {
			log.WithError(err).Warn("no backend available")
			ctx.Metrics.FlowInsertFull.Inc()
			return
		}
		state = gwtypes.FlowState{ServerIP: backend}

		if err := ctx.Table.Insert(df.Key, state); err != nil {
			if errors.GetKind(err) != errors.KindConflict {
				ctx.Metrics.FlowInsertFull.Inc()
				return
			}
			ctx.Metrics.FlowInsertDup.Inc()
			existing, ok := ctx.Table.Lookup(df.Key)
			if !ok {
				return
			}
			state = existing
		} else {
			ctx.Metrics.FlowsInserted.Inc()
			if !ctx.Ring.TryPush(df.Key) {
				ctx.Metrics.RingFullDrops.Inc()
			}
		}
	} else {
		found, ok := ctx.Table.Lookup(df.Key)
		if !ok {
			ctx.Metrics.FlowLookupMiss.Inc()
			return
		}
		state = found
	}

	srcMAC, dstMAC, ok := wire.EthernetAddrs(frame)
	if !ok {
		ctx.Metrics.FramesMalformed.Inc()
		return
	}
	out, err := wire.RewriteDestination(frame, state.ServerIP, srcMAC, dstMAC)
	if err != nil {
		log.WithError(err).Warn("destination rewrite failed")
		ctx.Metrics.FramesMalformed.Inc()
		return
	}
	nfTransmit(ctx, p, out, log)
}

func nfTransmit(ctx *GatewayCtx, p port.Port, frame []byte, log *logging.Logger) {
	sent, err := p.SendBurst(0, [][]byte{frame})
	if err != nil {
		log.WithError(err).Warn("send failed")
		ctx.Metrics.TransmitFailures.Inc()
		return
	}
	if sent == 0 {
		ctx.Metrics.TransmitFailures.Inc()
		return
	}
	ctx.Metrics.FramesTransmitted.Inc()
}
