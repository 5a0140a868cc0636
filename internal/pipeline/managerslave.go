// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"net"
	"runtime"

	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/wire"
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// RunManagerSlave is the Manager slave's entry point (spec §4.3): it
// pins itself to its OS thread and drains the ring the NF worker
// publishes newly-installed flow keys onto, sending one ECMP probe
// request per key on every enabled port's control queue. Each probe is
// addressed to wire.ProbeDiscoveryAddr and carries the flow's 5-tuple
// reversed (server-to-client direction) rather than as the original
// client packet had it. RunManagerSlave returns when done is closed.
func RunManagerSlave(ctx *GatewayCtx, done <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := ctx.Logger.WithComponent("managerslave")

	for {
		select {
		case <-done:
			return
		default:
		}

		if !slaveDrainOne(ctx, log) {
			runtime.Gosched()
		}
	}
}

// slaveDrainOne pops a single key from the ring and probes for it on
// every enabled port, reporting whether a key was available.
func slaveDrainOne(ctx *GatewayCtx, log *logging.Logger) bool {
	key, ok := ctx.Ring.TryPop()
	if !ok {
		return false
	}

	probeKey := key.Reversed()
	dstMAC := ctx.InterfaceMAC()
	if dstMAC == nil {
		dstMAC = broadcastMAC
	}

	for _, p := range ctx.enabledPorts() {
		frame, err := wire.BuildProbeFrame(wire.ProbeFrame{
			SrcMAC: p.HardwareAddr(),
			DstMAC: dstMAC,
			SrcIP:  ctx.Identity.SelfIP,
			DstIP:  wire.ProbeDiscoveryAddr,
			Key:    probeKey,
		})
		if err != nil {
			log.WithError(err).Warn("probe request build failed")
			ctx.Metrics.ControlFramesDropped.Inc()
			continue
		}
		sent, err := p.SendBurst(1, [][]byte{frame})
		if err != nil || sent == 0 {
			if err != nil {
				log.WithError(err).Warn("probe send failed")
			}
			ctx.Metrics.TransmitFailures.Inc()
			continue
		}
		ctx.Metrics.FramesTransmitted.Inc()
		ctx.Metrics.ProbesSent.Inc()
	}
	return true
}
