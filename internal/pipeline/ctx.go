// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline implements the three pinned worker loops that share a
// GatewayCtx: the NF worker (spec §4.1), the Manager master (§4.2), and
// the Manager slave (§4.3).
package pipeline

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zhangmh/ecmpgw/internal/errors"
	"github.com/zhangmh/ecmpgw/internal/flowtable"
	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/metrics"
	"github.com/zhangmh/ecmpgw/internal/port"
	"github.com/zhangmh/ecmpgw/internal/ring"
)

// GatewayCtx collects every piece of shared mutable state the three
// workers touch, replacing the original artifact's package-level globals
// (spec §9). It is constructed once at startup and passed by pointer into
// each worker's entry point; no worker package keeps its own globals.
type GatewayCtx struct {
	Identity gwtypes.GatewayIdentity
	Ports    []port.Port
	Table    *flowtable.Table
	Ring     *ring.Ring
	Metrics  *metrics.Metrics
	Logger   *logging.Logger

	// NodeID identifies this gateway process in its probe-reply claims
	// ("I, NodeID, claim the state for this flow" — spec §4.2.1). It is
	// generated once per process and carried only in logs: the wire
	// protocol itself identifies gateways by IP, per spec §6.
	NodeID uuid.UUID

	// interfaceMAC is the learned upstream-switch MAC, updated by the NF
	// worker on every inbound ARP request and read by the Manager slave as
	// the destination MAC of the probe requests it sends. The Manager
	// master does not read it: its probe replies and backup pushes go to
	// the source MAC of the frame that triggered them. A single
	// atomic.Pointer gives word-sized, torn-read-free store/load.
	interfaceMAC atomic.Pointer[net.HardwareAddr]

	// synCounter drives the "counter mod N" backend-selection policy
	// (spec §9); it is the NF worker's exclusive write path.
	synCounter atomic.Uint64
}

// NewGatewayCtx builds a GatewayCtx ready to be handed to the three
// worker entry points.
func NewGatewayCtx(identity gwtypes.GatewayIdentity, ports []port.Port, table *flowtable.Table, r *ring.Ring, m *metrics.Metrics, logger *logging.Logger) *GatewayCtx {
	if logger == nil {
		logger = logging.WithComponent("gateway")
	}
	return &GatewayCtx{Identity: identity, Ports: ports, Table: table, Ring: r, Metrics: m, Logger: logger, NodeID: uuid.New()}
}

// InterfaceMAC returns the most recently learned upstream-switch MAC, or
// nil if none has been learned yet.
func (g *GatewayCtx) InterfaceMAC() net.HardwareAddr {
	p := g.interfaceMAC.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetInterfaceMAC records a newly learned upstream-switch MAC.
func (g *GatewayCtx) SetInterfaceMAC(mac net.HardwareAddr) {
	cp := make(net.HardwareAddr, len(mac))
	copy(cp, mac)
	g.interfaceMAC.Store(&cp)
}

// NextBackend allocates the next backend from the DIP pool and advances
// the shared counter.
func (g *GatewayCtx) NextBackend() (uint32, error) {
	if len(g.Identity.DIPPool) == 0 {
		return 0, errors.New(errors.KindInternal, "pipeline: empty DIP pool")
	}
	c := g.synCounter.Add(1) - 1
	return g.Identity.NextBackend(c), nil
}

// enabledPorts returns every configured port; the original gateway gates
// this list with an enabled-port bitmask read from configuration, which
// here is simply "every Port the caller constructed the GatewayCtx with".
func (g *GatewayCtx) enabledPorts() []port.Port {
	return g.Ports
}
