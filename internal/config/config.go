// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the gateway's process-wide, set-once-at-startup
// configuration (spec §6): which ports are enabled, this gateway's own
// identity, its peer's identity, the backend pool, and the tuning knobs
// for the flow table and the NF→Manager ring.
package config

import (
	"net"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/zhangmh/ecmpgw/internal/errors"
)

// Config is the top-level HCL schema, matching the teacher's
// `hcl:"field,optional"` / `hcl:"name,block"` tagging convention.
type Config struct {
	// SelfIP is this gateway's own IPv4 address (dotted-decimal), used as
	// the source address of every gateway-originated control frame.
	SelfIP string `hcl:"self_ip"`
	// PeerIP is the sibling gateway's IPv4 address. State-backup pushes
	// are not addressed from it: the Manager master derives their
	// destination from the source address of the probe reply.
	PeerIP string `hcl:"peer_ip"`
	// Backends is the immutable backend pool (spec §3's dip_pool),
	// dotted-decimal, selected round-robin by the NF worker.
	Backends []string `hcl:"backends"`
	// Ports lists the interface names the three workers poll. Each must
	// name a real NIC when running against `internal/port.Open`; under
	// `-sim` the daemon ignores this and builds fakes instead.
	Ports []string `hcl:"ports"`

	// TableCapacity bounds the flow table (0 means unbounded).
	// @default: 0
	TableCapacity int `hcl:"table_capacity,optional"`
	// RingCapacity bounds the NF→Manager ring (spec §3's per-core
	// backing array capacity C).
	// @default: 4096
	RingCapacity int `hcl:"ring_capacity,optional"`

	// LogLevel selects the structured logger's minimum level: debug,
	// info, warn, or error.
	// @default: "info"
	LogLevel string `hcl:"log_level,optional"`
	// LogJSON selects JSON-formatted log output instead of text.
	// @default: false
	LogJSON bool `hcl:"log_json,optional"`

	// MetricsAddr, if set, is the address `cmd/gatewayd` serves
	// `/metrics` on (e.g. "127.0.0.1:9090"). Empty disables the
	// exporter.
	MetricsAddr string `hcl:"metrics_addr,optional"`
}

// Default returns the configuration used by `-sim` mode and by tests:
// two backends (10.1.0.1 and 10.1.0.2), no ports, an unbounded flow
// table and a 4096-entry ring.
func Default() *Config {
	return &Config{
		SelfIP:        "172.16.0.1",
		PeerIP:        "172.16.0.2",
		Backends:      []string{"10.1.0.1", "10.1.0.2"},
		TableCapacity: 0,
		RingCapacity:  4096,
		LogLevel:      "info",
	}
}

// LoadFile parses an HCL config file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "config: read %s", path)
	}
	cfg := Default()
	if err := hclsimple.Decode(path, data, nil, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "config: parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a config the workers cannot safely start with: spec
// §4.1 requires at least one backend to select from, and every address
// field must parse as IPv4.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New(errors.KindValidation, "config: backends must not be empty")
	}
	if net.ParseIP(c.SelfIP) == nil || net.ParseIP(c.SelfIP).To4() == nil {
		return errors.Errorf(errors.KindValidation, "config: self_ip %q is not a valid IPv4 address", c.SelfIP)
	}
	if net.ParseIP(c.PeerIP) == nil || net.ParseIP(c.PeerIP).To4() == nil {
		return errors.Errorf(errors.KindValidation, "config: peer_ip %q is not a valid IPv4 address", c.PeerIP)
	}
	for _, b := range c.Backends {
		ip := net.ParseIP(b)
		if ip == nil || ip.To4() == nil {
			return errors.Errorf(errors.KindValidation, "config: backend %q is not a valid IPv4 address", b)
		}
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 4096
	}
	return nil
}

// IP4ToUint32 converts a dotted-decimal IPv4 string to its host-order
// uint32 form, the representation `gwtypes.GatewayIdentity` expects.
func IP4ToUint32(s string) uint32 {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
