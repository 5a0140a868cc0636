// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig controls forwarding of log output to a remote syslog
// collector, in addition to the normal Output writer.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the
// conventional UDP/514 defaults pre-filled for when it is enabled.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "ecmpgw",
		Facility: 1, // RFC 5424 facility 1 (user-level), not Go's pre-shifted syslog.LOG_USER
	}
}

// NewSyslogWriter dials a syslog collector and returns an io.Writer that
// forwards each Write call as a single syslog message.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "ecmpgw"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	// Facility holds a bare facility number; syslog.Dial expects it shifted
	// into the facility bits and combined with a severity.
	w, err := syslog.Dial(cfg.Protocol, addr, cfg.Facility<<3|syslog.LOG_INFO, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s://%s: %w", cfg.Protocol, addr, err)
	}
	return w, nil
}
