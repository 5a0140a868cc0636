// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package port

import (
	"github.com/zhangmh/ecmpgw/internal/errors"
)

// Open is unsupported outside Linux: AF_PACKET raw sockets are
// Linux-specific. Use Fake for tests/simulation on other platforms.
func Open(ifaceName string) (Port, error) {
	return nil, errors.Errorf(errors.KindUnavailable, "port: raw AF_PACKET ports are only supported on linux (requested %s)", ifaceName)
}
