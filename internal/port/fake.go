// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package port

import (
	"net"
	"sync"
)

// Fake is an in-memory Port used by tests and by the daemon's simulation
// mode. Frames written with Inject appear on RecvBurst(q, ...); frames
// handed to SendBurst are captured for assertion via Sent.
type Fake struct {
	mu       sync.Mutex
	rx       [2][][]byte
	sent     [2][][]byte
	mac      net.HardwareAddr
	ip       net.IP
	closed   bool
}

// NewFake builds a Fake port with the given hardware/IPv4 address.
func NewFake(mac net.HardwareAddr, ip net.IP) *Fake {
	return &Fake{mac: mac, ip: ip}
}

// Inject makes frame available to the next RecvBurst(q, ...) call.
func (f *Fake) Inject(q int, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.rx[q] = append(f.rx[q], cp)
}

func (f *Fake) RecvBurst(q int, bufs [][]byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for n < len(bufs) && len(f.rx[q]) > 0 {
		bufs[n] = f.rx[q][0]
		f.rx[q] = f.rx[q][1:]
		n++
	}
	return n, nil
}

func (f *Fake) SendBurst(q int, frames [][]byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range frames {
		cp := make([]byte, len(fr))
		copy(cp, fr)
		f.sent[q] = append(f.sent[q], cp)
	}
	return len(frames), nil
}

// Sent returns (and clears) the frames transmitted on queue q so far.
func (f *Fake) Sent(q int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[q]
	f.sent[q] = nil
	return out
}

func (f *Fake) HardwareAddr() net.HardwareAddr { return f.mac }
func (f *Fake) IPv4Addr() net.IP               { return f.ip }
func (f *Fake) AllocFrame(size int) []byte     { return allocFrame(size) }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
