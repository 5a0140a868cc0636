// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package port

import (
	"net"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"github.com/vishvananda/netlink"

	"github.com/zhangmh/ecmpgw/internal/errors"
)

// afPacketPort backs Port with a raw AF_PACKET socket per queue, the
// closest pure-Go analogue to a kernel-bypass NIC queue: each RecvBurst
// call drains whatever frames are already queued in the kernel socket
// buffer without blocking, and each SendBurst call writes frames directly
// to the device, bypassing the kernel's routing/forwarding stack.
type afPacketPort struct {
	ifi  *net.Interface
	mac  net.HardwareAddr
	ip   net.IP
	conn [2]*packet.Conn
}

// Open binds an AF_PACKET port to the named interface. queue 0 and
// queue 1 are independent sockets on the same interface, standing in for
// the original gateway's per-port multi-queue NIC (data queue / control
// queue).
func Open(ifaceName string) (Port, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "port: lookup interface %s", ifaceName)
	}

	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "port: netlink lookup %s", ifaceName)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "port: resolve IPv4 address of %s", ifaceName)
	}
	var ip net.IP
	if len(addrs) > 0 {
		ip = addrs[0].IP
	}

	p := &afPacketPort{ifi: ifi, mac: ifi.HardwareAddr, ip: ip}

	for q := range p.conn {
		conn, err := packet.Listen(ifi, packet.Raw, int(htons(unix.ETH_P_ALL)), nil)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindUnavailable, "port: open AF_PACKET socket queue %d on %s", q, ifaceName)
		}
		_ = conn.SetReadDeadline(time.Time{})
		p.conn[q] = conn
	}
	return p, nil
}

func htons(v int) int {
	return int(uint16(v)>>8) | int(uint16(v)<<8)
}

func (p *afPacketPort) RecvBurst(q int, bufs [][]byte) (int, error) {
	conn := p.conn[q]
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}
	n := 0
	for n < len(bufs) {
		buf := allocFrame(2048)
		buf = buf[:cap(buf)]
		read, _, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return n, err
		}
		bufs[n] = buf[:read]
		n++
	}
	return n, nil
}

func (p *afPacketPort) SendBurst(q int, frames [][]byte) (int, error) {
	conn := p.conn[q]
	addr := &packet.Addr{HardwareAddr: p.mac}
	sent := 0
	for _, frame := range frames {
		if _, err := conn.WriteTo(frame, addr); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (p *afPacketPort) HardwareAddr() net.HardwareAddr { return p.mac }
func (p *afPacketPort) IPv4Addr() net.IP               { return p.ip }
func (p *afPacketPort) AllocFrame(size int) []byte     { return allocFrame(size) }

func (p *afPacketPort) Close() error {
	var firstErr error
	for _, c := range p.conn {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
