//go:build linux
// +build linux

// File: transport/tune_linux.go
// Package transport - Linux socket tuning for accepted connections.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// Tune applies latency-oriented socket options to an accepted TCP
// connection: TCP_NODELAY so small control frames are not coalesced, and
// SO_KEEPALIVE so dead peers are detected below the protocol heartbeat.
func Tune(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			serr = e
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
