//go:build !linux
// +build !linux

// File: transport/tune_stub.go
// Package transport - socket tuning stub for non-Linux platforms.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "net"

// Tune is a no-op outside Linux; the engine works with default sockets.
func Tune(conn net.Conn) error {
	return nil
}
