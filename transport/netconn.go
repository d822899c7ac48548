// File: transport/netconn.go
// Package transport adapts net.Conn sockets to the engine's Transport
// abstraction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/regiontog/asws/api"
)

// NetConn wraps a net.Conn as an api.Transport. Writes are serialized so
// frames leave in submission order; Close is idempotent.
type NetConn struct {
	conn    net.Conn
	pending []byte // bytes a handshake reader consumed past the upgrade
	writeMu sync.Mutex
	closed  int32
}

// NewNetConn initializes a new NetConn.
func NewNetConn(conn net.Conn) *NetConn {
	return &NetConn{conn: conn}
}

// NewNetConnBuffered wraps a socket whose handshake reader already pulled
// bytes past the upgrade request. A client may pipeline its first frames in
// the same segment as the handshake; Read serves those bytes before the
// socket so they are not lost.
func NewNetConnBuffered(conn net.Conn, buffered []byte) *NetConn {
	pending := make([]byte, len(buffered))
	copy(pending, buffered)
	return &NetConn{conn: conn, pending: pending}
}

// Read reads into a preallocated buffer, draining any pipelined handshake
// leftover first.
func (n *NetConn) Read(p []byte) (int, error) {
	if atomic.LoadInt32(&n.closed) == 1 {
		return 0, api.ErrTransportClosed
	}
	if len(n.pending) > 0 {
		c := copy(p, n.pending)
		n.pending = n.pending[c:]
		return c, nil
	}
	return n.conn.Read(p)
}

// Write writes buffer contents into the connection.
func (n *NetConn) Write(p []byte) (int, error) {
	if atomic.LoadInt32(&n.closed) == 1 {
		return 0, api.ErrTransportClosed
	}
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.conn.Write(p)
}

// Close shuts the socket down once; later calls are no-ops.
func (n *NetConn) Close() error {
	if !atomic.CompareAndSwapInt32(&n.closed, 0, 1) {
		return nil
	}
	return n.conn.Close()
}

// RemoteAddr returns the peer address of the underlying socket.
func (n *NetConn) RemoteAddr() net.Addr {
	return n.conn.RemoteAddr()
}
