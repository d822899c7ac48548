// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the transport socket abstraction the protocol core writes to.
// The engine never opens sockets itself; a collaborator hands it a Transport.

package api

// Transport abstracts a full-duplex byte stream backing one connection.
// Writes submitted through Write leave in submission order.
type Transport interface {
	// Read reads into a preallocated buffer.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the connection.
	Write(p []byte) (n int, err error)

	// Close shuts down the connection and notifies upstream layers.
	// Close is idempotent.
	Close() error
}
