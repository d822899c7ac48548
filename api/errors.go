// File: api/errors.go
// Package api holds common error types shared across the asws engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "fmt"

// Common errors used across the library.
var (
	ErrTransportClosed = fmt.Errorf("transport is closed")
	ErrConnClosing     = fmt.Errorf("connection is closing")
	ErrBufferEOF       = fmt.Errorf("buffer reached end of stream")
	ErrControlTooLong  = fmt.Errorf("control frame payload exceeds 125 bytes")
	ErrHandshakeFailed = fmt.Errorf("websocket handshake failed")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotFound        = fmt.Errorf("resource not found")
)
