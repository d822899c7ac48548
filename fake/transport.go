// File: fake/transport.go
// Package fake provides controllable implementations of the engine's
// interfaces for tests and development.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"io"
	"sync"

	"github.com/regiontog/asws/api"
)

// Transport is a scriptable api.Transport. Tests script the inbound side
// with FeedRead/EndRead and inspect the outbound side with Written.
type Transport struct {
	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte // chunks pending delivery through Read
	eof    bool
	closed bool

	written    []byte   // concatenated Write payloads
	writes     [][]byte // individual Write payloads, in order
	writeError error

	writeSignal chan struct{}
}

// NewTransport creates an idle fake transport.
func NewTransport() *Transport {
	t := &Transport{writeSignal: make(chan struct{}, 64)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// FeedRead schedules data for delivery through Read, preserving order.
func (t *Transport) FeedRead(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	t.mu.Lock()
	t.inbox = append(t.inbox, chunk)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// EndRead makes Read return io.EOF once the scheduled chunks are drained.
func (t *Transport) EndRead() {
	t.mu.Lock()
	t.eof = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Read blocks until a chunk is available, the stream ends, or the
// transport is closed.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.inbox) == 0 && !t.eof && !t.closed {
		t.cond.Wait()
	}
	if t.closed {
		return 0, api.ErrTransportClosed
	}
	if len(t.inbox) == 0 {
		return 0, io.EOF
	}
	chunk := t.inbox[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		t.inbox[0] = chunk[n:]
	} else {
		t.inbox = t.inbox[1:]
	}
	return n, nil
}

// Write records the payload. Tests may install a write error first.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, api.ErrTransportClosed
	}
	if t.writeError != nil {
		return 0, t.writeError
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	t.written = append(t.written, chunk...)
	t.writes = append(t.writes, chunk)
	select {
	case t.writeSignal <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Close wakes pending reads; later calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cond.Broadcast()
	return nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SetWriteError makes subsequent Write calls fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeError = err
}

// Written returns every byte written so far, concatenated.
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.written))
	copy(out, t.written)
	return out
}

// Writes returns the individual Write payloads in submission order.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// WriteSignal receives one token per completed Write, letting tests wait
// for outbound frames without polling.
func (t *Transport) WriteSignal() <-chan struct{} {
	return t.writeSignal
}
