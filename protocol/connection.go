// File: protocol/connection.go
// Package protocol - the connection protocol state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn drives one read loop per connection: decode one frame, route it to
// the control handler or the reassembler, surface completed messages to the
// registered callbacks, and run the close handshake. All per-connection
// mutable state lives here; nothing is shared across connections.

package protocol

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/regiontog/asws/api"
	"github.com/regiontog/asws/core/buffer"
	"github.com/regiontog/asws/pool"
)

// readChunks is shared by every connection's transport pump; Feed copies,
// so a slab goes back to the pool as soon as the pump exits.
var readChunks = pool.NewSlabPool(readChunkSize)

// State is the connection lifecycle position.
type State int32

const (
	StateOpen State = iota
	StateClosingLocal  // we sent Close first, waiting for the acknowledgement
	StateClosingRemote // peer sent Close first, echo in flight
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosingLocal:
		return "closing (local)"
	case StateClosingRemote:
		return "closing (remote)"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks is the handler set a collaborator registers on a connection.
// Nil entries are skipped; the Pong reply to a Ping is built in and does
// not depend on OnPing being set.
type Callbacks struct {
	// OnMessage receives each fully reassembled message.
	OnMessage func(c *Conn, msg Message)

	// OnPing receives the payload of each valid inbound ping.
	OnPing func(c *Conn, payload []byte)

	// OnPong feeds the liveness collaborator.
	OnPong func(c *Conn, payload []byte)

	// OnClosed fires exactly once with the final close reason.
	// CodeAbnormalClosure marks a close without a handshake.
	OnClosed func(c *Conn, reason CloseReason)
}

// Options configures one connection.
type Options struct {
	// MaxFramePayload caps a single frame; 0 means DefaultMaxFramePayload.
	MaxFramePayload int64

	// MaxMessageSize caps a reassembled message; 0 means DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseTimeout bounds the wait for the peer's Close acknowledgement
	// after a locally initiated close; 0 means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// HeartbeatInterval enables periodic pings when positive.
	HeartbeatInterval time.Duration

	// HeartbeatMisses is the number of unanswered heartbeat pings tolerated
	// before the connection is forced down.
	HeartbeatMisses int

	// RequireMask enforces masking on inbound frames (server role).
	RequireMask bool

	// RemoteAddr is an optional peer label used by registries and examples.
	RemoteAddr string

	Callbacks Callbacks
}

// Default connection limits.
const (
	DefaultMaxFramePayload = 1 << 20  // 1 MiB
	DefaultMaxMessageSize  = 16 << 20 // 16 MiB
	DefaultCloseTimeout    = 5 * time.Second
	DefaultHeartbeatMisses = 2

	readChunkSize = 32 * 1024
)

// Conn encapsulates one server-role WebSocket session after the handshake.
type Conn struct {
	tr     api.Transport
	buf    *buffer.Buffer
	writer *Writer
	dec    *Decoder
	asm    assembler
	cb     Callbacks
	opts   Options

	mu         sync.Mutex
	state      State
	pending    CloseReason // reason chosen when the local side initiated close
	closeTimer *time.Timer

	missedPongs int32
	hbStop      chan struct{}
	hbOnce      sync.Once

	releaseOnce sync.Once
	reportOnce  sync.Once
	done        chan struct{}

	framesReceived int64
	bytesReceived  int64
}

// NewConn wraps an upgraded transport in a protocol state machine.
func NewConn(tr api.Transport, opts Options) *Conn {
	if opts.MaxFramePayload == 0 {
		opts.MaxFramePayload = DefaultMaxFramePayload
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.HeartbeatMisses == 0 {
		opts.HeartbeatMisses = DefaultHeartbeatMisses
	}

	c := &Conn{
		tr:     tr,
		buf:    buffer.New(),
		writer: NewWriter(tr),
		cb:     opts.Callbacks,
		opts:   opts,
		hbStop: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.dec = NewDecoder(c.buf)
	c.dec.MaxPayload = opts.MaxFramePayload
	c.dec.RequireMask = opts.RequireMask
	c.asm.maxSize = opts.MaxMessageSize
	return c
}

// Serve pumps the transport into the connection's buffer and runs the read
// loop until the connection reaches StateClosed. It blocks; callers that
// host many connections run it on one goroutine per connection.
func (c *Conn) Serve() {
	go c.pump()
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat()
	}
	c.readLoop()
}

// State returns the current lifecycle position.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Writer returns the outbound half of the connection.
func (c *Conn) Writer() *Writer {
	return c.writer
}

// RemoteAddr returns the peer label supplied at construction.
func (c *Conn) RemoteAddr() string {
	return c.opts.RemoteAddr
}

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Stats returns a snapshot of connection counters.
func (c *Conn) Stats() map[string]int64 {
	framesOut, bytesOut := c.writer.Stats()
	return map[string]int64{
		"frames_received": atomic.LoadInt64(&c.framesReceived),
		"bytes_received":  atomic.LoadInt64(&c.bytesReceived),
		"frames_sent":     framesOut,
		"bytes_sent":      bytesOut,
	}
}

// Close initiates the local close handshake: transition to
// StateClosingLocal, send a Close frame with the chosen code and reason,
// and bound the wait for the peer's acknowledgement with CloseTimeout.
// Calling Close on a connection that already left StateOpen is a no-op.
func (c *Conn) Close(code CloseCode, reason string) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosingLocal
	c.pending = CloseReason{Code: code, Reason: reason}
	c.closeTimer = time.AfterFunc(c.opts.CloseTimeout, c.forceRelease)
	c.mu.Unlock()

	return c.writer.SendClose(code, reason)
}

// pump moves raw transport bytes into the buffer until the transport fails
// or closes, then signals EOF so no pending take hangs.
func (c *Conn) pump() {
	chunk := readChunks.Get()
	defer readChunks.Put(chunk)
	for {
		n, err := c.tr.Read(chunk)
		if n > 0 {
			atomic.AddInt64(&c.bytesReceived, int64(n))
			c.buf.Feed(chunk[:n])
		}
		if err != nil {
			c.buf.FeedEOF()
			return
		}
	}
}

// readLoop processes frames strictly in arrival order. A Pong reply to a
// Ping is enqueued before the next frame is decoded.
func (c *Conn) readLoop() {
	for {
		f, err := c.dec.Decode()
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) && c.State() == StateOpen {
				// Never a silent drop: every protocol error funds the
				// local close handshake with its mandated code.
				c.Close(pe.Code, pe.Reason)
				continue
			}
			// EOF, transport failure, or garbage while already closing.
			c.finish(c.eofReason())
			return
		}
		atomic.AddInt64(&c.framesReceived, 1)

		if f.Opcode.IsControl() {
			if c.handleControl(f) {
				return
			}
			continue
		}
		if c.State() != StateOpen {
			// Draining after a local close: data frames are discarded while
			// we wait for the peer's Close.
			continue
		}
		msg, err := c.asm.push(f)
		if err != nil {
			pe := err.(*ProtocolError)
			c.Close(pe.Code, pe.Reason)
			continue
		}
		if msg != nil {
			c.deliver(*msg)
		}
	}
}

// handleControl reacts to ping, pong, and close frames independently of
// fragmentation state. It reports whether the read loop should exit.
func (c *Conn) handleControl(f *Frame) bool {
	switch f.Opcode {
	case OpPing:
		if c.State() == StateClosed {
			return false
		}
		c.writer.Pong(f.Payload)
		if c.cb.OnPing != nil {
			c.invoke(func() { c.cb.OnPing(c, f.Payload) })
		}
	case OpPong:
		atomic.StoreInt32(&c.missedPongs, 0)
		if c.cb.OnPong != nil {
			c.invoke(func() { c.cb.OnPong(c, f.Payload) })
		}
	case OpClose:
		return c.handleClose(f)
	}
	return false
}

// handleClose runs both sides of the close handshake.
func (c *Conn) handleClose(f *Frame) bool {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		// Remote-initiated close: echo and shut down.
		c.state = StateClosingRemote
		c.mu.Unlock()

		report, err := ParseClosePayload(f.Payload)
		if err != nil {
			pe := err.(*ProtocolError)
			report = CloseReason{Code: pe.Code, Reason: pe.Reason}
		}
		c.writer.SendClose(report.Code, report.Reason)
		c.finish(report)
		return true

	case StateClosingLocal:
		// The peer acknowledged our Close.
		c.mu.Unlock()
		c.finish(c.pendingReason())
		return true

	default:
		c.mu.Unlock()
		return true
	}
}

// deliver hands a completed message to the application callback. A panic
// in the callback is contained so the next frame is still processed.
func (c *Conn) deliver(msg Message) {
	if c.cb.OnMessage == nil {
		return
	}
	c.invoke(func() { c.cb.OnMessage(c, msg) })
}

func (c *Conn) invoke(fn func()) {
	defer func() { recover() }()
	fn()
}

// heartbeat sends periodic pings and forces the connection down once the
// peer misses too many pongs in a row.
func (c *Conn) heartbeat() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.hbStop:
			return
		case <-ticker.C:
			if c.State() != StateOpen {
				return
			}
			if int(atomic.AddInt32(&c.missedPongs, 1)) > c.opts.HeartbeatMisses {
				c.Close(CodePolicyViolation, "heartbeat timeout")
				return
			}
			c.writer.Ping([]byte("heartbeat"))
		}
	}
}

func (c *Conn) stopHeartbeat() {
	c.hbOnce.Do(func() { close(c.hbStop) })
}

// eofReason classifies a terminated byte stream: mid-handshake it completes
// the close with the already chosen reason, otherwise it is an abnormal
// closure with no handshake.
func (c *Conn) eofReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen {
		return CloseReason{Code: CodeAbnormalClosure, Reason: "transport closed unexpectedly"}
	}
	return c.pending
}

func (c *Conn) pendingReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// forceRelease fires when the peer never acknowledged a local close within
// CloseTimeout: release the transport anyway, half-close robustness over
// politeness. The read loop observes the EOF and reports.
func (c *Conn) forceRelease() {
	if c.State() == StateClosed {
		return
	}
	c.tr.Close()
	c.buf.FeedEOF()
}

// finish moves the connection to StateClosed, releases every resource
// exactly once, and reports the final reason.
func (c *Conn) finish(r CloseReason) {
	c.mu.Lock()
	c.state = StateClosed
	timer := c.closeTimer
	c.closeTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	c.releaseOnce.Do(func() {
		c.stopHeartbeat()
		c.writer.Stop()
		c.tr.Close()
		c.buf.FeedEOF()
		close(c.done)
	})
	c.reportOnce.Do(func() {
		if c.cb.OnClosed != nil {
			c.invoke(func() { c.cb.OnClosed(c, r) })
		}
	})
}
