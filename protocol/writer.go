// File: protocol/writer.go
// Package protocol - outbound frame serialization.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Writer owns the outbound half of a connection. Frames are encoded at
// submission time, queued in an unbounded FIFO, and drained by a single
// send goroutine, so submission order is transmission order and a Pong
// enqueued for a Ping can never be dropped by a full channel.

package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/regiontog/asws/api"
)

// Writer serializes application payloads and control frames outward.
// Server role: outbound frames are never masked, only clients mask.
type Writer struct {
	tr api.Transport

	mu        sync.Mutex
	cond      *sync.Cond
	out       *queue.Queue // encoded frames awaiting transmission
	err       error        // first transport write error
	stopped   bool
	closeSent bool

	wg sync.WaitGroup

	framesSent int64
	bytesSent  int64
}

// NewWriter creates a Writer draining into tr and starts its send loop.
func NewWriter(tr api.Transport) *Writer {
	w := &Writer{tr: tr, out: queue.New()}
	w.cond = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.sendLoop()
	return w
}

// SendText sends a single-frame text message.
func (w *Writer) SendText(s string) error {
	return w.enqueue(&Frame{Fin: true, Opcode: OpText, Payload: []byte(s)}, true)
}

// SendBinary sends a single-frame binary message.
func (w *Writer) SendBinary(p []byte) error {
	return w.enqueue(&Frame{Fin: true, Opcode: OpBinary, Payload: p}, true)
}

// Ping sends a ping control frame. The payload may not exceed 125 bytes.
func (w *Writer) Ping(payload []byte) error {
	return w.control(OpPing, payload)
}

// Pong sends a pong control frame, normally echoing a ping's payload.
func (w *Writer) Pong(payload []byte) error {
	return w.control(OpPong, payload)
}

func (w *Writer) control(op Opcode, payload []byte) error {
	if len(payload) > MaxControlPayload {
		return api.ErrControlTooLong
	}
	return w.enqueue(&Frame{Fin: true, Opcode: op, Payload: payload}, false)
}

// SendClose sends a Close frame with the given code and reason. The first
// call wins; repeated calls are no-ops, never a double-send. After SendClose
// data sends are rejected with api.ErrConnClosing.
func (w *Writer) SendClose(code CloseCode, reason string) error {
	w.mu.Lock()
	if w.closeSent || w.stopped || w.err != nil {
		w.mu.Unlock()
		return nil
	}
	w.closeSent = true
	payload := AppendClosePayload(nil, code, reason)
	w.pushLocked(EncodeFrame(&Frame{Fin: true, Opcode: OpClose, Payload: payload}))
	w.mu.Unlock()
	return nil
}

// CloseSent reports whether a Close frame has been submitted.
func (w *Writer) CloseSent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSent
}

// Fragment opens a fragmented outbound message of the given type.
func (w *Writer) Fragment(mt MessageType) *FragmentWriter {
	return &FragmentWriter{w: w, opcode: mt.opcode()}
}

// Stop lets the queue drain, then terminates the send loop. It does not
// close the transport; the connection owns that.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
	w.wg.Wait()
}

// Err returns the first transport write error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats returns outbound frame and byte counters.
func (w *Writer) Stats() (frames, bytes int64) {
	return atomic.LoadInt64(&w.framesSent), atomic.LoadInt64(&w.bytesSent)
}

func (w *Writer) enqueue(f *Frame, data bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.err != nil {
		return api.ErrTransportClosed
	}
	if data && w.closeSent {
		return api.ErrConnClosing
	}
	w.pushLocked(EncodeFrame(f))
	return nil
}

func (w *Writer) pushLocked(encoded []byte) {
	w.out.Add(encoded)
	w.cond.Signal()
}

// sendLoop pops encoded frames in FIFO order and writes them to the
// transport. A write error wakes every producer and ends the loop.
func (w *Writer) sendLoop() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for w.out.Length() == 0 && !w.stopped && w.err == nil {
			w.cond.Wait()
		}
		if w.err != nil || (w.stopped && w.out.Length() == 0) {
			w.mu.Unlock()
			return
		}
		encoded := w.out.Remove().([]byte)
		w.mu.Unlock()

		if _, err := w.tr.Write(encoded); err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			w.cond.Broadcast()
			return
		}
		atomic.AddInt64(&w.framesSent, 1)
		atomic.AddInt64(&w.bytesSent, int64(len(encoded)))
	}
}

// FragmentWriter streams one outbound message as a fragment sequence.
// Each Write submits the previous chunk with FIN clear; Close submits the
// last chunk with FIN set, so the final fragment is marked without an
// extra empty trailer frame.
type FragmentWriter struct {
	w       *Writer
	opcode  Opcode
	started bool
	pending []byte
	queued  bool
	closed  bool
}

// Write queues p as the next fragment. The slice is copied.
func (fw *FragmentWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, api.ErrConnClosing
	}
	if fw.queued {
		if err := fw.flush(false); err != nil {
			return 0, err
		}
	}
	fw.pending = append(fw.pending[:0], p...)
	fw.queued = true
	return len(p), nil
}

// Close finishes the message, setting FIN on the final fragment. A message
// with no Write calls goes out as a single empty frame.
func (fw *FragmentWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	return fw.flush(true)
}

func (fw *FragmentWriter) flush(fin bool) error {
	op := OpContinuation
	if !fw.started {
		op = fw.opcode
		fw.started = true
	}
	payload := make([]byte, len(fw.pending))
	copy(payload, fw.pending)
	fw.queued = false
	return fw.w.enqueue(&Frame{Fin: fin, Opcode: op, Payload: payload}, true)
}
