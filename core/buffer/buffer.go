// File: core/buffer/buffer.go
// Package buffer implements the per-connection inbound byte store.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer decouples irregular socket-read chunk boundaries from the frame
// boundaries the protocol codec needs. Arriving chunks are appended without
// blocking; the codec takes exact byte counts and blocks until they are
// available or the stream ends.

package buffer

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/regiontog/asws/api"
)

// Buffer is an incrementally fillable FIFO byte store. One goroutine feeds
// it from the transport while a single reader takes frame-sized slices.
type Buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks *queue.Queue // FIFO of []byte chunks
	head   int          // consumed bytes of the chunk at the queue head
	size   int          // unread bytes across all chunks
	eof    bool
}

// New creates an empty Buffer.
func New() *Buffer {
	b := &Buffer{chunks: queue.New()}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Feed appends newly arrived bytes and wakes any pending Take.
// Feed never blocks and copies p, so the caller may reuse its read buffer.
func (b *Buffer) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)

	b.mu.Lock()
	if !b.eof {
		b.chunks.Add(chunk)
		b.size += len(chunk)
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// FeedEOF marks the end of the inbound stream. Pending and future Take calls
// that cannot be fully satisfied resolve with api.ErrBufferEOF instead of
// waiting forever. FeedEOF is the cancellation path for a closing connection.
func (b *Buffer) FeedEOF() {
	b.mu.Lock()
	b.eof = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Take blocks until at least n bytes are buffered, then removes and returns
// exactly n bytes in arrival order. Once FeedEOF has been called and fewer
// than n bytes remain, Take returns api.ErrBufferEOF.
func (b *Buffer) Take(n int) ([]byte, error) {
	dst := make([]byte, n)
	if err := b.TakeInto(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// TakeInto fills dst completely from buffered bytes, blocking like Take.
func (b *Buffer) TakeInto(dst []byte) error {
	n := len(dst)
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.size < n {
		if b.eof {
			return api.ErrBufferEOF
		}
		b.cond.Wait()
	}
	b.drainLocked(dst)
	return nil
}

// Skip discards n bytes from the stream, blocking like TakeInto until they
// have arrived. Once FeedEOF has been called and the stream runs out short
// of n, Skip returns api.ErrBufferEOF.
func (b *Buffer) Skip(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n > 0 {
		for b.size == 0 && !b.eof {
			b.cond.Wait()
		}
		if b.size == 0 {
			return api.ErrBufferEOF
		}
		chunk := b.chunks.Peek().([]byte)
		take := len(chunk) - b.head
		if int64(take) > n {
			take = int(n)
		}
		b.head += take
		b.size -= take
		n -= int64(take)
		if b.head == len(chunk) {
			b.chunks.Remove()
			b.head = 0
		}
	}
	return nil
}

// TakeAvailable removes and returns whatever is currently buffered without
// waiting. Returns nil when the buffer is empty.
func (b *Buffer) TakeAvailable() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	dst := make([]byte, b.size)
	b.drainLocked(dst)
	return dst
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// AtEOF reports whether the stream ended and every byte has been taken.
func (b *Buffer) AtEOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof && b.size == 0
}

// drainLocked copies len(dst) bytes out of the chunk queue. Caller holds mu
// and has checked that enough bytes are buffered.
func (b *Buffer) drainLocked(dst []byte) {
	filled := 0
	for filled < len(dst) {
		chunk := b.chunks.Peek().([]byte)
		n := copy(dst[filled:], chunk[b.head:])
		filled += n
		b.head += n
		if b.head == len(chunk) {
			b.chunks.Remove()
			b.head = 0
		}
	}
	b.size -= filled
}
