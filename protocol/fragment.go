// File: protocol/fragment.go
// Package protocol - fragmented message reassembly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One assembler exists per connection and is driven only by that
// connection's read loop, so it needs no locking. Control frames never
// reach it; they legally interleave inside a fragmented message.

package protocol

import "unicode/utf8"

// assembler accumulates continuation frames into one logical message,
// enforcing the opcode-continuity rules of RFC 6455 section 5.4.
type assembler struct {
	// maxSize caps the accumulated message size; 0 disables the cap.
	maxSize int64

	active bool
	opcode Opcode // opcode of the first fragment while active
	data   []byte
}

// push feeds one data frame into the assembler. It returns a completed
// message when f finishes one, nil while assembly is in progress, and a
// *ProtocolError on a fragmentation-sequence violation, an oversized
// message, or invalid UTF-8 in a completed text message.
func (a *assembler) push(f *Frame) (*Message, error) {
	switch {
	case f.Opcode == OpContinuation:
		if !a.active {
			return nil, protocolErr(CodeProtocolError, "continuation frame without a message to continue")
		}
	case a.active:
		// A new data frame may not start before the open message finished.
		return nil, protocolErr(CodeProtocolError, "expected continuation frame")
	default:
		a.active = true
		a.opcode = f.Opcode
		a.data = nil
	}

	if a.maxSize > 0 && int64(len(a.data))+int64(len(f.Payload)) > a.maxSize {
		a.reset()
		return nil, protocolErr(CodeMessageTooBig, "message over size limit")
	}
	a.data = append(a.data, f.Payload...)

	if !f.Fin {
		return nil, nil
	}
	msg := &Message{Data: a.data}
	if a.opcode == OpText {
		msg.Type = TextMessage
		// A fragment boundary may split a multi-byte sequence, so UTF-8 is
		// checked only here, on the completed payload.
		if !utf8.Valid(msg.Data) {
			a.reset()
			return nil, protocolErr(CodeInvalidPayloadData, "invalid utf8 in text message")
		}
	} else {
		msg.Type = BinaryMessage
	}
	a.reset()
	return msg, nil
}

// assembling reports whether a multi-frame message is open.
func (a *assembler) assembling() bool {
	return a.active
}

func (a *assembler) reset() {
	a.active = false
	a.opcode = OpContinuation
	a.data = nil
}
