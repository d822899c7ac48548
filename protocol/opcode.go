// File: protocol/opcode.go
// Package protocol implements the RFC 6455 frame codec and connection
// protocol state machine of asws.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// Opcode is the 4-bit frame type tag from the base header.
type Opcode byte

// Opcode values defined in RFC 6455 section 5.2. 0x3-0x7 and 0xB-0xF are
// reserved and invalid until an extension defines them.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Base header bit masks.
const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
	lenBits = 0x7F
)

// Payload length encoding thresholds.
const (
	// MaxControlPayload is the RFC 6455 section 5.5 limit for control frames.
	MaxControlPayload = 125

	len16Code = 126
	len64Code = 127
)

// IsControl reports whether op is a control opcode (high bit of the nibble).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData reports whether op is a data opcode.
func (op Opcode) IsData() bool {
	return op == OpContinuation || op == OpText || op == OpBinary
}

// Valid reports whether op is defined by RFC 6455.
func (op Opcode) Valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}
