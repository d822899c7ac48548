// File: protocol/frame.go
// Package protocol - WebSocket frame decoding and encoding per RFC 6455
// section 5.2.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The codec is stateless beyond the bytes it consumes: each Decode call
// takes exactly one frame from the connection's Buffer, each Append/Encode
// call serializes one frame. Role only affects masking direction.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/regiontog/asws/core/buffer"
)

// Frame is one WebSocket wire unit.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// Decoder parses frames from a connection's inbound Buffer, applying role
// and size rules. The zero limits disable the corresponding checks.
type Decoder struct {
	src *buffer.Buffer

	// MaxPayload caps a single data frame's payload. Frames over the cap
	// are rejected with CodeMessageTooBig.
	MaxPayload int64

	// RequireMask enforces the server-role rule that client frames must be
	// masked (RFC 6455 section 5.3).
	RequireMask bool
}

// NewDecoder returns a Decoder reading from src.
func NewDecoder(src *buffer.Buffer) *Decoder {
	return &Decoder{src: src}
}

// Decode blocks until one complete frame is taken from the buffer and
// returns it with the payload unmasked. Violations of the framing rules
// return a *ProtocolError carrying the mandated close code; a truncated
// stream surfaces the Buffer's EOF error.
//
// A violating frame's declared bytes are consumed before the error is
// returned, so the stream stays framed and the peer's Close acknowledgement
// can still be decoded during the close handshake.
func (d *Decoder) Decode() (*Frame, error) {
	var hdr [2]byte
	if err := d.src.TakeInto(hdr[:]); err != nil {
		return nil, err
	}

	f := &Frame{
		Fin:    hdr[0]&finBit != 0,
		Opcode: Opcode(hdr[0] & 0x0F),
		Masked: hdr[1]&maskBit != 0,
	}

	var violation error
	if hdr[0]&rsvBits != 0 {
		violation = protocolErr(CodeProtocolError, "reserved bits set without extension")
	} else if !f.Opcode.Valid() {
		violation = protocolErr(CodeProtocolError, fmt.Sprintf("invalid opcode 0x%X", byte(f.Opcode)))
	} else if f.Opcode.IsControl() && !f.Fin {
		violation = protocolErr(CodeProtocolError, "fragmented control frame")
	}

	length := int64(hdr[1] & lenBits)
	switch length {
	case len16Code:
		var ext [2]byte
		if err := d.src.TakeInto(ext[:]); err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case len64Code:
		var ext [8]byte
		if err := d.src.TakeInto(ext[:]); err != nil {
			return nil, err
		}
		raw := binary.BigEndian.Uint64(ext[:])
		if raw&(1<<63) != 0 {
			// The declared length is garbage; skipping it is hopeless.
			return nil, protocolErr(CodeProtocolError, "payload length high bit set")
		}
		length = int64(raw)
	}

	if violation == nil {
		switch {
		case f.Opcode.IsControl() && length > MaxControlPayload:
			violation = protocolErr(CodeProtocolError, "control frame too long")
		case d.MaxPayload > 0 && length > d.MaxPayload:
			violation = protocolErr(CodeMessageTooBig, "frame payload over size limit")
		case d.RequireMask && !f.Masked:
			violation = protocolErr(CodeProtocolError, "unmasked client frame")
		}
	}
	if violation != nil {
		skip := length
		if f.Masked {
			skip += 4
		}
		// Best effort: EOF mid-skip just ends the drain early.
		d.src.Skip(skip)
		return nil, violation
	}

	if f.Masked {
		if err := d.src.TakeInto(f.MaskKey[:]); err != nil {
			return nil, err
		}
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if err := d.src.TakeInto(f.Payload); err != nil {
			return nil, err
		}
		if f.Masked {
			maskBytes(f.MaskKey, f.Payload)
		}
	}
	return f, nil
}

// EncodeFrame serializes f into a fresh byte slice.
func EncodeFrame(f *Frame) []byte {
	return AppendFrame(nil, f)
}

// AppendFrame appends the wire form of f to dst and returns the extended
// slice. The smallest length encoding that fits is always chosen. When
// f.Masked is set the payload is masked with f.MaskKey into dst, leaving
// f.Payload untouched; the server role never sets Masked.
func AppendFrame(dst []byte, f *Frame) []byte {
	b0 := byte(f.Opcode)
	if f.Fin {
		b0 |= finBit
	}
	dst = append(dst, b0)

	var mb byte
	if f.Masked {
		mb = maskBit
	}
	length := len(f.Payload)
	switch {
	case length <= MaxControlPayload:
		dst = append(dst, byte(length)|mb)
	case length <= 0xFFFF:
		dst = append(dst, len16Code|mb)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, len64Code|mb)
		dst = binary.BigEndian.AppendUint64(dst, uint64(length))
	}

	if f.Masked {
		dst = append(dst, f.MaskKey[:]...)
	}
	start := len(dst)
	dst = append(dst, f.Payload...)
	if f.Masked {
		maskBytes(f.MaskKey, dst[start:])
	}
	return dst
}

// maskBytes XORs p in place with the 4-byte key, per RFC 6455 section 5.3.
// Masking is an involution, so the same routine masks and unmasks.
func maskBytes(key [4]byte, p []byte) {
	for i := range p {
		p[i] ^= key[i&3]
	}
}
