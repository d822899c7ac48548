// File: protocol/frame_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/regiontog/asws/core/buffer"
	"github.com/regiontog/asws/protocol"
)

func decodeBytes(t *testing.T, raw []byte) (*protocol.Frame, error) {
	t.Helper()
	buf := buffer.New()
	buf.Feed(raw)
	buf.FeedEOF()
	return protocol.NewDecoder(buf).Decode()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 300),
	}
	for _, payload := range payloads {
		frame := &protocol.Frame{Fin: true, Opcode: protocol.OpBinary, Payload: payload}
		got, err := decodeBytes(t, protocol.EncodeFrame(frame))
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if !got.Fin || got.Opcode != protocol.OpBinary {
			t.Errorf("header mismatch: fin=%v opcode=%v", got.Fin, got.Opcode)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("payload mismatch for length %d", len(payload))
		}
	}
}

func TestLengthEncodingBoundaries(t *testing.T) {
	// headerLen excludes the payload itself: 2 bytes base, +2 for 16-bit
	// lengths, +8 for 64-bit lengths.
	cases := []struct {
		payloadLen int
		headerLen  int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}
	for _, tc := range cases {
		frame := &protocol.Frame{Fin: true, Opcode: protocol.OpBinary, Payload: make([]byte, tc.payloadLen)}
		encoded := protocol.EncodeFrame(frame)
		if len(encoded) != tc.headerLen+tc.payloadLen {
			t.Errorf("payload length %d: encoded %d bytes, want %d header + payload",
				tc.payloadLen, len(encoded), tc.headerLen)
		}

		buf := buffer.New()
		buf.Feed(encoded)
		buf.FeedEOF()
		dec := protocol.NewDecoder(buf)
		dec.MaxPayload = 1 << 20
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("payload length %d: Decode() error: %v", tc.payloadLen, err)
		}
		if len(got.Payload) != tc.payloadLen {
			t.Errorf("payload length %d: decoded %d bytes", tc.payloadLen, len(got.Payload))
		}
	}
}

func TestDecodeUnmasksClientPayload(t *testing.T) {
	payload := []byte("masked payload")
	key := [4]byte{0x10, 0x20, 0x30, 0x40}
	frame := &protocol.Frame{
		Fin:     true,
		Opcode:  protocol.OpText,
		Masked:  true,
		MaskKey: key,
		Payload: payload,
	}
	encoded := protocol.EncodeFrame(frame)

	// The wire form must carry payload XOR key, not the plaintext.
	wire := encoded[len(encoded)-len(payload):]
	for i := range payload {
		if wire[i] != payload[i]^key[i%4] {
			t.Fatalf("byte %d not masked on the wire", i)
		}
	}

	got, err := decodeBytes(t, encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("Decode() payload = %q, want %q", got.Payload, payload)
	}
	if !got.Masked || got.MaskKey != key {
		t.Errorf("mask metadata lost: masked=%v key=%v", got.Masked, got.MaskKey)
	}
}

func TestDecodeViolations(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		code protocol.CloseCode
	}{
		{"reserved bits set", []byte{0xC1, 0x00}, protocol.CodeProtocolError},
		{"invalid opcode", []byte{0x83, 0x00}, protocol.CodeProtocolError},
		{"fragmented ping", []byte{0x09, 0x00}, protocol.CodeProtocolError},
		{"oversized close", []byte{0x88, 126, 0x00, 0x80}, protocol.CodeProtocolError},
		{"length high bit set", []byte{0x82, 127, 0x80, 0, 0, 0, 0, 0, 0, 1}, protocol.CodeProtocolError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeBytes(t, tc.raw)
			var pe *protocol.ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("Decode() error = %v, want ProtocolError", err)
			}
			if pe.Code != tc.code {
				t.Errorf("close code = %d, want %d", pe.Code, tc.code)
			}
		})
	}
}

func TestDecodeSkipsViolatingFramePayload(t *testing.T) {
	// An oversized ping followed by a valid close frame: the ping's declared
	// payload must be consumed so the close frame still parses.
	oversized := protocol.EncodeFrame(&protocol.Frame{
		Fin:     true,
		Opcode:  protocol.OpPing,
		Masked:  true,
		MaskKey: [4]byte{0x01, 0x02, 0x03, 0x04},
		Payload: make([]byte, 200),
	})
	closing := protocol.EncodeFrame(&protocol.Frame{
		Fin:     true,
		Opcode:  protocol.OpClose,
		Masked:  true,
		MaskKey: [4]byte{0x05, 0x06, 0x07, 0x08},
		Payload: protocol.AppendClosePayload(nil, protocol.CodeNormal, "bye"),
	})

	buf := buffer.New()
	buf.Feed(append(oversized, closing...))
	buf.FeedEOF()
	dec := protocol.NewDecoder(buf)

	_, err := dec.Decode()
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Code != protocol.CodeProtocolError {
		t.Fatalf("first Decode() error = %v, want protocol error 1002", err)
	}

	f, err := dec.Decode()
	if err != nil {
		t.Fatalf("stream desynced after violation: %v", err)
	}
	if f.Opcode != protocol.OpClose {
		t.Errorf("next frame opcode = %v, want the close frame", f.Opcode)
	}
}

func TestDecodeRejectsUnmaskedWhenRequired(t *testing.T) {
	frame := &protocol.Frame{Fin: true, Opcode: protocol.OpText, Payload: []byte("hi")}
	buf := buffer.New()
	buf.Feed(protocol.EncodeFrame(frame))
	buf.FeedEOF()
	dec := protocol.NewDecoder(buf)
	dec.RequireMask = true

	_, err := dec.Decode()
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Code != protocol.CodeProtocolError {
		t.Fatalf("Decode() error = %v, want protocol error 1002", err)
	}
}

func TestDecodeEnforcesPayloadCap(t *testing.T) {
	frame := &protocol.Frame{Fin: true, Opcode: protocol.OpBinary, Payload: make([]byte, 2048)}
	buf := buffer.New()
	buf.Feed(protocol.EncodeFrame(frame))
	buf.FeedEOF()
	dec := protocol.NewDecoder(buf)
	dec.MaxPayload = 1024

	_, err := dec.Decode()
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Code != protocol.CodeMessageTooBig {
		t.Fatalf("Decode() error = %v, want close code 1009", err)
	}
}

func TestDecodeTruncatedStream(t *testing.T) {
	frame := &protocol.Frame{Fin: true, Opcode: protocol.OpBinary, Payload: make([]byte, 64)}
	encoded := protocol.EncodeFrame(frame)

	_, err := decodeBytes(t, encoded[:len(encoded)-10])
	var pe *protocol.ProtocolError
	if errors.As(err, &pe) {
		t.Fatalf("truncated stream reported as protocol error: %v", err)
	}
	if err == nil {
		t.Fatal("Decode() succeeded on truncated stream")
	}
}
