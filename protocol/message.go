// File: protocol/message.go
// Package protocol - reassembled application messages.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// MessageType distinguishes the two application message kinds of RFC 6455
// section 5.6.
type MessageType int

const (
	// TextMessage carries UTF-8 text (opcode 0x1). The accumulated payload
	// must be valid UTF-8 once the final fragment arrives.
	TextMessage MessageType = 1

	// BinaryMessage carries arbitrary bytes (opcode 0x2).
	BinaryMessage MessageType = 2
)

func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

func (mt MessageType) opcode() Opcode {
	if mt == TextMessage {
		return OpText
	}
	return OpBinary
}

// Message is one reassembled inbound message. Data is owned by the receiver.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns the payload as a string. Only meaningful for TextMessage,
// where the engine has already validated UTF-8.
func (m Message) Text() string {
	return string(m.Data)
}
