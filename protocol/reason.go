// File: protocol/reason.go
// Package protocol - close status code registry and Close payload handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements the RFC 6455 section 7.4 status code registry with default
// human-readable reasons, validity classification for codes arriving on the
// wire, and Close frame payload parsing/serialization.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// CloseCode is an RFC 6455 section 7.4 status code.
type CloseCode uint16

const (
	CodeNormal              CloseCode = 1000
	CodeGoingAway           CloseCode = 1001
	CodeProtocolError       CloseCode = 1002
	CodeUnsupportedData     CloseCode = 1003
	CodeReserved            CloseCode = 1004
	CodeNoStatus            CloseCode = 1005
	CodeAbnormalClosure     CloseCode = 1006
	CodeInvalidPayloadData  CloseCode = 1007
	CodePolicyViolation     CloseCode = 1008
	CodeMessageTooBig       CloseCode = 1009
	CodeExtensionNotPresent CloseCode = 1010
	CodeUnexpectedCondition CloseCode = 1011
	CodeTLSHandshakeFailure CloseCode = 1015
)

// maxCloseReason is the longest reason that fits a close frame next to the
// two-byte status code.
const maxCloseReason = MaxControlPayload - 2

// String returns the registry's default human-readable reason for c.
func (c CloseCode) String() string {
	switch c {
	case CodeNormal:
		return "normal closure"
	case CodeGoingAway:
		return "going away"
	case CodeProtocolError:
		return "protocol error"
	case CodeUnsupportedData:
		return "unacceptable data"
	case CodeReserved:
		return "reserved"
	case CodeNoStatus:
		return "no status received"
	case CodeAbnormalClosure:
		return "abnormal closure"
	case CodeInvalidPayloadData:
		return "invalid payload data"
	case CodePolicyViolation:
		return "policy violation"
	case CodeMessageTooBig:
		return "message too big"
	case CodeExtensionNotPresent:
		return "extension not present"
	case CodeUnexpectedCondition:
		return "unexpected condition"
	case CodeTLSHandshakeFailure:
		return "TLS handshake failure"
	default:
		if c.applicationDefined() {
			return "application defined"
		}
		return "undefined"
	}
}

func (c CloseCode) applicationDefined() bool {
	return c >= 3000 && c <= 4999
}

// Valid reports whether c may appear in a Close frame on the wire.
// 1004-1006 and 1015 are reserved for local reporting only, 1012-1014 and
// 1016-2999 are undefined, and 3000-4999 pass through for applications.
func (c CloseCode) Valid() bool {
	switch {
	case c >= CodeNormal && c <= CodeUnsupportedData:
		return true
	case c >= CodeInvalidPayloadData && c <= CodeUnexpectedCondition:
		return true
	case c.applicationDefined():
		return true
	default:
		return false
	}
}

// CloseReason is the status code and reason text reported when a connection
// goes down. CodeAbnormalClosure marks a close without a handshake.
type CloseReason struct {
	Code   CloseCode
	Reason string
}

func (r CloseReason) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%d %s", r.Code, r.Code.String())
	}
	return fmt.Sprintf("%d %s", r.Code, r.Reason)
}

// ProtocolError is an RFC violation detected by the codec or the state
// machine. Code carries the status the local close handshake must use.
type ProtocolError struct {
	Code   CloseCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket: %s (close code %d)", e.Reason, e.Code)
}

func protocolErr(code CloseCode, reason string) error {
	return &ProtocolError{Code: code, Reason: reason}
}

// ParseClosePayload extracts code and reason from a Close frame payload.
// An empty payload reports CodeNoStatus. A one-byte payload, an invalid
// status code, or a reason that is not valid UTF-8 is a protocol error.
func ParseClosePayload(p []byte) (CloseReason, error) {
	switch {
	case len(p) == 0:
		return CloseReason{Code: CodeNoStatus}, nil
	case len(p) == 1:
		return CloseReason{}, protocolErr(CodeProtocolError, "invalid close code length")
	}

	code := CloseCode(binary.BigEndian.Uint16(p[:2]))
	if !code.Valid() {
		return CloseReason{}, protocolErr(CodeProtocolError, "invalid close code")
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return CloseReason{}, protocolErr(CodeProtocolError, "invalid utf8 in close reason")
	}
	return CloseReason{Code: code, Reason: string(reason)}, nil
}

// AppendClosePayload serializes code and reason into a Close frame payload.
// Reasons longer than 123 bytes are truncated at a rune boundary so the
// frame stays within the control payload limit.
func AppendClosePayload(dst []byte, code CloseCode, reason string) []byte {
	if code == CodeNoStatus {
		return dst
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(code))
	for len(reason) > maxCloseReason {
		_, size := utf8.DecodeLastRuneInString(reason)
		reason = reason[:len(reason)-size]
	}
	return append(dst, reason...)
}
