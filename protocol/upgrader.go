// File: protocol/upgrader.go
// Package protocol - HTTP to WebSocket handshake with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Upgrade validates the HTTP request headers for a WebSocket upgrade,
// enforces required headers, computes the Sec-WebSocket-Accept key per
// RFC 6455, and returns the response headers needed to complete the
// handshake. Handshake failures answer 400 and never become a Conn.

package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/regiontog/asws/api"
)

// wsGUID is the fixed GUID, per RFC 6455, used in handshake computations.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeHeadersSize caps the combined length of handshake headers.
const MaxHandshakeHeadersSize = 8192

// Upgrade performs the WebSocket handshake validation and header
// generation for an already parsed HTTP request.
func Upgrade(r *http.Request) (http.Header, error) {
	if r.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: method %s is not GET", api.ErrHandshakeFailed, r.Method)
	}

	total := 0
	for k, vs := range r.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return nil, fmt.Errorf("%w: headers too large", api.ErrHandshakeFailed)
		}
	}

	if !headerContainsToken(r.Header, "Connection", "Upgrade") ||
		!headerContainsToken(r.Header, "Upgrade", "websocket") {
		return nil, fmt.Errorf("%w: invalid upgrade headers", api.ErrHandshakeFailed)
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Key header", api.ErrHandshakeFailed)
	}
	if version := r.Header.Get("Sec-WebSocket-Version"); version != "13" {
		return nil, fmt.Errorf("%w: unsupported version %q, only 13 is supported", api.ErrHandshakeFailed, version)
	}

	resp := make(http.Header)
	resp.Set("Upgrade", "websocket")
	resp.Set("Connection", "Upgrade")
	resp.Set("Sec-WebSocket-Accept", AcceptKey(key))
	return resp, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Handshake reads one HTTP request from br, validates the upgrade, and
// writes the 101 response (or a 400 on failure) to w. It returns the
// request so the acceptor can inspect the path.
func Handshake(br *bufio.Reader, w io.Writer) (*http.Request, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		WriteRejection(w)
		return nil, fmt.Errorf("%w: %v", api.ErrHandshakeFailed, err)
	}
	hdr, err := Upgrade(req)
	if err != nil {
		WriteRejection(w)
		return req, err
	}
	if err := WriteAcceptance(w, hdr); err != nil {
		return req, err
	}
	return req, nil
}

// WriteAcceptance writes the 101 Switching Protocols response.
func WriteAcceptance(w io.Writer, hdr http.Header) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	for k, vs := range hdr {
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteRejection writes the 400 Bad Request response.
func WriteRejection(w io.Writer) {
	io.WriteString(w, "HTTP/1.1 400 Bad Request\r\n\r\n")
}

// headerContainsToken checks if headerName contains the given token,
// case-insensitive, across comma-separated values.
func headerContainsToken(h http.Header, headerName, token string) bool {
	token = strings.ToLower(token)
	for _, v := range h[http.CanonicalHeaderKey(headerName)] {
		for _, p := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(p)) == token {
				return true
			}
		}
	}
	return false
}
