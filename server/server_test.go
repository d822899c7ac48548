// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Integration tests over real TCP sockets with a minimal raw client.

package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/regiontog/asws/core/buffer"
	"github.com/regiontog/asws/protocol"
)

// startEchoServer runs a server on a loopback port that echoes every
// message back to its sender.
func startEchoServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithAddr("127.0.0.1:0"),
		WithCallbacks(protocol.Callbacks{
			OnMessage: func(c *protocol.Conn, msg protocol.Message) {
				if msg.Type == protocol.TextMessage {
					c.Writer().SendText(msg.Text())
				} else {
					c.Writer().SendBinary(msg.Data)
				}
			},
		}),
	}, opts...)
	s := New(opts...)
	go func() {
		if err := s.Run(); err != nil {
			t.Errorf("server run: %v", err)
		}
	}()
	t.Cleanup(func() { s.Shutdown() })

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound a listener")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s
}

// rawClient is a bare-bones client peer for exercising the server end.
type rawClient struct {
	conn net.Conn
	dec  *protocol.Decoder
	buf  *buffer.Buffer
}

const upgradeReq = "GET /echo HTTP/1.1\r\n" +
	"Host: localhost\r\n" +
	"Connection: Upgrade\r\n" +
	"Upgrade: websocket\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

// readHandshake consumes the 101 response through br.
func readHandshake(t *testing.T, br *bufio.Reader) {
	t.Helper()
	status, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("handshake read: %v", err)
	}
	if !strings.Contains(status, "101") {
		t.Fatalf("handshake status = %q", status)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("handshake headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
}

// newRawClient pumps br into a decoder so recv can pull server frames.
func newRawClient(conn net.Conn, br *bufio.Reader) *rawClient {
	c := &rawClient{conn: conn, buf: buffer.New()}
	c.dec = protocol.NewDecoder(c.buf)
	go func() {
		chunk := make([]byte, 4096)
		for {
			n, err := br.Read(chunk)
			if n > 0 {
				c.buf.Feed(chunk[:n])
			}
			if err != nil {
				c.buf.FeedEOF()
				return
			}
		}
	}()
	return c
}

func dialClient(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Write([]byte(upgradeReq)); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	br := bufio.NewReader(conn)
	readHandshake(t, br)
	return newRawClient(conn, br)
}

func (c *rawClient) send(t *testing.T, op protocol.Opcode, payload []byte) {
	t.Helper()
	frame := protocol.EncodeFrame(&protocol.Frame{
		Fin:     true,
		Opcode:  op,
		Masked:  true,
		MaskKey: [4]byte{0x11, 0x22, 0x33, 0x44},
		Payload: payload,
	})
	if _, err := c.conn.Write(frame); err != nil {
		t.Fatalf("frame write: %v", err)
	}
}

func (c *rawClient) recv(t *testing.T) *protocol.Frame {
	t.Helper()
	done := make(chan struct{})
	var f *protocol.Frame
	var err error
	go func() {
		f, err = c.dec.Decode()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from server")
	}
	if err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return f
}

func TestServerEchoesText(t *testing.T) {
	s := startEchoServer(t)
	c := dialClient(t, s.Addr().String())

	c.send(t, protocol.OpText, []byte("round trip"))
	f := c.recv(t)
	if f.Opcode != protocol.OpText || string(f.Payload) != "round trip" {
		t.Errorf("echoed frame = %v %q", f.Opcode, f.Payload)
	}
	if f.Masked {
		t.Error("server-sent frame is masked")
	}
}

func TestServerEchoesFramePipelinedWithHandshake(t *testing.T) {
	s := startEchoServer(t)
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Upgrade request and first frame in one segment: the frame bytes land
	// in the server's handshake reader and must still reach the read loop.
	frame := protocol.EncodeFrame(&protocol.Frame{
		Fin:     true,
		Opcode:  protocol.OpText,
		Masked:  true,
		MaskKey: [4]byte{0x11, 0x22, 0x33, 0x44},
		Payload: []byte("pipelined"),
	})
	if _, err := conn.Write(append([]byte(upgradeReq), frame...)); err != nil {
		t.Fatalf("combined write: %v", err)
	}

	br := bufio.NewReader(conn)
	readHandshake(t, br)
	c := newRawClient(conn, br)

	f := c.recv(t)
	if f.Opcode != protocol.OpText || string(f.Payload) != "pipelined" {
		t.Errorf("echo = %v %q, want the pipelined message back", f.Opcode, f.Payload)
	}
}

func TestServerAnswersPing(t *testing.T) {
	s := startEchoServer(t)
	c := dialClient(t, s.Addr().String())

	c.send(t, protocol.OpPing, []byte("probe"))
	f := c.recv(t)
	if f.Opcode != protocol.OpPong || string(f.Payload) != "probe" {
		t.Errorf("reply = %v %q, want pong %q", f.Opcode, f.Payload, "probe")
	}
}

func TestServerClosesOnUnmaskedFrame(t *testing.T) {
	s := startEchoServer(t)
	c := dialClient(t, s.Addr().String())

	unmasked := protocol.EncodeFrame(&protocol.Frame{
		Fin:     true,
		Opcode:  protocol.OpText,
		Payload: []byte("bare"),
	})
	if _, err := c.conn.Write(unmasked); err != nil {
		t.Fatalf("frame write: %v", err)
	}

	f := c.recv(t)
	if f.Opcode != protocol.OpClose {
		t.Fatalf("reply = %v, want close", f.Opcode)
	}
	r, err := protocol.ParseClosePayload(f.Payload)
	if err != nil {
		t.Fatalf("close payload: %v", err)
	}
	if r.Code != protocol.CodeProtocolError {
		t.Errorf("close code = %d, want 1002", r.Code)
	}

	// Acknowledge so the handshake finishes and the error is accounted.
	c.send(t, protocol.OpClose, protocol.AppendClosePayload(nil, protocol.CodeProtocolError, ""))
	waitForMetric(t, s, "protocol_errors", 1)
}

func TestServerRejectsPlainHTTP(t *testing.T) {
	s := startEchoServer(t)
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(status, "400") {
		t.Errorf("status = %q, want a 400", status)
	}
	waitForMetric(t, s, "handshake_failures", 1)
}

func TestServerRegistryTracksClients(t *testing.T) {
	s := startEchoServer(t)
	c := dialClient(t, s.Addr().String())

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want 1", s.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.send(t, protocol.OpClose, protocol.AppendClosePayload(nil, protocol.CodeNormal, "done"))
	f := c.recv(t)
	if f.Opcode != protocol.OpClose {
		t.Fatalf("reply = %v, want close echo", f.Opcode)
	}

	for s.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d after close, want 0", s.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitForMetric(t, s, "connections_closed", 1)
	waitForMetric(t, s, "close_code_1000", 1)
}

func TestServerDisconnectAll(t *testing.T) {
	s := startEchoServer(t)
	c := dialClient(t, s.Addr().String())
	c.send(t, protocol.OpText, []byte("warm up"))
	c.recv(t)

	go s.DisconnectAll(time.Second)

	f := c.recv(t)
	if f.Opcode != protocol.OpClose {
		t.Fatalf("reply = %v, want close", f.Opcode)
	}
	r, err := protocol.ParseClosePayload(f.Payload)
	if err != nil {
		t.Fatalf("close payload: %v", err)
	}
	if r.Code != protocol.CodeGoingAway {
		t.Errorf("close code = %d, want 1001", r.Code)
	}
	// Acknowledge so the handshake completes cleanly.
	c.send(t, protocol.OpClose, protocol.AppendClosePayload(nil, protocol.CodeGoingAway, ""))
}

func waitForMetric(t *testing.T, s *Server, name string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := s.Metrics().Get(name); got >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metric %s = %d, want at least %d", name, s.Metrics().Get(name), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
