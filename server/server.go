// File: server/server.go
// Package server hosts the WebSocket engine: it accepts sockets, performs
// the upgrade handshake, registers clients, and drives one protocol state
// machine per connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/regiontog/asws/control"
	"github.com/regiontog/asws/protocol"
	"github.com/regiontog/asws/transport"
)

// ConnectHandler runs once per accepted client, after the handshake and
// before the first frame is processed.
type ConnectHandler func(*protocol.Conn)

// Server owns the listener and the client registry. Per-connection protocol
// state belongs to each connection's own task; the registry only maps peer
// addresses to their state machines.
type Server struct {
	cfg       *control.Config
	metrics   *control.MetricsRegistry
	tlsConf   *tls.Config
	callbacks protocol.Callbacks
	onConnect ConnectHandler

	mu      sync.RWMutex
	clients map[string]*protocol.Conn
	ln      net.Listener

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server with default configuration, customized by opts.
func New(opts ...Option) *Server {
	s := &Server{
		cfg:     control.DefaultConfig(),
		metrics: control.NewMetricsRegistry(),
		clients: make(map[string]*protocol.Conn),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run binds the configured address and accepts connections until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	if s.tlsConf != nil {
		ln = tls.NewListener(ln, s.tlsConf)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("asws: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Metrics exposes the server's runtime counters.
func (s *Server) Metrics() *control.MetricsRegistry {
	return s.metrics
}

// Clients returns a snapshot of the connected clients.
func (s *Server) Clients() []*protocol.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*protocol.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// ClientCount reports the number of registered clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// DisconnectClient starts a clean close handshake with one client. The
// registry entry is removed when the connection reports closed.
func (s *Server) DisconnectClient(c *protocol.Conn, code protocol.CloseCode, reason string) error {
	return c.Close(code, reason)
}

// DisconnectAll closes every client and waits up to timeout for the close
// handshakes to finish. Stragglers are force-released by their own close
// timers.
func (s *Server) DisconnectAll(timeout time.Duration) {
	clients := s.Clients()
	for _, c := range clients {
		c.Close(protocol.CodeGoingAway, "server shutting down")
	}
	deadline := time.After(timeout)
	for _, c := range clients {
		select {
		case <-c.Done():
		case <-deadline:
			log.Printf("asws: %d client(s) still closing after %v", s.ClientCount(), timeout)
			return
		}
	}
}

// Shutdown stops accepting, disconnects all clients, and waits for the
// per-connection tasks to finish. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.RLock()
		ln := s.ln
		s.mu.RUnlock()
		if ln != nil {
			ln.Close()
		}
		s.DisconnectAll(s.cfg.CloseTimeout)
		s.wg.Wait()
	})
	return nil
}

// handleConn upgrades one accepted socket and runs its read loop. The
// goroutine lives exactly as long as the connection.
func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()

	if err := transport.Tune(raw); err != nil {
		log.Printf("asws: socket tuning failed for %s: %v", raw.RemoteAddr(), err)
	}
	if s.cfg.HandshakeTimeout > 0 {
		raw.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	br := bufio.NewReader(raw)
	if _, err := protocol.Handshake(br, raw); err != nil {
		s.metrics.Inc("handshake_failures", 1)
		log.Printf("asws: handshake with %s failed: %v", raw.RemoteAddr(), err)
		raw.Close()
		return
	}
	raw.SetDeadline(time.Time{})
	s.metrics.Inc("connections_accepted", 1)

	// Frames pipelined behind the upgrade request are sitting in br; hand
	// them to the transport so the read pump sees them first.
	pipelined, _ := br.Peek(br.Buffered())

	addr := raw.RemoteAddr().String()
	conn := protocol.NewConn(transport.NewNetConnBuffered(raw, pipelined), protocol.Options{
		MaxFramePayload:   s.cfg.MaxFramePayload,
		MaxMessageSize:    s.cfg.MaxMessageSize,
		CloseTimeout:      s.cfg.CloseTimeout,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		HeartbeatMisses:   s.cfg.HeartbeatMisses,
		RequireMask:       true,
		RemoteAddr:        addr,
		Callbacks:         s.instrumented(addr),
	})

	s.mu.Lock()
	s.clients[addr] = conn
	s.mu.Unlock()

	if s.onConnect != nil {
		s.onConnect(conn)
	}
	conn.Serve()
}

// instrumented wraps the registered callbacks with registry bookkeeping and
// metrics accounting.
func (s *Server) instrumented(addr string) protocol.Callbacks {
	cb := s.callbacks
	userMessage := cb.OnMessage
	cb.OnMessage = func(c *protocol.Conn, msg protocol.Message) {
		s.metrics.Inc("messages_received", 1)
		if userMessage != nil {
			userMessage(c, msg)
		}
	}
	userClosed := cb.OnClosed
	cb.OnClosed = func(c *protocol.Conn, r protocol.CloseReason) {
		s.mu.Lock()
		delete(s.clients, addr)
		s.mu.Unlock()
		s.metrics.Inc("connections_closed", 1)
		s.metrics.Inc(fmt.Sprintf("close_code_%d", r.Code), 1)
		switch r.Code {
		case protocol.CodeProtocolError, protocol.CodeInvalidPayloadData, protocol.CodeMessageTooBig:
			s.metrics.Inc("protocol_errors", 1)
		}
		if userClosed != nil {
			userClosed(c, r)
		}
	}
	return cb
}
