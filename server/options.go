// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"
	"time"

	"github.com/regiontog/asws/control"
	"github.com/regiontog/asws/protocol"
)

// Option customizes server initialization.
type Option func(*Server)

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg *control.Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.cfg.ListenAddr = addr
	}
}

// WithTLS serves wss by wrapping the listener; the protocol core never
// sees the TLS layer.
func WithTLS(conf *tls.Config) Option {
	return func(s *Server) {
		s.tlsConf = conf
	}
}

// WithHeartbeat enables periodic pings with a missed-pong threshold.
func WithHeartbeat(interval time.Duration, misses int) Option {
	return func(s *Server) {
		s.cfg.HeartbeatInterval = interval
		s.cfg.HeartbeatMisses = misses
	}
}

// WithMaxMessageSize caps reassembled inbound messages.
func WithMaxMessageSize(n int64) Option {
	return func(s *Server) {
		s.cfg.MaxMessageSize = n
	}
}

// WithCallbacks registers the handler set applied to every connection.
func WithCallbacks(cb protocol.Callbacks) Option {
	return func(s *Server) {
		s.callbacks = cb
	}
}

// WithConnectHandler registers the per-connection setup hook.
func WithConnectHandler(fn ConnectHandler) Option {
	return func(s *Server) {
		s.onConnect = fn
	}
}
