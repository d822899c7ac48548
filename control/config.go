// File: control/config.go
// Package control holds engine configuration and runtime metrics.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Config holds all configurable parameters of the engine and its server.
type Config struct {
	// ListenAddr is the TCP address the server binds.
	ListenAddr string `json:"listen_addr"`

	// MaxFramePayload caps a single inbound frame in bytes.
	MaxFramePayload int64 `json:"max_frame_payload"`

	// MaxMessageSize caps a reassembled inbound message in bytes; messages
	// over the cap close the connection with status 1009.
	MaxMessageSize int64 `json:"max_message_size"`

	// CloseTimeout bounds the wait for a peer's Close acknowledgement.
	CloseTimeout time.Duration `json:"close_timeout"`

	// HandshakeTimeout bounds the HTTP upgrade exchange.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// HeartbeatInterval enables periodic pings when positive; zero
	// disables the heartbeat.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// HeartbeatMisses is how many unanswered heartbeat pings are tolerated
	// before the client is dropped.
	HeartbeatMisses int `json:"heartbeat_misses"`
}

// DefaultConfig returns a baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		MaxFramePayload:   1 << 20,
		MaxMessageSize:    16 << 20,
		CloseTimeout:      5 * time.Second,
		HandshakeTimeout:  3 * time.Second,
		HeartbeatInterval: 0,
		HeartbeatMisses:   2,
	}
}

// LoadFile reads a JSON config file over the defaults. Durations are given
// in nanoseconds, as encoding/json-compatible decoders represent them.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := sonnet.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot honor.
func (c *Config) Validate() error {
	if c.MaxFramePayload < 0 || c.MaxMessageSize < 0 {
		return fmt.Errorf("config: size limits must not be negative")
	}
	if c.MaxFramePayload > 0 && c.MaxMessageSize > 0 && c.MaxFramePayload > c.MaxMessageSize {
		return fmt.Errorf("config: max_frame_payload exceeds max_message_size")
	}
	if c.HeartbeatInterval < 0 || c.CloseTimeout < 0 || c.HandshakeTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if c.HeartbeatMisses < 0 {
		return fmt.Errorf("config: heartbeat_misses must not be negative")
	}
	return nil
}
