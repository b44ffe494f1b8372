// File: multiserver/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiserver

import (
	"go.uber.org/zap"
)

// Config holds Server's tunables.
type Config struct {
	MaxClients    int
	PollTimeoutMS int
	RecvBatch     int
	Logger        *zap.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns the baseline multi-server configuration.
func DefaultConfig() Config {
	return Config{
		MaxClients:    20,
		PollTimeoutMS: 50,
		RecvBatch:     32,
		Logger:        zap.NewNop(),
	}
}

// WithMaxClients overrides the slot table size.
func WithMaxClients(n int) Option { return func(c *Config) { c.MaxClients = n } }

// WithPollTimeoutMS overrides the lobby's accept-loop poll timeout.
func WithPollTimeoutMS(ms int) Option { return func(c *Config) { c.PollTimeoutMS = ms } }

// WithRecvBatch overrides each slot worker's inbound batch size.
func WithRecvBatch(n int) Option { return func(c *Config) { c.RecvBatch = n } }

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func applyOptions(cfg *Config, opts []Option) {
	for _, opt := range opts {
		opt(cfg)
	}
}
