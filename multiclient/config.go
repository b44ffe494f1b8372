// File: multiclient/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiclient

import "go.uber.org/zap"

// Config holds Client's tunables.
type Config struct {
	LobbyTimeoutMS int
	SlotTimeoutMS  int
	PollTimeoutMS  int
	RecvBatch      int
	Logger         *zap.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns the baseline multi-client configuration.
func DefaultConfig() Config {
	return Config{
		LobbyTimeoutMS: 5000,
		SlotTimeoutMS:  5000,
		PollTimeoutMS:  50,
		RecvBatch:      32,
		Logger:         zap.NewNop(),
	}
}

// WithLobbyTimeoutMS overrides how long Connect waits for the lobby
// handshake and reply.
func WithLobbyTimeoutMS(ms int) Option { return func(c *Config) { c.LobbyTimeoutMS = ms } }

// WithSlotTimeoutMS overrides how long Connect waits for the assigned
// slot's handshake.
func WithSlotTimeoutMS(ms int) Option { return func(c *Config) { c.SlotTimeoutMS = ms } }

// WithPollTimeoutMS overrides the lobby reply poll timeout and the
// wrapped auto.Worker's inbound poll timeout.
func WithPollTimeoutMS(ms int) Option { return func(c *Config) { c.PollTimeoutMS = ms } }

// WithRecvBatch overrides the wrapped auto.Worker's inbound batch size.
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
