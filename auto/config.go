// File: auto/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package auto

import "go.uber.org/zap"

// Config holds Worker's tunables.
type Config struct {
	WaitTimeoutMS    int
	ReconnectDelayMS int
	ConnectTimeoutMS int
	MaxSendQueue     int
	RecvBatch        int
	Logger           *zap.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns the baseline auto-worker configuration.
func DefaultConfig() Config {
	return Config{
		WaitTimeoutMS:    50,
		ReconnectDelayMS: 500,
		ConnectTimeoutMS: 5000,
		MaxSendQueue:     1024,
		RecvBatch:        32,
		Logger:           zap.NewNop(),
	}
}

// WithWaitTimeoutMS overrides the inbound poll timeout.
func WithWaitTimeoutMS(ms int) Option { return func(c *Config) { c.WaitTimeoutMS = ms } }

// WithReconnectDelayMS overrides the client-side reconnect backoff delay.
func WithReconnectDelayMS(ms int) Option { return func(c *Config) { c.ReconnectDelayMS = ms } }

// WithConnectTimeoutMS overrides the per-attempt reconnect timeout.
func WithConnectTimeoutMS(ms int) Option { return func(c *Config) { c.ConnectTimeoutMS = ms } }

// WithMaxSendQueue overrides the outbound queue capacity. Zero selects
// direct/synchronous Send.
func WithMaxSendQueue(n int) Option { return func(c *Config) { c.MaxSendQueue = n } }

// WithRecvBatch overrides how many frames the inbound loop drains per
// wake before re-polling.
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
