// File: config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import (
	"go.uber.org/zap"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/winapi"
)

// Config holds the construction-time parameters of a Server or Client.
// Built with DefaultConfig and a chain of Option values.
type Config struct {
	// Name is the base object name every section/event name is derived
	// from. Required.
	Name string

	// BufferBytes is the per-ring data-region size. Zero selects
	// api.RingCapacity.
	BufferBytes uint32

	// SlotID is written into the control block's reserved[0] when a
	// hello is accepted. Single-client servers leave it at its default
	// (0); multiserver assigns one per slot endpoint.
	SlotID uint32

	// Logger receives structured lifecycle logs. Defaults to a no-op
	// logger so embedding this package never forces a global logging
	// configuration on the caller.
	Logger *zap.Logger

	platform winapi.Platform
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns the baseline configuration for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		BufferBytes: api.RingCapacity,
		SlotID:      0,
		Logger:      zap.NewNop(),
		platform:    winapi.New(),
	}
}

// WithBufferBytes overrides the per-ring data capacity. Must be a power
// of two large enough to hold one maximum-size frame; validated at
// construction time.
func WithBufferBytes(n uint32) Option {
	return func(c *Config) { c.BufferBytes = n }
}

// WithSlotID sets the slot identifier handed to the client during the
// handshake. Used by multiserver; single-client callers rarely need it.
func WithSlotID(id uint32) Option {
	return func(c *Config) { c.SlotID = id }
}

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
