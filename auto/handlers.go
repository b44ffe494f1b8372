// File: auto/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package auto

import "github.com/momentics/xshm/api"

// Handlers is the vtable-of-funcs a Worker invokes on its own goroutine.
// Any field left nil is simply skipped. Handlers must not perform
// blocking operations against the same endpoint the Worker drives — that
// would deadlock the drain loop.
type Handlers struct {
	// OnMessage fires for every frame the inbound loop drains.
	OnMessage func(direction api.Direction, payload []byte)

	// OnOverflow fires when a ring's drop_count advances since the last
	// tick, direction indicating which ring.
	OnOverflow func(direction api.Direction, delta uint32)

	// OnConnect fires after every successful reconnect. The Worker takes
	// the endpoint it wraps as already connected and does not fire
	// OnConnect at construction.
	OnConnect func()

	// OnDisconnect fires once the wrapped endpoint is observed
	// disconnected.
	OnDisconnect func()

	// OnError fires for every error the worker does not treat as routine.
	// Empty and Timeout results of the inbound Poll/Receive are routine and
	// never reach OnError; a failed reconnect attempt is reported, including
	// one that timed out.
	OnError func(err error)
}

func (h Handlers) message(dir api.Direction, payload []byte) {
	if h.OnMessage != nil {
		h.OnMessage(dir, payload)
	}
}

func (h Handlers) overflow(dir api.Direction, delta uint32) {
	if h.OnOverflow != nil && delta > 0 {
		h.OnOverflow(dir, delta)
	}
}

func (h Handlers) connect() {
	if h.OnConnect != nil {
		h.OnConnect()
	}
}

func (h Handlers) disconnect() {
	if h.OnDisconnect != nil {
		h.OnDisconnect()
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil && err != nil {
		h.OnError(err)
	}
}
