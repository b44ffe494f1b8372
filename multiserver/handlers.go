// File: multiserver/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiserver

// Handlers is the vtable-of-funcs a Server invokes on its slot-worker
// goroutines. Any field left nil is simply skipped.
type Handlers struct {
	// OnMessage fires for every frame a slot's auto-worker drains,
	// clientID identifying the slot.
	OnMessage func(clientID uint32, payload []byte)

	// OnClientConnect fires once a candidate's handshake completes on
	// its assigned slot.
	OnClientConnect func(clientID uint32)

	// OnClientDisconnect fires once a slot's worker observes its client
	// gone, just before the slot is freed for reuse.
	OnClientDisconnect func(clientID uint32)

	// OnError fires for errors a slot's worker does not treat as
	// routine.
	OnError func(clientID uint32, err error)
}

func (h Handlers) message(id uint32, payload []byte) {
	if h.OnMessage != nil {
		h.OnMessage(id, payload)
	}
}

func (h Handlers) connect(id uint32) {
	if h.OnClientConnect != nil {
		h.OnClientConnect(id)
	}
}

func (h Handlers) disconnect(id uint32) {
	if h.OnClientDisconnect != nil {
		h.OnClientDisconnect(id)
	}
}

func (h Handlers) error(id uint32, err error) {
	if h.OnError != nil && err != nil {
		h.OnError(id, err)
	}
}
