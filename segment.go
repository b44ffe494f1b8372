// File: segment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import (
	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/events"
	"github.com/momentics/xshm/internal/layout"
	"github.com/momentics/xshm/internal/naming"
	"github.com/momentics/xshm/internal/ring"
	"github.com/momentics/xshm/internal/winapi"
)

// endpoint holds everything a Server and a Client share: the mapped
// segment, both rings, and the two named-event pairs each side needs.
// Server and Client each embed one and add their role-specific handshake
// logic.
type endpoint struct {
	cfg      Config
	platform winapi.Platform

	sectionHandle winapi.Handle
	raw           []byte
	seg           *layout.Segment

	sendRing *ring.Ring
	recvRing *ring.Ring

	sendEvents *events.Pair
	recvEvents *events.Pair

	connected        bool
	localGeneration  uint32
	sentMessages     uint64
	receivedMessages uint64
	stopped          bool
}

func bufferBytes(cfg Config) uint32 {
	if cfg.BufferBytes == 0 {
		return api.RingCapacity
	}
	return cfg.BufferBytes
}

// closeEndpoint releases the section mapping and every event handle.
// Idempotent: Server.Stop/Client.Stop call it exactly once behind their
// own stopped guard, but it tolerates being handed zero-valued fields.
func (e *endpoint) closeEndpoint() {
	if e.sendEvents != nil {
		e.sendEvents.Close()
		e.sendEvents = nil
	}
	if e.recvEvents != nil {
		e.recvEvents.Close()
		e.recvEvents = nil
	}
	if e.sectionHandle != 0 {
		e.platform.CloseSection(e.sectionHandle, e.raw)
		e.sectionHandle = 0
		e.raw = nil
	}
}

// Stats is the diagnostic snapshot both Server and Client expose.
type Stats struct {
	SentMessages     uint64
	ReceivedMessages uint64
	DropCountSend    uint32
	DropCountRecv    uint32
	Generation       uint32
	Connected        bool
}

func (e *endpoint) stats() Stats {
	if e.sendRing == nil || e.recvRing == nil {
		return Stats{Generation: e.localGeneration}
	}
	return Stats{
		SentMessages:     e.sentMessages,
		ReceivedMessages: e.receivedMessages,
		DropCountSend:    e.sendRing.DropCount(),
		DropCountRecv:    e.recvRing.DropCount(),
		Generation:       e.localGeneration,
		Connected:        e.connected,
	}
}

// send pushes payload into the local producer ring and signals the
// corresponding data-ready event.
func (e *endpoint) send(payload []byte) error {
	if !e.connected {
		return api.NewError("xshm.Send", api.CodeNotReady)
	}
	if _, err := e.sendRing.Push(payload); err != nil {
		return err
	}
	e.sentMessages++
	return e.sendEvents.SignalData()
}

// receive pops the next frame from the local consumer ring into out and
// signals space-available on success.
func (e *endpoint) receive(out []byte) (int, error) {
	if !e.connected {
		return 0, api.NewError("xshm.Receive", api.CodeNotReady)
	}
	n, err := e.recvRing.Pop(out, e.localGeneration)
	if err != nil {
		return 0, err
	}
	e.receivedMessages++
	if err := e.recvEvents.SignalSpace(); err != nil {
		return n, err
	}
	return n, nil
}

// poll waits on {recv data-ready, send space-available, connection
// change} simultaneously, returning on the first to signal.
func (e *endpoint) poll(timeoutMS int) error {
	if e.recvEvents == nil || e.sendEvents == nil {
		return api.NewError("xshm.Poll", api.CodeNotReady)
	}
	handles := []winapi.Handle{e.recvEvents.Data, e.sendEvents.Space, e.recvEvents.Conn}
	_, err := e.platform.WaitMultiple(handles, msToDuration(timeoutMS))
	if err == winapi.ErrTimeout {
		return api.NewError("xshm.Poll", api.CodeTimeout)
	}
	if err != nil {
		return api.NewError("xshm.Poll", api.CodeAccess).WithCause(err)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if err := naming.Validate(cfg.Name); err != nil {
		return err
	}
	size := bufferBytes(cfg)
	if size == 0 || size&(size-1) != 0 {
		return api.NewError("xshm.validateConfig", api.CodeInvalidParam).
			WithContext("reason", "buffer_bytes must be a power of two").WithContext("buffer_bytes", size)
	}
	if size < api.MessageHeaderSize+api.MaxMessageSize+1 {
		return api.NewError("xshm.validateConfig", api.CodeInvalidParam).
			WithContext("reason", "buffer_bytes too small to hold one max-size frame")
	}
	return nil
}
