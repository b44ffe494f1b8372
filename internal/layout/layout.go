// File: internal/layout/layout.go
// Package layout provides the fixed-offset, atomic-field view over the
// xShm shared segment: control block, two ring headers, two data
// regions. The segment is shared with another process, so fields are
// never taken as plain Go references — every load and store goes through
// sync/atomic on cache-line-aligned header structs reinterpreted from
// the mapped byte slice.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package layout

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/xshm/api"
)

// ControlBlock is the first 64 bytes of the segment.
type ControlBlock struct {
	Magic       atomic.Uint32
	Version     atomic.Uint32
	Generation  atomic.Uint32
	ServerState atomic.Uint32
	ClientState atomic.Uint32
	Reserved    [api.ReservedWordCount]atomic.Uint32
	_           [3]uint32 // pad to 64 bytes
}

// RingHeader is the 64-byte header preceding each ring's data region.
type RingHeader struct {
	WritePos     atomic.Uint32
	ReadPos      atomic.Uint32
	MessageCount atomic.Uint32
	DropCount    atomic.Uint32
	GenStamp     atomic.Uint32
	_            [11]uint32 // pad to 64 bytes
}

// Reset zeroes the ring's positions and counters and stamps gen, exactly
// as the server does at the start of every new generation.
func (h *RingHeader) Reset(gen uint32) {
	h.WritePos.Store(0)
	h.ReadPos.Store(0)
	h.MessageCount.Store(0)
	h.DropCount.Store(0)
	h.GenStamp.Store(gen)
}

// SegmentSize returns the total byte size of a segment with the given
// per-ring data capacity.
func SegmentSize(ringCapacity uint32) uint32 {
	return api.ControlBlockSize + 2*api.RingHeaderSize + 2*ringCapacity
}

// Segment is the typed view over a mapped shared-memory byte slice,
// carved into the control block, the two ring headers, and the two ring
// data regions.
type Segment struct {
	raw          []byte
	Control      *ControlBlock
	RingHeaderA  *RingHeader // server -> client
	RingDataA    []byte
	RingHeaderB  *RingHeader // client -> server
	RingDataB    []byte
	ringCapacity uint32
}

// New builds a Segment view over raw, which must be at least
// SegmentSize(ringCapacity) bytes and obtained from a mapped section so
// all processes observe the same bytes.
func New(raw []byte, ringCapacity uint32) (*Segment, error) {
	want := SegmentSize(ringCapacity)
	if uint32(len(raw)) < want {
		return nil, api.NewError("layout.New", api.CodeMemory).
			WithContext("have", len(raw)).WithContext("want", want)
	}
	offA := uint32(api.ControlBlockSize + api.RingHeaderSize)
	offB := offA + ringCapacity
	offBData := offB + api.RingHeaderSize

	s := &Segment{
		raw:          raw,
		Control:      (*ControlBlock)(unsafe.Pointer(&raw[0])),
		RingHeaderA:  (*RingHeader)(unsafe.Pointer(&raw[api.ControlBlockSize])),
		RingDataA:    raw[offA:offB:offB],
		RingHeaderB:  (*RingHeader)(unsafe.Pointer(&raw[offB])),
		RingDataB:    raw[offBData : offBData+ringCapacity : offBData+ringCapacity],
		ringCapacity: ringCapacity,
	}
	return s, nil
}

// RingCapacity returns the per-ring data region size this view was built
// with.
func (s *Segment) RingCapacity() uint32 { return s.ringCapacity }

// InitServer zeroes the segment and writes the immutable magic and
// version fields. Must be called exactly once, by the server, before any
// other access.
func (s *Segment) InitServer() {
	for i := range s.raw {
		s.raw[i] = 0
	}
	s.Control.Magic.Store(api.SharedMagic)
	s.Control.Version.Store(api.SharedVersion)
	s.Control.ServerState.Store(api.StateIdle)
	s.Control.ClientState.Store(api.StateIdle)
	s.Control.Generation.Store(0)
}

// VerifyMagicVersion checks the control block against the wire constants,
// as the client does on connect.
func (s *Segment) VerifyMagicVersion() error {
	if m := s.Control.Magic.Load(); m != api.SharedMagic {
		return api.NewError("layout.VerifyMagicVersion", api.CodeProtocol).
			WithContext("magic", m)
	}
	if v := s.Control.Version.Load(); v != api.SharedVersion {
		return api.NewError("layout.VerifyMagicVersion", api.CodeProtocol).
			WithContext("version", v)
	}
	return nil
}
