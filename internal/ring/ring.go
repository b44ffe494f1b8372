// File: internal/ring/ring.go
// Package ring implements the lock-free, single-producer/single-consumer
// framed ring buffer at the heart of the transport: a power-of-two byte
// arena with monotonic uint32 write/read positions (masked only when
// indexing the backing array), length-prefixed message framing, and
// overwrite-on-overflow with drop accounting.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import (
	"encoding/binary"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/layout"
)

// Ring is a view over one direction's RingHeader and data region. It does
// not own the memory; the caller (an endpoint) owns the Segment the
// header and data were carved from.
type Ring struct {
	header *layout.RingHeader
	data   []byte
	mask   uint32
}

// New wraps header/data as a framed SPSC ring. data's length must be a
// power of two and large enough to hold at least one maximum-size frame.
func New(header *layout.RingHeader, data []byte) (*Ring, error) {
	capacity := uint32(len(data))
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, api.NewError("ring.New", api.CodeInvalidParam).
			WithContext("reason", "capacity must be a power of two").WithContext("capacity", capacity)
	}
	if capacity < api.MessageHeaderSize+api.MaxMessageSize+1 {
		return nil, api.NewError("ring.New", api.CodeInvalidParam).
			WithContext("reason", "capacity too small to hold one max-size frame").WithContext("capacity", capacity)
	}
	return &Ring{header: header, data: data, mask: capacity - 1}, nil
}

// CapacityBytes returns the size of the backing data region.
func (r *Ring) CapacityBytes() uint32 { return uint32(len(r.data)) }

// Len returns the producer's last-published message count (a statistic,
// not a synchronization point).
func (r *Ring) Len() uint32 { return r.header.MessageCount.Load() }

// DropCount returns the number of frames evicted by overwrite so far.
func (r *Ring) DropCount() uint32 { return r.header.DropCount.Load() }

// IsEmpty reports whether the consumer's next Pop would see no data,
// under an acquire load of write_pos.
func (r *Ring) IsEmpty() bool {
	wr := r.header.WritePos.Load()
	rd := r.header.ReadPos.Load()
	return wr-rd == 0
}

// Push enqueues payload (2..65535 bytes), evicting the oldest frames on
// overflow. It returns how many frames this call dropped to make room.
//
// Ownership note: write_pos belongs to the producer. The eviction loop
// below also advances read_pos — the one exception to "read_pos is
// mutated only by the consumer", required so the producer can make room
// without the consumer's participation.
func (r *Ring) Push(payload []byte) (dropped uint32, err error) {
	n := len(payload)
	if n < api.MinMessageSize || n > api.MaxMessageSize {
		return 0, api.NewError("ring.Push", api.CodeInvalidParam).WithContext("len", n)
	}
	needed := uint32(api.MessageHeaderSize + n)
	capacity := uint32(len(r.data))
	if needed > capacity {
		return 0, api.NewError("ring.Push", api.CodeProtocol).
			WithContext("reason", "payload cannot fit in ring even when empty")
	}

	wr := r.header.WritePos.Load()
	rd := r.header.ReadPos.Load() // acquire
	free := capacity - (wr - rd)

	for free < needed {
		var hdr [api.MessageHeaderSize]byte
		r.readAt(rd, hdr[:])
		plen, reserved, ok := decodeHeader(hdr[:])
		if !ok || reserved != 0 || plen < api.MinMessageSize || plen > api.MaxMessageSize {
			return dropped, api.NewError("ring.Push", api.CodeProtocol).
				WithContext("reason", "corrupt frame header encountered during eviction")
		}
		rd += uint32(api.MessageHeaderSize + plen)
		dropped++
		free = capacity - (wr - rd)
	}
	if dropped > 0 {
		r.header.ReadPos.Store(rd)
		r.header.DropCount.Add(dropped)
	}

	var hdr [api.MessageHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(n))
	r.writeAt(wr, hdr[:])
	r.writeAt(wr+api.MessageHeaderSize, payload)

	r.header.WritePos.Store(wr + needed) // release
	r.header.MessageCount.Add(1)
	return dropped, nil
}

// Pop reads the next frame into out, scoped to the caller's generation.
// If the ring's gen_stamp no longer matches localGeneration, the peer has
// already moved on to a new handshake round via Reset; this reader must
// discard whatever it thinks it knows and treat the ring as empty rather
// than risk delivering a frame minted under a round it never joined. If
// out is too small the frame is left in place and a CodeInvalidParam
// error with a "buffer_too_small" context tag is returned so the caller
// can grow its buffer and retry without losing the message.
func (r *Ring) Pop(out []byte, localGeneration uint32) (n int, err error) {
	if r.header.GenStamp.Load() != localGeneration {
		return 0, api.NewError("ring.Pop", api.CodeEmpty).
			WithContext("reason", "generation_mismatch")
	}
	wr := r.header.WritePos.Load() // acquire
	rd := r.header.ReadPos.Load()
	avail := wr - rd
	if avail == 0 {
		return 0, api.NewError("ring.Pop", api.CodeEmpty)
	}

	var hdr [api.MessageHeaderSize]byte
	r.readAt(rd, hdr[:])
	plen, reserved, ok := decodeHeader(hdr[:])
	if !ok || reserved != 0 || plen < api.MinMessageSize || plen > api.MaxMessageSize || uint32(api.MessageHeaderSize+plen) > avail {
		return 0, api.NewError("ring.Pop", api.CodeProtocol).
			WithContext("reason", "corrupt frame header")
	}
	if len(out) < plen {
		return 0, api.NewError("ring.Pop", api.CodeInvalidParam).
			WithContext("reason", "buffer_too_small").WithContext("need", plen)
	}

	r.readAt(rd+api.MessageHeaderSize, out[:plen])
	r.header.ReadPos.Store(rd + uint32(api.MessageHeaderSize+plen)) // release
	r.header.MessageCount.Add(^uint32(0))                           // relaxed decrement
	return plen, nil
}

func decodeHeader(b []byte) (length int, reserved uint16, ok bool) {
	if len(b) != api.MessageHeaderSize {
		return 0, 0, false
	}
	v := binary.LittleEndian.Uint32(b)
	return int(v & 0xFFFF), uint16(v >> 16), true
}

// writeAt copies b into the ring starting at the byte position pos
// (masked), splitting across the wrap boundary if needed.
func (r *Ring) writeAt(pos uint32, b []byte) {
	off := pos & r.mask
	capacity := uint32(len(r.data))
	first := capacity - off
	if uint32(len(b)) <= first {
		copy(r.data[off:], b)
		return
	}
	copy(r.data[off:], b[:first])
	copy(r.data[:], b[first:])
}

// readAt copies len(out) bytes from the ring starting at pos (masked)
// into out, splitting across the wrap boundary if needed.
func (r *Ring) readAt(pos uint32, out []byte) {
	off := pos & r.mask
	capacity := uint32(len(r.data))
	first := capacity - off
	if uint32(len(out)) <= first {
		copy(out, r.data[off:off+uint32(len(out))])
		return
	}
	copy(out, r.data[off:capacity])
	copy(out[first:], r.data[:uint32(len(out))-first])
}
