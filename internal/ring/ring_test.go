// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

// ring_test.go — property and scenario tests for the SPSC framed ring.
package ring

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/layout"
)

func newTestRing(t *testing.T, capacity uint32) *Ring {
	t.Helper()
	header := &layout.RingHeader{}
	data := make([]byte, capacity)
	r, err := New(header, data)
	require.NoError(t, err)
	return r
}

func TestRingRoundTrip(t *testing.T) {
	r := newTestRing(t, 1<<17)
	payloads := [][]byte{
		{1, 2},
		[]byte("ping"),
		make([]byte, api.MaxMessageSize),
	}
	for _, p := range payloads {
		_, err := r.Push(p)
		require.NoError(t, err)
	}
	out := make([]byte, api.MaxMessageSize)
	for _, want := range payloads {
		n, err := r.Pop(out, 0)
		require.NoError(t, err)
		require.Equal(t, want, out[:n])
	}
	_, err := r.Pop(out, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, api.NewError("", api.CodeEmpty)))
}

func TestRingFIFOUnderCapacity(t *testing.T) {
	r := newTestRing(t, 1<<17)
	const count = 100
	for i := 0; i < count; i++ {
		_, err := r.Push([]byte{byte(i), byte(i >> 8)})
		require.NoError(t, err)
	}
	out := make([]byte, 8)
	for i := 0; i < count; i++ {
		n, err := r.Pop(out, 0)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Equal(t, byte(i), out[0])
	}
}

func TestRingOversizeAndUndersizeRejected(t *testing.T) {
	r := newTestRing(t, 1<<17)
	_, err := r.Push(make([]byte, api.MaxMessageSize+1))
	requireCode(t, err, api.CodeInvalidParam)
	_, err = r.Push([]byte{0})
	requireCode(t, err, api.CodeInvalidParam)
	_, err = r.Push(nil)
	requireCode(t, err, api.CodeInvalidParam)
}

func TestRingBufferTooSmallDoesNotConsume(t *testing.T) {
	r := newTestRing(t, 1<<17)
	_, err := r.Push([]byte("hello"))
	require.NoError(t, err)

	small := make([]byte, 2)
	_, err = r.Pop(small, 0)
	requireCode(t, err, api.CodeInvalidParam)
	require.EqualValues(t, 1, r.Len())

	out := make([]byte, 5)
	n, err := r.Pop(out, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestRingOverwritePreservesTailOrdering(t *testing.T) {
	capacity := uint32(1 << 20) // 1 MiB, must fit MaxMessageSize+header
	r := newTestRing(t, capacity)

	const payloadLen = 8192
	const pushes = 300
	frame := uint32(api.MessageHeaderSize + payloadLen)
	maxResident := capacity / frame

	for i := 0; i < pushes; i++ {
		payload := make([]byte, payloadLen)
		payload[0] = byte(i)
		payload[1] = byte(i >> 8)
		_, err := r.Push(payload)
		require.NoError(t, err)
	}

	dropped := r.DropCount()
	require.GreaterOrEqual(t, dropped, uint32(pushes)-maxResident-1)

	seq := func(b []byte) int { return int(b[0]) | int(b[1])<<8 }

	out := make([]byte, payloadLen)
	n, err := r.Pop(out, 0)
	require.NoError(t, err)
	require.Equal(t, payloadLen, n)
	// The surviving tail must be a contiguous suffix of [0, pushes).
	first := seq(out)
	require.GreaterOrEqual(t, first, pushes-int(maxResident)-1)

	last := first
	for {
		n, err := r.Pop(out, 0)
		if err != nil {
			break
		}
		require.Equal(t, payloadLen, n)
		require.Equal(t, last+1, seq(out))
		last = seq(out)
	}
	require.Equal(t, pushes-1, last)
}

func TestRingPropertyBasedPushPop(t *testing.T) {
	r := newTestRing(t, 1<<18)
	rng := rand.New(rand.NewSource(42))
	var pending [][]byte
	out := make([]byte, api.MaxMessageSize)

	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 || len(pending) == 0 {
			payload := make([]byte, 2+rng.Intn(256))
			rng.Read(payload)
			if dropped, err := r.Push(payload); err == nil {
				pending = append(pending, payload)
				pending = pending[dropped:]
			}
		} else {
			n, err := r.Pop(out, 0)
			if err == nil {
				require.Equal(t, pending[0], out[:n])
				pending = pending[1:]
			}
		}
	}
}

func TestRingPopRejectsStaleGeneration(t *testing.T) {
	r := newTestRing(t, 1<<17)
	_, err := r.Push([]byte("hello"))
	require.NoError(t, err)

	out := make([]byte, 5)
	_, err = r.Pop(out, 1)
	requireCode(t, err, api.CodeEmpty)
	require.EqualValues(t, 1, r.Len(), "a generation-mismatched Pop must not consume the frame")

	n, err := r.Pop(out, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func requireCode(t *testing.T, err error, code api.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var xerr *api.Error
	require.True(t, errors.As(err, &xerr))
	require.Equal(t, code, xerr.Code)
}
