// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package xshm

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm/api"
)

var testNameCounter atomic.Uint64

func uniqueName(t *testing.T) string {
	t.Helper()
	return "xshmtest_" + t.Name() + "_" + itoa(testNameCounter.Add(1))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// connectedPair brings up a Server and a Client over the same channel
// and blocks until the handshake completes, returning both halves ready
// for traffic.
func connectedPair(t *testing.T) (*Server, *Client) {
	t.Helper()
	name := uniqueName(t)

	srv, err := NewServer(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli, err := NewClient(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Stop() })

	done := make(chan error, 1)
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli.Connect(2000))
	require.NoError(t, <-done)
	return srv, cli
}

func TestServerClientPingPong(t *testing.T) {
	srv, cli := connectedPair(t)

	require.NoError(t, srv.Send([]byte("ping")))
	out := make([]byte, 64)
	n, err := cli.Receive(out)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out[:n]))

	require.NoError(t, cli.Send([]byte("pong")))
	n, err = srv.Receive(out)
	require.NoError(t, err)
	require.Equal(t, "pong", string(out[:n]))
}

func TestClientReceivesAssignedSlotID(t *testing.T) {
	name := uniqueName(t)
	srv, err := NewServer(name, WithBufferBytes(1<<17), WithSlotID(7))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli, err := NewClient(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Stop() })

	done := make(chan error, 1)
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli.Connect(2000))
	require.NoError(t, <-done)
	require.EqualValues(t, 7, cli.SlotID())
}

func TestSendUndersizeAndOversizeRejected(t *testing.T) {
	srv, _ := connectedPair(t)
	requireCode(t, srv.Send([]byte{0}), api.CodeInvalidParam)
	requireCode(t, srv.Send(make([]byte, api.MaxMessageSize+1)), api.CodeInvalidParam)
}

func TestReceiveBufferTooSmallDoesNotConsume(t *testing.T) {
	srv, cli := connectedPair(t)
	require.NoError(t, srv.Send([]byte("hello")))

	small := make([]byte, 2)
	_, err := cli.Receive(small)
	requireCode(t, err, api.CodeInvalidParam)

	out := make([]byte, 8)
	n, err := cli.Receive(out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestClientConnectTimesOutWithoutHandshakeRound(t *testing.T) {
	name := uniqueName(t)
	srv, err := NewServer(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	// No WaitForClient call: server never publishes SERVER_READY.

	cli, err := NewClient(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Stop() })

	requireCode(t, cli.Connect(100), api.CodeTimeout)
}

func TestServerWaitForClientTimesOutWithoutClient(t *testing.T) {
	name := uniqueName(t)
	srv, err := NewServer(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	requireCode(t, srv.WaitForClient(100), api.CodeTimeout)
}

func TestStopIsIdempotent(t *testing.T) {
	srv, cli := connectedPair(t)
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	require.NoError(t, cli.Stop())
	require.NoError(t, cli.Stop())
}

func TestDisconnectObservedByPeerPoll(t *testing.T) {
	srv, cli := connectedPair(t)
	require.NoError(t, cli.Stop())

	deadline := time.Now().Add(2 * time.Second)
	var pollErr error
	for time.Now().Before(deadline) {
		pollErr = srv.Poll(100)
		if pollErr != nil {
			break
		}
	}
	requireCode(t, pollErr, api.CodeNotReady)
}

func TestGenerationAdvancesAcrossReconnects(t *testing.T) {
	name := uniqueName(t)
	srv, err := NewServer(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli1, err := NewClient(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli1.Connect(2000))
	require.NoError(t, <-done)
	firstGen := srv.Stats().Generation
	require.NoError(t, cli1.Stop())

	cli2, err := NewClient(name, WithBufferBytes(1<<17))
	require.NoError(t, err)
	t.Cleanup(func() { cli2.Stop() })
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli2.Connect(2000))
	require.NoError(t, <-done)
	require.Greater(t, srv.Stats().Generation, firstGen)
}

func requireCode(t *testing.T, err error, code api.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var xerr *api.Error
	require.True(t, errors.As(err, &xerr))
	require.Equal(t, code, xerr.Code)
}
