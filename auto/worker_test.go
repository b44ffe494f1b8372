// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package auto

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm"
	"github.com/momentics/xshm/api"
)

var nameCounter atomic.Uint64

func uniqueName(t *testing.T) string {
	t.Helper()
	n := nameCounter.Add(1)
	return "autotest_" + t.Name() + "_" + itoa(n)
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

func connectedPair(t *testing.T) (*xshm.Server, *xshm.Client) {
	t.Helper()
	name := uniqueName(t)

	srv, err := xshm.NewServer(name, xshm.WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli, err := xshm.NewClient(name, xshm.WithBufferBytes(1<<17))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Stop() })

	done := make(chan error, 1)
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli.Connect(2000))
	require.NoError(t, <-done)
	return srv, cli
}

func TestWorkerDeliversInboundMessages(t *testing.T) {
	srv, cli := connectedPair(t)

	var mu sync.Mutex
	var got []string
	w := New(cli, Handlers{
		OnMessage: func(_ api.Direction, payload []byte) {
			mu.Lock()
			got = append(got, string(payload))
			mu.Unlock()
		},
	}, WithWaitTimeoutMS(10))
	defer w.Stop()

	require.NoError(t, srv.Send([]byte("one")))
	require.NoError(t, srv.Send([]byte("two")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"one", "two"}, got)
	mu.Unlock()
}

func TestWorkerSendPumpsOutbound(t *testing.T) {
	srv, cli := connectedPair(t)
	w := New(cli, Handlers{}, WithWaitTimeoutMS(10))
	defer w.Stop()

	require.NoError(t, w.Send([]byte("hello")))

	out := make([]byte, 64)
	var got string
	require.Eventually(t, func() bool {
		_ = srv.Poll(10)
		n, err := srv.Receive(out)
		if err != nil {
			return false
		}
		got = string(out[:n])
		return true
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "hello", got)
}

func TestWorkerReportsOverflow(t *testing.T) {
	srv, cli := connectedPair(t)

	var overflowed atomic.Bool
	w := New(cli, Handlers{
		OnOverflow: func(dir api.Direction, delta uint32) {
			if dir == api.DirectionInbound {
				overflowed.Store(true)
			}
		},
	}, WithWaitTimeoutMS(5))
	defer w.Stop()

	// Flood the server->client ring faster than the worker drains it so
	// the ring evicts and drop_count advances.
	payload := make([]byte, 8192)
	for i := 0; i < 400; i++ {
		_ = srv.Send(payload)
	}

	require.Eventually(t, func() bool { return overflowed.Load() }, 3*time.Second, 5*time.Millisecond)
}

func TestWorkerReconnectsAfterForcedDisconnect(t *testing.T) {
	name := uniqueName(t)

	srv, err := xshm.NewServer(name, xshm.WithBufferBytes(1<<17))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cli, err := xshm.NewClient(name, xshm.WithBufferBytes(1<<17))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.WaitForClient(2000) }()
	require.NoError(t, cli.Connect(2000))
	require.NoError(t, <-done)

	var connects, disconnects atomic.Int32
	w := New(cli, Handlers{
		OnConnect:    func() { connects.Add(1) },
		OnDisconnect: func() { disconnects.Add(1) },
	}, WithWaitTimeoutMS(10), WithReconnectDelayMS(20), WithConnectTimeoutMS(500))
	defer w.Stop()

	// Kick forces the current client to observe a disconnect without
	// tearing down the section, exactly as multiserver's DisconnectClient
	// does to a slot's occupant.
	require.NoError(t, srv.Kick())
	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	go func() { done <- srv.WaitForClient(3000) }()
	require.NoError(t, <-done)

	require.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}
