// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package multiclient

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/auto"
	"github.com/momentics/xshm/multiserver"
)

var nameCounter atomic.Uint64

func uniqueBase(t *testing.T) string {
	t.Helper()
	n := nameCounter.Add(1)
	return "mctest_" + t.Name() + "_" + itoa(n)
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

func startServer(t *testing.T, base string, handlers multiserver.Handlers, maxClients int) *multiserver.Server {
	t.Helper()
	srv, err := multiserver.NewServer(base, handlers, multiserver.WithMaxClients(maxClients), multiserver.WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestClientConnectAssignsSlot(t *testing.T) {
	base := uniqueBase(t)
	startServer(t, base, multiserver.Handlers{}, 2)

	c, err := NewClient(base, auto.Handlers{}, WithLobbyTimeoutMS(2000), WithSlotTimeoutMS(2000))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })

	require.True(t, c.IsConnected())
	require.Less(t, c.SlotID(), uint32(2))
}

func TestClientSendDeliveredToServerHandler(t *testing.T) {
	base := uniqueBase(t)
	var mu sync.Mutex
	var got string
	startServer(t, base, multiserver.Handlers{
		OnMessage: func(_ uint32, payload []byte) {
			mu.Lock()
			got = string(payload)
			mu.Unlock()
		},
	}, 1)

	c, err := NewClient(base, auto.Handlers{}, WithLobbyTimeoutMS(2000), WithSlotTimeoutMS(2000))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })

	require.NoError(t, c.Send([]byte("ping")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "ping"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientConnectFailsWhenLobbyFull(t *testing.T) {
	base := uniqueBase(t)
	startServer(t, base, multiserver.Handlers{}, 1)

	c1, err := NewClient(base, auto.Handlers{}, WithLobbyTimeoutMS(2000), WithSlotTimeoutMS(2000))
	require.NoError(t, err)
	require.NoError(t, c1.Connect())
	t.Cleanup(func() { c1.Disconnect() })

	c2, err := NewClient(base, auto.Handlers{}, WithLobbyTimeoutMS(2000))
	require.NoError(t, err)
	err = c2.Connect()
	require.Error(t, err)
	var xerr *api.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, api.CodeNoSlot, xerr.Code)
}

func TestClientObservesServerInitiatedDisconnect(t *testing.T) {
	base := uniqueBase(t)
	srv := startServer(t, base, multiserver.Handlers{}, 1)

	var disconnected atomic.Bool
	c, err := NewClient(base, auto.Handlers{
		OnDisconnect: func() { disconnected.Store(true) },
	}, WithLobbyTimeoutMS(2000), WithSlotTimeoutMS(2000), WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })

	require.NoError(t, srv.DisconnectClient(c.SlotID()))

	require.Eventually(t, func() bool { return disconnected.Load() }, 2*time.Second, 10*time.Millisecond)
	require.False(t, c.IsConnected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	base := uniqueBase(t)
	startServer(t, base, multiserver.Handlers{}, 1)

	c, err := NewClient(base, auto.Handlers{}, WithLobbyTimeoutMS(2000), WithSlotTimeoutMS(2000))
	require.NoError(t, err)
	require.NoError(t, c.Connect())

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	require.False(t, c.IsConnected())
}
