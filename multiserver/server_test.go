// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package multiserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/auto"
	"github.com/momentics/xshm/multiclient"
)

var nameCounter atomic.Uint64

func uniqueBase(t *testing.T) string {
	t.Helper()
	n := nameCounter.Add(1)
	return "mstest_" + t.Name() + "_" + itoa(n)
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

func dialClient(t *testing.T, base string) *multiclient.Client {
	t.Helper()
	c, err := multiclient.NewClient(base, auto.Handlers{}, multiclient.WithLobbyTimeoutMS(2000), multiclient.WithSlotTimeoutMS(2000))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestMultiClientSlotAssignmentAndReuse(t *testing.T) {
	base := uniqueBase(t)
	srv, err := NewServer(base, Handlers{}, WithMaxClients(3), WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	c0 := dialClient(t, base)
	c1 := dialClient(t, base)
	c2 := dialClient(t, base)

	seen := map[uint32]bool{c0.SlotID(): true, c1.SlotID(): true, c2.SlotID(): true}
	require.Len(t, seen, 3)
	for id := range seen {
		require.Less(t, id, uint32(3))
	}

	require.Eventually(t, func() bool {
		occupied := 0
		for _, si := range srv.Slots() {
			if si.State == SlotOccupied {
				occupied++
			}
		}
		return occupied == 3
	}, 2*time.Second, 10*time.Millisecond)

	sent := srv.Broadcast([]byte("hello"))
	require.Equal(t, 3, sent)

	freedSlot := c1.SlotID()
	require.NoError(t, c1.Disconnect())

	require.Eventually(t, func() bool {
		for _, si := range srv.Slots() {
			if si.Index == int(freedSlot) {
				return si.State == SlotFree
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	c3 := dialClient(t, base)
	require.Equal(t, freedSlot, c3.SlotID())
}

func TestLobbyExhaustion(t *testing.T) {
	base := uniqueBase(t)
	srv, err := NewServer(base, Handlers{}, WithMaxClients(2), WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	_ = dialClient(t, base)
	_ = dialClient(t, base)

	c3, err := multiclient.NewClient(base, auto.Handlers{}, multiclient.WithLobbyTimeoutMS(2000))
	require.NoError(t, err)
	err = c3.Connect()
	require.Error(t, err)
	var xerr *api.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, api.CodeNoSlot, xerr.Code)
}

func TestServerMessageDeliveryToHandlers(t *testing.T) {
	base := uniqueBase(t)
	var mu sync.Mutex
	received := make(map[uint32]string)

	srv, err := NewServer(base, Handlers{
		OnMessage: func(clientID uint32, payload []byte) {
			mu.Lock()
			received[clientID] = string(payload)
			mu.Unlock()
		},
	}, WithMaxClients(2), WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	c := dialClient(t, base)
	require.NoError(t, c.Send([]byte("from-client")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received[c.SlotID()] == "from-client"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectClientFreesSlot(t *testing.T) {
	base := uniqueBase(t)
	srv, err := NewServer(base, Handlers{}, WithMaxClients(1), WithPollTimeoutMS(10))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	c := dialClient(t, base)
	slotID := c.SlotID()

	require.NoError(t, srv.DisconnectClient(slotID))
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, si := range srv.Slots() {
			if si.Index == int(slotID) {
				return si.State == SlotFree
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
