// File: client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/events"
	"github.com/momentics/xshm/internal/layout"
	"github.com/momentics/xshm/internal/naming"
	"github.com/momentics/xshm/internal/ring"
)

// Client is the handshake-responding side of one xShm channel: it opens
// the section and events a Server created and drives the hello exchange.
type Client struct {
	mu sync.Mutex
	endpoint
	log    *zap.Logger
	slotID uint32
}

// NewClient validates cfg and constructs a Client without touching the
// OS; call Connect to open the shared section and run the handshake.
func NewClient(name string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig(name)
	applyOptions(&cfg, opts)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Client{
		endpoint: endpoint{cfg: cfg, platform: cfg.platform},
		log:      cfg.Logger,
	}, nil
}

// Connect opens the section and events a server previously created,
// verifies the wire header, waits for a live SERVER_READY round,
// performs the hello handshake, and blocks for the server's
// acknowledgement.
//
// The handshake is state-driven; the conn event only accelerates it.
// SERVER_READY alone is not enough to hello against: a server that
// accepted a previous session and never moved on still shows it. A live
// round is one where reserved[0] holds SlotIDNoSlot — the server posts
// that sentinel at the start of every WaitForClient and overwrites it
// with the real slot id only when it accepts a hello, so the
// acknowledgement (reserved[0] leaving the sentinel) can never be
// satisfied by leftovers of an older session.
func (c *Client) Connect(timeoutMS int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(msToDuration(timeoutMS))
	size := bufferBytes(c.cfg)
	total := layout.SegmentSize(size)

	h, raw, err := c.platform.OpenSection(naming.Section(c.cfg.Name), total)
	if err != nil {
		return api.NewError("xshm.Client.Connect", api.CodeNotFound).WithCause(err)
	}
	seg, err := layout.New(raw, size)
	if err != nil {
		c.platform.CloseSection(h, raw)
		return err
	}
	if err := seg.VerifyMagicVersion(); err != nil {
		c.platform.CloseSection(h, raw)
		return err
	}

	// The server->client ring (A) is what the client reads; the
	// client->server ring (B) is what the client writes.
	recvRing, err := ring.New(seg.RingHeaderA, seg.RingDataA)
	if err != nil {
		c.platform.CloseSection(h, raw)
		return err
	}
	sendRing, err := ring.New(seg.RingHeaderB, seg.RingDataB)
	if err != nil {
		c.platform.CloseSection(h, raw)
		return err
	}

	recvEvents, err := events.Open(c.platform, c.cfg.Name, naming.SuffixS2CData, naming.SuffixS2CSpace)
	if err != nil {
		c.platform.CloseSection(h, raw)
		return err
	}
	sendEvents, err := events.Open(c.platform, c.cfg.Name, naming.SuffixC2SData, naming.SuffixC2SSpace)
	if err != nil {
		recvEvents.Close()
		c.platform.CloseSection(h, raw)
		return err
	}
	closeAll := func() {
		sendEvents.Close()
		recvEvents.Close()
		c.platform.CloseSection(h, raw)
	}

	for seg.Control.ServerState.Load() != api.StateServerReady ||
		seg.Control.Reserved[0].Load() != api.SlotIDNoSlot {
		if timeoutMS > 0 && !time.Now().Before(deadline) {
			closeAll()
			return api.NewError("xshm.Client.Connect", api.CodeTimeout).
				WithContext("reason", "server never opened a handshake round")
		}
		time.Sleep(pollStep)
	}

	sendEvents.ResetConn()
	seg.Control.ClientState.Store(api.StateClientHello)
	if err := sendEvents.SignalConn(); err != nil {
		closeAll()
		return err
	}

	for seg.Control.Reserved[0].Load() == api.SlotIDNoSlot {
		if timeoutMS > 0 && !time.Now().Before(deadline) {
			closeAll()
			return api.NewError("xshm.Client.Connect", api.CodeTimeout).
				WithContext("reason", "server never acknowledged hello")
		}
		time.Sleep(pollStep)
		// A server round that expired between our hello and its state
		// check resets client_state at the top of the next round;
		// re-assert so that round sees us.
		if seg.Control.Reserved[0].Load() == api.SlotIDNoSlot &&
			seg.Control.ClientState.Load() != api.StateClientHello {
			seg.Control.ClientState.Store(api.StateClientHello)
			sendEvents.SignalConn()
		}
	}
	sendEvents.ResetConn()

	// A reconnecting client re-opens everything (the server may have
	// recreated the section since the last session); the previous
	// session's handles are swapped out only now, so a failed attempt
	// leaves the old, still-valid state untouched.
	c.closeEndpoint()
	c.stopped = false
	c.sectionHandle, c.raw, c.seg = h, raw, seg
	c.sendRing, c.recvRing = sendRing, recvRing
	c.sendEvents, c.recvEvents = sendEvents, recvEvents
	c.slotID = seg.Control.Reserved[0].Load()
	c.localGeneration = seg.Control.Generation.Load()
	c.connected = true
	c.log.Info("xshm client connected",
		zap.String("name", c.cfg.Name), zap.Uint32("generation", c.localGeneration), zap.Uint32("slot_id", c.slotID))
	return nil
}

// SlotID returns the slot identifier the server assigned during the
// handshake.
func (c *Client) SlotID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slotID
}

// Send enqueues payload on the client->server ring.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.send(payload)
}

// Receive reads the next server->client frame into out.
func (c *Client) Receive(out []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.receive(out)
}

// Poll blocks until data, space, or a connection change is observed, or
// timeoutMS elapses. A server-initiated disconnect (server_state goes
// idle, e.g. the server stopped or explicitly Kicked the current client)
// surfaces here as NotReady, which is
// what drives auto.Worker's reconnect loop.
//
// The state check below runs even when the wait itself timed out, for
// the same reason Server.Poll does: a racing ResetConn on the peer can
// consume a wake this side never observes, so re-checking the persisted
// state bits every call still catches the disconnect within one poll
// interval.
func (c *Client) Poll(timeoutMS int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pollErr := c.endpoint.poll(timeoutMS)
	if pollErr != nil && !hasCode(pollErr, api.CodeTimeout) {
		return pollErr
	}
	if c.connected && c.seg.Control.ServerState.Load() == api.StateIdle {
		c.connected = false
		c.recvEvents.ResetConn()
		return api.NewError("xshm.Client.Poll", api.CodeNotReady).WithContext("reason", "server_disconnected")
	}
	return pollErr
}

// Stats returns a diagnostic snapshot.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint.stats()
}

// Stop tears the channel down. Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	if c.seg != nil && c.connected {
		c.seg.Control.ClientState.Store(api.StateIdle)
		c.sendEvents.SignalConn()
	}
	c.connected = false
	c.closeEndpoint()
	c.stopped = true
	c.log.Info("xshm client stopped", zap.String("name", c.cfg.Name))
	return nil
}
