// File: multiclient/client.go
// Package multiclient is the client half of the lobby-plus-slots
// protocol: dial the lobby as a plain xshm.Client, trade a short
// hello/reply pair for a slot assignment, then hand the assigned slot's
// xshm.Client to an auto.Worker for the rest of the session (with
// reconnect already covered by auto.Worker's Reconnectable path).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiclient

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/xshm"
	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/auto"
	"github.com/momentics/xshm/internal/naming"
)

// helloPayload is the 2-byte token the lobby protocol requires; its
// content carries no meaning beyond "a candidate is here".
var helloPayload = []byte{0x01, 0x00}

// Client is the multi-client handle: a lobby round-trip followed by a
// slot connection, both addressed by baseName.
type Client struct {
	mu       sync.Mutex
	cfg      Config
	baseName string
	handlers auto.Handlers
	log      *zap.Logger

	slotID    uint32
	worker    *auto.Worker
	connected bool
}

// NewClient constructs a Client bound to baseName without touching the
// OS; call Connect to run the lobby and slot handshakes.
func NewClient(baseName string, handlers auto.Handlers, opts ...Option) (*Client, error) {
	if err := naming.Validate(baseName); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	applyOptions(&cfg, opts)
	return &Client{
		cfg:      cfg,
		baseName: baseName,
		handlers: handlers,
		log:      cfg.Logger,
	}, nil
}

// Connect performs the full lobby handshake and connects to the
// assigned slot, starting the wrapped auto.Worker on success.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slotID, err := c.negotiateSlot()
	if err != nil {
		return err
	}

	slotClient, err := xshm.NewClient(naming.Slot(c.baseName, slotID), xshm.WithLogger(c.log))
	if err != nil {
		return err
	}
	if err := slotClient.Connect(c.cfg.SlotTimeoutMS); err != nil {
		return err
	}

	c.slotID = slotID
	c.worker = auto.New(slotClient, c.trackedHandlers(),
		auto.WithWaitTimeoutMS(c.cfg.PollTimeoutMS),
		auto.WithRecvBatch(c.cfg.RecvBatch),
		auto.WithLogger(c.log))
	c.connected = true
	c.log.Info("multiclient connected", zap.String("base_name", c.baseName), zap.Uint32("slot_id", slotID))
	return nil
}

// negotiateSlot runs the lobby side of the handshake alone: connect,
// send hello, read the 6-byte reply, disconnect.
func (c *Client) negotiateSlot() (uint32, error) {
	lobby, err := xshm.NewClient(c.baseName, xshm.WithLogger(c.log))
	if err != nil {
		return 0, err
	}
	if err := lobby.Connect(c.cfg.LobbyTimeoutMS); err != nil {
		return 0, err
	}
	defer lobby.Stop()

	if err := lobby.Send(helloPayload); err != nil {
		return 0, err
	}

	reply, err := c.readLobbyReply(lobby)
	if err != nil {
		return 0, err
	}
	if reply.Status != api.LobbyStatusOK {
		return 0, api.NewError("multiclient.Client.Connect", api.CodeNoSlot).
			WithContext("reason", "lobby rejected: slots exhausted")
	}
	return reply.SlotID, nil
}

func (c *Client) readLobbyReply(lobby *xshm.Client) (api.LobbyReply, error) {
	buf := make([]byte, api.LobbyReplySize)
	deadline := time.Now().Add(time.Duration(c.cfg.LobbyTimeoutMS) * time.Millisecond)
	for {
		if c.cfg.LobbyTimeoutMS > 0 && !time.Now().Before(deadline) {
			return api.LobbyReply{}, api.NewError("multiclient.Client.Connect", api.CodeTimeout).
				WithContext("reason", "lobby never replied")
		}
		if err := lobby.Poll(c.cfg.PollTimeoutMS); err != nil {
			if isTimeout(err) {
				continue
			}
			return api.LobbyReply{}, err
		}
		n, err := lobby.Receive(buf)
		if err != nil {
			if isEmpty(err) {
				continue
			}
			return api.LobbyReply{}, err
		}
		reply, ok := api.DecodeLobbyReply(buf[:n])
		if !ok {
			return api.LobbyReply{}, api.NewError("multiclient.Client.Connect", api.CodeProtocol).
				WithContext("reason", "malformed lobby reply").WithContext("len", n)
		}
		return reply, nil
	}
}

// trackedHandlers wraps the caller's Handlers so Connect/Disconnect
// transitions keep IsConnected accurate regardless of which side
// (explicit Disconnect, or auto.Worker's own reconnect loop) drives it.
func (c *Client) trackedHandlers() auto.Handlers {
	h := c.handlers
	return auto.Handlers{
		OnMessage:  h.OnMessage,
		OnOverflow: h.OnOverflow,
		OnConnect: func() {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			if h.OnConnect != nil {
				h.OnConnect()
			}
		},
		OnDisconnect: func() {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if h.OnDisconnect != nil {
				h.OnDisconnect()
			}
		},
		OnError: h.OnError,
	}
}

// SlotID returns the slot index assigned during Connect.
func (c *Client) SlotID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slotID
}

// IsConnected reports whether the wrapped slot session is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send enqueues payload on the assigned slot's channel via the wrapped
// auto.Worker.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w == nil {
		return api.NewError("multiclient.Client.Send", api.CodeNotReady)
	}
	return w.Send(payload)
}

// Disconnect stops the wrapped worker and its slot session. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	w := c.worker
	c.connected = false
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

func isTimeout(err error) bool {
	var xerr *api.Error
	return errors.As(err, &xerr) && xerr.Code == api.CodeTimeout
}

func isEmpty(err error) bool {
	var xerr *api.Error
	return errors.As(err, &xerr) && xerr.Code == api.CodeEmpty
}
