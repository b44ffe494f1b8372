// File: server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/events"
	"github.com/momentics/xshm/internal/layout"
	"github.com/momentics/xshm/internal/naming"
	"github.com/momentics/xshm/internal/ring"
	"github.com/momentics/xshm/internal/winapi"
)

// Server is the handshake-initiating side of one xShm channel: it owns
// the shared section and the named events, and accepts one client per
// generation.
type Server struct {
	mu sync.Mutex
	endpoint
	log *zap.Logger
}

// NewServer validates cfg and constructs a Server without touching the
// OS; call Start to create the shared section and events.
func NewServer(name string, opts ...Option) (*Server, error) {
	cfg := DefaultConfig(name)
	applyOptions(&cfg, opts)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Server{
		endpoint: endpoint{cfg: cfg, platform: cfg.platform},
		log:      cfg.Logger,
	}, nil
}

// Start creates the shared section and every named event, and
// initializes the control block. It does not block; call WaitForClient
// to run the handshake.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := bufferBytes(s.cfg)
	total := layout.SegmentSize(size)
	h, raw, err := s.platform.CreateSection(naming.Section(s.cfg.Name), total)
	if err != nil {
		code := api.CodeMemory
		if errors.Is(err, winapi.ErrExists) {
			code = api.CodeExists
		}
		return api.NewError("xshm.Server.Start", code).WithCause(err)
	}
	seg, err := layout.New(raw, size)
	if err != nil {
		s.platform.CloseSection(h, raw)
		return err
	}
	seg.InitServer()

	sendRing, err := ring.New(seg.RingHeaderA, seg.RingDataA)
	if err != nil {
		s.platform.CloseSection(h, raw)
		return err
	}
	recvRing, err := ring.New(seg.RingHeaderB, seg.RingDataB)
	if err != nil {
		s.platform.CloseSection(h, raw)
		return err
	}

	sendEvents, err := events.Create(s.platform, s.cfg.Name, naming.SuffixS2CData, naming.SuffixS2CSpace)
	if err != nil {
		s.platform.CloseSection(h, raw)
		return err
	}
	recvEvents, err := events.Create(s.platform, s.cfg.Name, naming.SuffixC2SData, naming.SuffixC2SSpace)
	if err != nil {
		sendEvents.Close()
		s.platform.CloseSection(h, raw)
		return err
	}

	s.sectionHandle, s.raw, s.seg = h, raw, seg
	s.sendRing, s.recvRing = sendRing, recvRing
	s.sendEvents, s.recvEvents = sendEvents, recvEvents
	s.log.Info("xshm server started", zap.String("name", s.cfg.Name), zap.Uint32("slot_id", s.cfg.SlotID))
	return nil
}

// WaitForClient resets both rings under a freshly incremented
// generation, posts the SlotIDNoSlot sentinel into reserved[0],
// publishes SERVER_READY, and blocks until a client completes the hello
// handshake or timeoutMS elapses. The acknowledgement the client waits
// for is reserved[0] leaving the sentinel — a value a stale session can
// never fake, since every round re-posts it before going ready.
//
// The wait is state-driven: client_state is re-checked on every wake
// AND on every slice timeout, so a conn-event signal consumed or reset
// by the wrong party can delay the handshake by at most one slice, never
// lose it. Generation-race fix: the generation snapshot taken before
// blocking is re-validated on every pass — if some other caller (e.g. a
// retried WaitForClient) has advanced generation past the snapshot, an
// observed hello belongs to that newer round and this one keeps waiting.
func (s *Server) WaitForClient(timeoutMS int) error {
	s.mu.Lock()
	gen := s.seg.Control.Generation.Add(1)
	s.seg.RingHeaderA.Reset(gen)
	s.seg.RingHeaderB.Reset(gen)
	s.seg.Control.ClientState.Store(api.StateIdle)
	s.seg.Control.Reserved[0].Store(api.SlotIDNoSlot)
	s.seg.Control.ServerState.Store(api.StateServerReady)
	s.connected = false
	s.recvEvents.ResetConn()
	s.mu.Unlock()

	deadline := time.Now().Add(msToDuration(timeoutMS))
	for {
		slice := handshakeStep
		if timeoutMS > 0 {
			if remaining := time.Until(deadline); remaining < slice {
				slice = remaining
			}
		}
		if slice > 0 {
			if err := s.recvEvents.WaitConn(slice); err != nil && !hasCode(err, api.CodeTimeout) {
				return err
			}
		}

		s.mu.Lock()
		if s.seg.Control.Generation.Load() != gen {
			s.mu.Unlock()
			if timeoutMS > 0 && !time.Now().Before(deadline) {
				return api.NewError("xshm.Server.WaitForClient", api.CodeTimeout)
			}
			continue
		}
		if s.seg.Control.ClientState.Load() == api.StateClientHello {
			s.seg.Control.Reserved[0].Store(s.cfg.SlotID)
			s.recvEvents.ResetConn()
			s.recvEvents.SignalConn()
			s.connected = true
			s.localGeneration = gen
			s.log.Info("xshm server accepted client",
				zap.String("name", s.cfg.Name), zap.Uint32("generation", gen), zap.Uint32("slot_id", s.cfg.SlotID))
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if timeoutMS > 0 && !time.Now().Before(deadline) {
			return api.NewError("xshm.Server.WaitForClient", api.CodeTimeout)
		}
	}
}

// Send enqueues payload on the server->client ring.
func (s *Server) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint.send(payload)
}

// Receive reads the next client->server frame into out.
func (s *Server) Receive(out []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint.receive(out)
}

// Poll blocks until data, space, or a connection change is observed, or
// timeoutMS elapses. Either a client-initiated disconnect (client_state
// goes idle) or a server-initiated Kick (server_state goes idle while
// still connected) surfaces here as NotReady rather than as a silent
// no-op wake, so an auto-worker built on top of Poll can detect either
// without a dedicated disconnect channel.
//
// The state check below runs even when the wait itself timed out: the
// conn event is manual-reset and shared with the peer, so a racing
// ResetConn on the other side can consume a wake this side never
// observes; re-checking the persisted state bits on every call, timeout
// or not, means the disconnect is still caught within one poll interval.
func (s *Server) Poll(timeoutMS int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pollErr := s.endpoint.poll(timeoutMS)
	if pollErr != nil && !hasCode(pollErr, api.CodeTimeout) {
		return pollErr
	}
	if s.connected && (s.seg.Control.ClientState.Load() == api.StateIdle || s.seg.Control.ServerState.Load() == api.StateIdle) {
		s.connected = false
		s.recvEvents.ResetConn()
		return api.NewError("xshm.Server.Poll", api.CodeNotReady).WithContext("reason", "client_disconnected")
	}
	return pollErr
}

// Stats returns a diagnostic snapshot.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint.stats()
}

// EventHandles is the duplicated-handle bundle GetEventHandles returns,
// letting an external driver-style consumer wait on the raw kernel
// objects directly.
type EventHandles struct {
	S2CData  winapi.Handle
	S2CSpace winapi.Handle
	C2SData  winapi.Handle
	C2SSpace winapi.Handle
	Conn     winapi.Handle
}

// GetEventHandles duplicates the five named-event handles for a caller
// that wants to wait on them outside this API. The caller owns the
// duplicates and must close them.
func (s *Server) GetEventHandles() (EventHandles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := func(h winapi.Handle) (winapi.Handle, error) { return s.platform.DuplicateHandle(h) }
	s2cData, err := dup(s.sendEvents.Data)
	if err != nil {
		return EventHandles{}, err
	}
	s2cSpace, err := dup(s.sendEvents.Space)
	if err != nil {
		return EventHandles{}, err
	}
	c2sData, err := dup(s.recvEvents.Data)
	if err != nil {
		return EventHandles{}, err
	}
	c2sSpace, err := dup(s.recvEvents.Space)
	if err != nil {
		return EventHandles{}, err
	}
	conn, err := dup(s.recvEvents.Conn)
	if err != nil {
		return EventHandles{}, err
	}
	return EventHandles{S2CData: s2cData, S2CSpace: s2cSpace, C2SData: c2sData, C2SSpace: c2sSpace, Conn: conn}, nil
}

// Kick forces the currently connected client to observe a disconnect
// without tearing down the section or events, so a subsequent
// WaitForClient can offer SERVER_READY to the next candidate on the same
// channel. A no-op if no client is connected.
func (s *Server) Kick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.seg.Control.ServerState.Store(api.StateIdle)
	return s.recvEvents.SignalConn()
}

// Stop tears the channel down. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if s.seg != nil && s.connected {
		s.seg.Control.ServerState.Store(api.StateIdle)
		s.recvEvents.SignalConn()
	}
	s.connected = false
	s.closeEndpoint()
	s.stopped = true
	s.log.Info("xshm server stopped", zap.String("name", s.cfg.Name))
	return nil
}
