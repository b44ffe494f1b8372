// File: multiserver/server.go
// Package multiserver layers the lobby-plus-slots protocol over the
// single-client xshm.Server: a dedicated lobby endpoint assigns each
// candidate a slot index, then a fixed-size pool of per-slot Servers
// (each driven by an auto.Worker) carries that client's traffic for as
// long as it stays connected.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiserver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/xshm"
	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/auto"
	"github.com/momentics/xshm/internal/naming"
)

// lobbyDrainTimeout bounds how long the lobby stays parked on a
// candidate that was sent its reply but never disconnected.
const lobbyDrainTimeout = time.Second

// Server runs a lobby plus a fixed-size pool of per-slot channels under
// one base name.
type Server struct {
	cfg      Config
	baseName string
	handlers Handlers
	log      *zap.Logger

	lobby *xshm.Server
	pool  *dispatchPool
	slots []*slot

	connectedCount atomic.Int64

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewServer constructs a Server bound to baseName without touching the
// OS; call Start to create the lobby and slot channels.
func NewServer(baseName string, handlers Handlers, opts ...Option) (*Server, error) {
	if err := naming.Validate(baseName); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	applyOptions(&cfg, opts)
	return &Server{
		cfg:      cfg,
		baseName: baseName,
		handlers: handlers,
		log:      cfg.Logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start creates the lobby endpoint and every slot's section/events, then
// launches the lobby accept loop and one dispatch-pool task per slot.
// Every slot's section is created synchronously here so that, by the
// time Start returns, a multi-client dialing any assigned slot name will
// find the section already mapped (it still spins for SERVER_READY via
// its own Connect timeout).
func (s *Server) Start() error {
	lobby, err := xshm.NewServer(s.baseName, xshm.WithLogger(s.log))
	if err != nil {
		return err
	}
	if err := lobby.Start(); err != nil {
		return err
	}
	s.lobby = lobby

	s.slots = make([]*slot, s.cfg.MaxClients)
	for i := 0; i < s.cfg.MaxClients; i++ {
		srv, err := xshm.NewServer(naming.Slot(s.baseName, uint32(i)),
			xshm.WithSlotID(uint32(i)), xshm.WithLogger(s.log))
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		s.slots[i] = &slot{state: SlotFree, server: srv}
	}

	s.pool = newDispatchPool(s.cfg.MaxClients)
	for i := 0; i < s.cfg.MaxClients; i++ {
		idx := i
		s.wg.Add(1)
		_ = s.pool.Submit(func() {
			defer s.wg.Done()
			s.runSlot(idx)
		})
	}

	s.wg.Add(1)
	go s.runLobby()

	s.log.Info("multiserver started", zap.String("base_name", s.baseName), zap.Int("max_clients", s.cfg.MaxClients))
	return nil
}

// Stop cancels the lobby loop and every slot worker, then tears down all
// section mappings. Idempotent.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	s.pool.Close()
	s.wg.Wait()

	// Every lobby/slot goroutine has now returned, so closing the
	// underlying endpoints here races with nothing.
	if s.lobby != nil {
		s.lobby.Stop()
	}
	for _, sl := range s.slots {
		if sl.server != nil {
			sl.server.Stop()
		}
	}
	s.log.Info("multiserver stopped", zap.String("base_name", s.baseName))
	return nil
}

// Slots returns a point-in-time snapshot of every slot's state.
func (s *Server) Slots() []SlotInfo {
	out := make([]SlotInfo, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.info(i)
	}
	return out
}

// Broadcast sends data to every currently Occupied slot, isolating
// per-slot failures. It reports how many slots accepted the send.
func (s *Server) Broadcast(data []byte) int {
	sent := 0
	for i, sl := range s.slots {
		sl.mu.Lock()
		occupied := sl.state == SlotOccupied
		w := sl.worker
		sl.mu.Unlock()
		if !occupied || w == nil {
			continue
		}
		if err := w.Send(data); err != nil {
			s.handlers.error(uint32(i), err)
			continue
		}
		sent++
	}
	return sent
}

// SendTo sends data to exactly one occupied slot.
func (s *Server) SendTo(clientID uint32, data []byte) error {
	if int(clientID) >= len(s.slots) {
		return api.NewError("multiserver.Server.SendTo", api.CodeInvalidParam).WithContext("client_id", clientID)
	}
	sl := s.slots[clientID]
	sl.mu.Lock()
	occupied := sl.state == SlotOccupied
	w := sl.worker
	sl.mu.Unlock()
	if !occupied || w == nil {
		return api.NewError("multiserver.Server.SendTo", api.CodeNotReady).WithContext("client_id", clientID)
	}
	return w.Send(data)
}

// DisconnectClient signals the slot's connection event with a disconnect
// state; the slot's own worker observes it and cleans up.
func (s *Server) DisconnectClient(clientID uint32) error {
	if int(clientID) >= len(s.slots) {
		return api.NewError("multiserver.Server.DisconnectClient", api.CodeInvalidParam).WithContext("client_id", clientID)
	}
	sl := s.slots[clientID]
	sl.mu.Lock()
	srv := sl.server
	sl.mu.Unlock()
	if srv == nil {
		return api.NewError("multiserver.Server.DisconnectClient", api.CodeNotReady).WithContext("client_id", clientID)
	}
	return srv.Kick()
}

// assignSlot scans the table for the first Free slot and reserves it.
func (s *Server) assignSlot() (uint32, bool) {
	for i, sl := range s.slots {
		if sl.tryReserve() {
			return uint32(i), true
		}
	}
	return api.SlotIDNoSlot, false
}

// runLobby repeatedly hands the lobby endpoint to the next candidate: it
// resets and waits for a handshake, reads the 2-byte hello frame,
// assigns a slot (or rejects), and replies.
func (s *Server) runLobby() {
	defer s.wg.Done()
	hello := make([]byte, 2)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		err := s.lobby.WaitForClient(s.cfg.PollTimeoutMS)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.log.Warn("lobby handshake failed", zap.Error(err))
			continue
		}
		s.acceptCandidate(hello)
	}
}

func (s *Server) acceptCandidate(hello []byte) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.lobby.Poll(s.cfg.PollTimeoutMS); err != nil {
			if isTimeout(err) {
				continue
			}
			s.log.Warn("lobby candidate poll failed", zap.Error(err))
			return
		}
		if _, err := s.lobby.Receive(hello); err != nil {
			if isEmpty(err) {
				continue
			}
			s.log.Warn("lobby candidate receive failed", zap.Error(err))
			return
		}
		break
	}

	slotID, ok := s.assignSlot()
	reply := api.LobbyReply{Status: api.LobbyStatusRejected, SlotID: api.SlotIDNoSlot}
	if ok {
		reply = api.LobbyReply{Status: api.LobbyStatusOK, SlotID: slotID}
	}
	if err := s.lobby.Send(reply.Encode()); err != nil {
		s.log.Warn("lobby reply send failed", zap.Error(err))
		if ok {
			s.slots[slotID].setState(SlotFree)
		}
		return
	}

	// The next WaitForClient resets both lobby rings, which would destroy
	// an unread reply. Hold the lobby until the candidate consumes it and
	// drops the connection (Poll surfaces that as NotReady), or the drain
	// window elapses for a candidate that died mid-handshake.
	drainDeadline := time.Now().Add(lobbyDrainTimeout)
	for time.Now().Before(drainDeadline) {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.lobby.Poll(s.cfg.PollTimeoutMS); err != nil && !isTimeout(err) {
			return
		}
	}
}

// runSlot owns one slot's Server for the lifetime of the multi-server:
// it waits for a candidate, drives an auto.Worker for that occupancy,
// and loops back once the worker observes a disconnect.
func (s *Server) runSlot(idx int) {
	sl := s.slots[idx]
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		err := sl.server.WaitForClient(s.cfg.PollTimeoutMS)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			s.log.Warn("slot handshake failed", zap.Int("slot", idx), zap.Error(err))
			continue
		}

		sl.setState(SlotOccupied)
		s.connectedCount.Add(1)
		s.handlers.connect(uint32(idx))

		disconnected := make(chan struct{})
		var once sync.Once
		w := auto.New(sl.server, auto.Handlers{
			OnMessage: func(_ api.Direction, payload []byte) {
				s.handlers.message(uint32(idx), payload)
			},
			OnDisconnect: func() { once.Do(func() { close(disconnected) }) },
			OnError:      func(err error) { s.handlers.error(uint32(idx), err) },
		}, auto.WithWaitTimeoutMS(s.cfg.PollTimeoutMS), auto.WithRecvBatch(s.cfg.RecvBatch), auto.WithLogger(s.log))
		sl.setWorker(w)

		select {
		case <-disconnected:
		case <-s.stopCh:
			w.Stop()
			sl.setWorker(nil)
			return
		}

		w.StopLoops()
		sl.setWorker(nil)
		s.connectedCount.Add(-1)
		sl.setState(SlotDraining)
		s.handlers.disconnect(uint32(idx))
		sl.setState(SlotFree)
	}
}

func isTimeout(err error) bool {
	var xerr *api.Error
	return errors.As(err, &xerr) && xerr.Code == api.CodeTimeout
}

func isEmpty(err error) bool {
	var xerr *api.Error
	return errors.As(err, &xerr) && xerr.Code == api.CodeEmpty
}
