// File: auto/worker.go
// Package auto turns a blocking xshm.Server or xshm.Client into a
// callback-driven stream: an inbound drain loop delivering frames to
// handlers in bounded batches, an outbound pump draining a bounded
// in-process queue, and, for clients, an automatic reconnect loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package auto

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/momentics/xshm"
	"github.com/momentics/xshm/api"
)

// Endpoint is the subset of *xshm.Server / *xshm.Client a Worker drives.
// Both satisfy it without any adapter.
type Endpoint interface {
	Send(payload []byte) error
	Receive(out []byte) (int, error)
	Poll(timeoutMS int) error
	Stop() error
	Stats() xshm.Stats
}

// Reconnectable is additionally satisfied by *xshm.Client. A Worker
// wrapping an Endpoint that also implements Reconnectable runs the
// client-side reconnect loop; a plain Server-backed Worker never
// reconnects.
type Reconnectable interface {
	Connect(timeoutMS int) error
}

// Stats is the auto-worker's own atomic counters, distinct from the
// wrapped endpoint's Stats().
type Stats struct {
	SentMessages     uint64
	SendOverflows    uint64
	ReceivedMessages uint64
	ReceiveOverflows uint64
}

// Worker drives one Endpoint's inbound drain loop and outbound pump on
// background goroutines.
type Worker struct {
	cfg        Config
	ep         Endpoint
	reconnect  Reconnectable
	handlers   Handlers
	log        *zap.Logger

	outbound *sendQueue
	notify   chan struct{}

	stopCh    chan struct{}
	stopped   atomic.Bool
	wg        sync.WaitGroup

	connected atomic.Bool

	sentMessages     atomic.Uint64
	sendOverflows    atomic.Uint64
	receivedMessages atomic.Uint64
	receiveOverflows atomic.Uint64

	scratchMu sync.Mutex
	scratch   []byte

	lastDropSend atomic.Uint32
	lastDropRecv atomic.Uint32
}

// New wraps ep and starts its background goroutines immediately. If ep
// also implements Reconnectable, Worker enables the reconnect loop.
func New(ep Endpoint, handlers Handlers, opts ...Option) *Worker {
	cfg := DefaultConfig()
	applyOptions(&cfg, opts)

	w := &Worker{
		cfg:      cfg,
		ep:       ep,
		handlers: handlers,
		log:      cfg.Logger,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		scratch:  make([]byte, api.MinMessageSize+64),
	}
	if r, ok := ep.(Reconnectable); ok {
		w.reconnect = r
	}
	if cfg.MaxSendQueue > 0 {
		w.outbound = newSendQueue(cfg.MaxSendQueue)
	}
	w.connected.Store(true)

	w.wg.Add(1)
	go w.inboundLoop()
	if w.outbound != nil {
		w.wg.Add(1)
		go w.outboundLoop()
	}
	if w.reconnect != nil {
		w.wg.Add(1)
		go w.reconnectLoop()
	}
	return w
}

// Send enqueues payload for the outbound pump, or pushes it directly
// when MaxSendQueue is zero. A full queue drops the oldest queued
// payload rather than blocking, accounting a send overflow.
func (w *Worker) Send(payload []byte) error {
	if w.outbound == nil {
		err := w.ep.Send(payload)
		if err == nil {
			w.sentMessages.Add(1)
		}
		return err
	}
	if !w.outbound.enqueue(payload) {
		w.outbound.dropOldest()
		w.sendOverflows.Add(1)
		w.outbound.enqueue(payload)
	}
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns the worker's own counters.
func (w *Worker) Stats() Stats {
	return Stats{
		SentMessages:     w.sentMessages.Load(),
		SendOverflows:    w.sendOverflows.Load(),
		ReceivedMessages: w.receivedMessages.Load(),
		ReceiveOverflows: w.receiveOverflows.Load(),
	}
}

// Stop cancels the worker's loops, waits for them to return, and stops
// the wrapped endpoint. Before returning, the inbound loop drains up to
// RecvBatch frames already in the ring; payloads still queued for the
// outbound pump are not sent. Idempotent; delivers no further callbacks
// once it returns.
func (w *Worker) Stop() error {
	if !w.stopLoops() {
		return nil
	}
	return w.ep.Stop()
}

// StopLoops cancels the worker's loops and waits for them to return, with
// the same final inbound drain as Stop, but leaves the wrapped endpoint
// running. A multi-server slot uses this
// between occupancies: the slot's Server survives to accept the next
// candidate via WaitForClient, only this Worker's goroutines end.
// Idempotent; delivers no further callbacks once it returns.
func (w *Worker) StopLoops() {
	w.stopLoops()
}

func (w *Worker) stopLoops() bool {
	if !w.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(w.stopCh)
	w.wg.Wait()
	return true
}

func (w *Worker) outboundLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Duration(w.cfg.WaitTimeoutMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.notify:
		case <-ticker.C:
		}
		for {
			payload, ok := w.outbound.dequeue()
			if !ok {
				break
			}
			if err := w.ep.Send(payload); err != nil {
				w.handlers.error(err)
				break
			}
			w.sentMessages.Add(1)
		}
		w.checkDropDelta(api.DirectionOutbound)
	}
}

func (w *Worker) inboundLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			// Best-effort, bounded final drain of frames already queued.
			for i := 0; i < w.cfg.RecvBatch; i++ {
				n, rerr := w.receiveOnce()
				if rerr != nil {
					break
				}
				w.receivedMessages.Add(1)
				w.handlers.message(api.DirectionInbound, w.scratch[:n])
			}
			return
		default:
		}

		err := w.ep.Poll(w.cfg.WaitTimeoutMS)
		if err != nil {
			if errors.Is(err, api.NewError("", api.CodeTimeout)) {
				w.checkDropDelta(api.DirectionInbound)
				continue
			}
			w.handleEndpointError(err)
			// A disconnected or stopped endpoint fails Poll without
			// waiting; pace the loop so it doesn't spin until reconnect
			// or Stop.
			time.Sleep(time.Duration(w.cfg.WaitTimeoutMS) * time.Millisecond)
			continue
		}

		for i := 0; i < w.cfg.RecvBatch; i++ {
			n, rerr := w.receiveOnce()
			if rerr != nil {
				if errors.Is(rerr, api.NewError("", api.CodeEmpty)) {
					break
				}
				w.handleEndpointError(rerr)
				break
			}
			w.receivedMessages.Add(1)
			w.handlers.message(api.DirectionInbound, w.scratch[:n])
		}
		w.checkDropDelta(api.DirectionInbound)
	}
}

// receiveOnce pops one frame, growing the scratch buffer and retrying
// when it was too small for the frame.
func (w *Worker) receiveOnce() (int, error) {
	w.scratchMu.Lock()
	defer w.scratchMu.Unlock()
	for {
		n, err := w.ep.Receive(w.scratch)
		if err == nil {
			return n, nil
		}
		var xerr *api.Error
		if errors.As(err, &xerr) && xerr.Code == api.CodeInvalidParam {
			if need, ok := xerr.Context["need"].(int); ok && need > len(w.scratch) {
				w.scratch = make([]byte, need)
				continue
			}
		}
		return 0, err
	}
}

func (w *Worker) checkDropDelta(dir api.Direction) {
	st := w.ep.Stats()
	if dir == api.DirectionInbound {
		prev := w.lastDropRecv.Load()
		if st.DropCountRecv > prev {
			delta := st.DropCountRecv - prev
			w.lastDropRecv.Store(st.DropCountRecv)
			w.receiveOverflows.Add(uint64(delta))
			w.handlers.overflow(api.DirectionInbound, delta)
		}
		return
	}
	prev := w.lastDropSend.Load()
	if st.DropCountSend > prev {
		delta := st.DropCountSend - prev
		w.lastDropSend.Store(st.DropCountSend)
		w.handlers.overflow(api.DirectionOutbound, delta)
	}
}

// handleEndpointError routes a non-routine error to OnError, and — for
// the fatal codes (Protocol, Access) or a NotReady caused by the peer
// disconnecting — marks the worker disconnected.
func (w *Worker) handleEndpointError(err error) {
	w.handlers.error(err)
	var xerr *api.Error
	fatal := errors.As(err, &xerr) && (xerr.Code == api.CodeProtocol || xerr.Code == api.CodeAccess || xerr.Code == api.CodeNotReady)
	if fatal && w.connected.CompareAndSwap(true, false) {
		w.log.Warn("auto worker endpoint disconnected", zap.Error(err))
		w.handlers.disconnect()
	}
}

func (w *Worker) reconnectLoop() {
	defer w.wg.Done()
	bo := backoff.NewConstantBackOff(time.Duration(w.cfg.ReconnectDelayMS) * time.Millisecond)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if w.connected.Load() {
			time.Sleep(time.Duration(w.cfg.WaitTimeoutMS) * time.Millisecond)
			continue
		}
		next := bo.NextBackOff()
		select {
		case <-w.stopCh:
			return
		case <-time.After(next):
		}
		if err := w.reconnect.Connect(w.cfg.ConnectTimeoutMS); err != nil {
			w.log.Debug("auto worker reconnect attempt failed", zap.Error(err))
			w.handlers.error(err)
			continue
		}
		w.connected.Store(true)
		w.lastDropSend.Store(0)
		w.lastDropRecv.Store(0)
		w.log.Info("auto worker reconnected")
		w.handlers.connect()
	}
}
