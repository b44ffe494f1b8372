// File: internal/events/events.go
// Package events wraps the five named kernel events a ring-pair needs:
// one auto-reset data/space event per direction plus one manual-reset
// connection event. Cross-pair wait-any (an endpoint's poll spans its
// two Pairs) goes through winapi.Platform.WaitMultiple with the handles
// exposed here.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package events

import (
	"time"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/naming"
	"github.com/momentics/xshm/internal/winapi"
)

// Pair bundles the three events one side of one ring-pair waits on: its
// own inbound data-ready event, its own outbound space-available event,
// and the shared connection-lifecycle event.
type Pair struct {
	platform winapi.Platform

	dataName  string
	spaceName string
	connName  string

	Data  winapi.Handle
	Space winapi.Handle
	Conn  winapi.Handle
}

// Create creates (server side) the named data/space events for one
// direction plus the shared connection event, all auto-reset except Conn
// which is manual-reset (so both sides observe a disconnect signal even
// if they were not waiting at the instant it fired).
func Create(platform winapi.Platform, base, dataSuffix, spaceSuffix string) (*Pair, error) {
	p := &Pair{
		platform:  platform,
		dataName:  naming.Event(base, dataSuffix),
		spaceName: naming.Event(base, spaceSuffix),
		connName:  naming.Event(base, naming.SuffixConn),
	}
	var err error
	if p.Data, err = platform.CreateEvent(p.dataName, false, false); err != nil {
		return nil, wrap("events.Create", err)
	}
	if p.Space, err = platform.CreateEvent(p.spaceName, false, false); err != nil {
		p.closePartial()
		return nil, wrap("events.Create", err)
	}
	if p.Conn, err = platform.CreateEvent(p.connName, true, false); err != nil {
		p.closePartial()
		return nil, wrap("events.Create", err)
	}
	return p, nil
}

// Open opens (client side) the events a server previously created.
func Open(platform winapi.Platform, base, dataSuffix, spaceSuffix string) (*Pair, error) {
	p := &Pair{
		platform:  platform,
		dataName:  naming.Event(base, dataSuffix),
		spaceName: naming.Event(base, spaceSuffix),
		connName:  naming.Event(base, naming.SuffixConn),
	}
	var err error
	if p.Data, err = platform.OpenEvent(p.dataName); err != nil {
		return nil, wrap("events.Open", err)
	}
	if p.Space, err = platform.OpenEvent(p.spaceName); err != nil {
		p.closePartial()
		return nil, wrap("events.Open", err)
	}
	if p.Conn, err = platform.OpenEvent(p.connName); err != nil {
		p.closePartial()
		return nil, wrap("events.Open", err)
	}
	return p, nil
}

func (p *Pair) closePartial() {
	for _, h := range []winapi.Handle{p.Data, p.Space, p.Conn} {
		if h != 0 {
			p.platform.CloseHandle(h)
		}
	}
}

// SignalData signals the data-ready event (producer, after a successful
// Push).
func (p *Pair) SignalData() error { return p.platform.SetEvent(p.Data) }

// SignalSpace signals the space-available event (consumer, after freeing
// space with a Pop).
func (p *Pair) SignalSpace() error { return p.platform.SetEvent(p.Space) }

// SignalConn signals (or, for a manual-reset event intended to persist
// until explicitly cleared, leaves signaled) the connection-lifecycle
// event.
func (p *Pair) SignalConn() error { return p.platform.SetEvent(p.Conn) }

// ResetConn clears the connection event, e.g. once a handshake observer
// has consumed the lifecycle transition it represents.
func (p *Pair) ResetConn() error { return p.platform.ResetEvent(p.Conn) }

// WaitConn blocks on the connection event alone, used by the server
// during the handshake.
func (p *Pair) WaitConn(timeout time.Duration) error {
	_, err := p.platform.WaitMultiple([]winapi.Handle{p.Conn}, timeout)
	if err == winapi.ErrTimeout {
		return api.NewError("events.WaitConn", api.CodeTimeout)
	}
	if err != nil {
		return wrap("events.WaitConn", err)
	}
	return nil
}

// Close releases all three handles. Idempotent.
func (p *Pair) Close() error {
	p.closePartial()
	p.Data, p.Space, p.Conn = 0, 0, 0
	return nil
}

func wrap(op string, err error) error {
	return api.NewError(op, api.CodeAccess).WithCause(err)
}
