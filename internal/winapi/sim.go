//go:build !windows
// +build !windows

// File: internal/winapi/sim.go
// Package winapi: in-process simulation backend for the Platform
// capability interface. xShm is a Windows-only transport; this backend
// exists purely so the ring, handshake, auto-mode, and multi-client
// protocol logic can be developed and tested on any host. It sits
// directly behind the capability interface, so every consumer of
// Platform is exercised unmodified.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package winapi

import (
	"fmt"
	"sync"
	"time"
)

// pollInterval bounds how finely WaitMultiple re-checks event state. It
// trades a little CPU for not needing real OS wait primitives.
const pollInterval = 200 * time.Microsecond

var registry = newSimRegistry()

type simRegistry struct {
	mu       sync.Mutex
	sections map[string]*simSection
	events   map[string]*simEvent
	handles  map[Handle]any // Handle -> *simSection | *simEvent, for CloseHandle/DuplicateHandle
	nextID   Handle
}

func newSimRegistry() *simRegistry {
	return &simRegistry{
		sections: make(map[string]*simSection),
		events:   make(map[string]*simEvent),
		handles:  make(map[Handle]any),
	}
}

func (r *simRegistry) alloc(obj any) Handle {
	r.nextID++
	h := r.nextID
	r.handles[h] = obj
	return h
}

type simSection struct {
	mu       sync.Mutex
	name     string
	size     uint32
	data     []byte
	refCount int
}

type simEvent struct {
	mu          sync.Mutex
	name        string
	manualReset bool
	signaled    bool
	refCount    int
}

func (e *simEvent) set() {
	e.mu.Lock()
	e.signaled = true
	e.mu.Unlock()
}

func (e *simEvent) reset() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// tryConsume reports whether the event was signaled, clearing it first if
// it is an auto-reset event (mirrors WaitForMultipleObjects semantics).
func (e *simEvent) tryConsume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		return false
	}
	if !e.manualReset {
		e.signaled = false
	}
	return true
}

// simPlatform implements Platform without any real kernel objects.
type simPlatform struct{}

// New returns the in-process simulation Platform backend.
func New() Platform { return simPlatform{} }

func (simPlatform) CreateSection(name string, size uint32) (Handle, []byte, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.sections[name]; exists {
		return 0, nil, fmt.Errorf("winapi(sim): section %q: %w", name, ErrExists)
	}
	sec := &simSection{name: name, size: size, data: make([]byte, size), refCount: 1}
	registry.sections[name] = sec
	return registry.alloc(sec), sec.data, nil
}

func (simPlatform) OpenSection(name string, size uint32) (Handle, []byte, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	sec, ok := registry.sections[name]
	if !ok {
		return 0, nil, fmt.Errorf("winapi(sim): section %q: %w", name, ErrNotFound)
	}
	sec.mu.Lock()
	sec.refCount++
	sec.mu.Unlock()
	return registry.alloc(sec), sec.data, nil
}

func (simPlatform) CloseSection(h Handle, _ []byte) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	obj, ok := registry.handles[h]
	if !ok {
		return nil // idempotent
	}
	sec, ok := obj.(*simSection)
	if !ok {
		return fmt.Errorf("winapi(sim): handle %d is not a section", h)
	}
	delete(registry.handles, h)
	sec.mu.Lock()
	sec.refCount--
	last := sec.refCount <= 0
	sec.mu.Unlock()
	if last {
		delete(registry.sections, sec.name)
	}
	return nil
}

func (simPlatform) CreateEvent(name string, manualReset, initialState bool) (Handle, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ev, exists := registry.events[name]
	if !exists {
		ev = &simEvent{name: name, manualReset: manualReset, signaled: initialState}
		registry.events[name] = ev
	}
	ev.refCount++
	return registry.alloc(ev), nil
}

func (simPlatform) OpenEvent(name string) (Handle, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ev, ok := registry.events[name]
	if !ok {
		return 0, fmt.Errorf("winapi(sim): event %q: %w", name, ErrNotFound)
	}
	ev.refCount++
	return registry.alloc(ev), nil
}

func (simPlatform) SetEvent(h Handle) error {
	ev, err := lookupEvent(h)
	if err != nil {
		return err
	}
	ev.set()
	return nil
}

func (simPlatform) ResetEvent(h Handle) error {
	ev, err := lookupEvent(h)
	if err != nil {
		return err
	}
	ev.reset()
	return nil
}

func lookupEvent(h Handle) (*simEvent, error) {
	registry.mu.Lock()
	obj, ok := registry.handles[h]
	registry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("winapi(sim): invalid event handle %d", h)
	}
	ev, ok := obj.(*simEvent)
	if !ok {
		return nil, fmt.Errorf("winapi(sim): handle %d is not an event", h)
	}
	return ev, nil
}

func (simPlatform) WaitMultiple(handles []Handle, timeout time.Duration) (int, error) {
	events := make([]*simEvent, len(handles))
	for i, h := range handles {
		ev, err := lookupEvent(h)
		if err != nil {
			return -1, err
		}
		events[i] = ev
	}

	var deadline time.Time
	bounded := timeout != NoTimeout
	if bounded {
		deadline = time.Now().Add(timeout)
	}
	for {
		for i, ev := range events {
			if ev.tryConsume() {
				return i, nil
			}
		}
		if bounded && !time.Now().Before(deadline) {
			return -1, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (simPlatform) CloseHandle(h Handle) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	obj, ok := registry.handles[h]
	if !ok {
		return nil // idempotent
	}
	delete(registry.handles, h)
	if ev, ok := obj.(*simEvent); ok {
		ev.mu.Lock()
		ev.refCount--
		last := ev.refCount <= 0
		ev.mu.Unlock()
		if last {
			delete(registry.events, ev.name)
		}
	}
	return nil
}

func (simPlatform) DuplicateHandle(h Handle) (Handle, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	obj, ok := registry.handles[h]
	if !ok {
		return 0, fmt.Errorf("winapi(sim): invalid handle %d", h)
	}
	switch v := obj.(type) {
	case *simSection:
		v.mu.Lock()
		v.refCount++
		v.mu.Unlock()
	case *simEvent:
		v.mu.Lock()
		v.refCount++
		v.mu.Unlock()
	}
	return registry.alloc(obj), nil
}
