// File: internal/winapi/capabilities.go
// Package winapi narrows every OS interaction xShm needs down to one small
// capability interface, so the rest of the tree never imports
// golang.org/x/sys/windows directly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package winapi

import (
	"errors"
	"time"
)

// Handle is an opaque OS (or simulated) kernel-object handle.
type Handle uintptr

// ErrTimeout is returned by WaitMultiple when no handle becomes signaled
// before the deadline.
var ErrTimeout = errors.New("winapi: wait timed out")

// ErrExists is wrapped by CreateSection when the named section already
// exists, so callers can map it to the Exists error code.
var ErrExists = errors.New("winapi: object already exists")

// ErrNotFound is wrapped by OpenSection/OpenEvent when the named object
// does not exist.
var ErrNotFound = errors.New("winapi: object not found")

// NoTimeout requests an unbounded wait.
const NoTimeout time.Duration = -1

// Platform is the full set of OS capabilities the transport relies on:
// named section create/open/map, named auto-reset/manual-reset events,
// wait-any with a timeout, and handle lifecycle. Exactly one
// implementation is linked per build: the
// real Windows backend (windows.go, build-tagged "windows") or the
// in-process simulation backend (sim.go, build-tagged "!windows") used for
// portable development and CI.
type Platform interface {
	// CreateSection creates a new named shared-memory section of the given
	// size and maps it, returning a handle to keep alive and the mapped
	// view. name collisions return an error wrapping ErrExists.
	CreateSection(name string, size uint32) (Handle, []byte, error)

	// OpenSection opens and maps an existing named section created by
	// CreateSection. Returns an error wrapping ErrNotFound if it does not
	// exist.
	OpenSection(name string, size uint32) (Handle, []byte, error)

	// CloseSection unmaps view and closes handle. Idempotent.
	CloseSection(h Handle, view []byte) error

	// CreateEvent creates a named event. manualReset selects manual-reset
	// vs auto-reset semantics; initialState is the event's starting state.
	CreateEvent(name string, manualReset, initialState bool) (Handle, error)

	// OpenEvent opens an existing named event created by CreateEvent.
	OpenEvent(name string) (Handle, error)

	// SetEvent signals h.
	SetEvent(h Handle) error

	// ResetEvent clears h to the non-signaled state.
	ResetEvent(h Handle) error

	// WaitMultiple blocks until any handle in handles becomes signaled or
	// timeout elapses, returning the index of the first ready handle.
	// timeout == NoTimeout blocks indefinitely.
	WaitMultiple(handles []Handle, timeout time.Duration) (int, error)

	// CloseHandle releases h. Idempotent.
	CloseHandle(h Handle) error

	// DuplicateHandle returns a second, independently closable handle
	// referring to the same kernel object, used by the server-side
	// GetEventHandles boundary.
	DuplicateHandle(h Handle) (Handle, error)
}
