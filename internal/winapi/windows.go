//go:build windows
// +build windows

// File: internal/winapi/windows.go
// Package winapi: real Windows backend for the Platform capability
// interface, built directly on golang.org/x/sys/windows.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package winapi

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// crossSessionSDDL grants full access to Everyone, System, and
// Administrators so a service in session 0 and a desktop process can
// share the same named objects.
const crossSessionSDDL = "D:(A;;GA;;;WD)(A;;GA;;;SY)(A;;GA;;;BA)"

func crossSessionAttributes() (*windows.SecurityAttributes, error) {
	sd, err := windows.SecurityDescriptorFromString(crossSessionSDDL)
	if err != nil {
		return nil, fmt.Errorf("winapi: security descriptor: %w", err)
	}
	sa := &windows.SecurityAttributes{
		Length:             uint32(unsafe.Sizeof(windows.SecurityAttributes{})),
		SecurityDescriptor: sd,
		InheritHandle:      0,
	}
	return sa, nil
}

// windowsPlatform implements Platform on top of golang.org/x/sys/windows.
type windowsPlatform struct{}

// New returns the real Windows Platform backend.
func New() Platform { return windowsPlatform{} }

func (windowsPlatform) CreateSection(name string, size uint32) (Handle, []byte, error) {
	sa, err := crossSessionAttributes()
	if err != nil {
		return 0, nil, err
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, nil, fmt.Errorf("winapi: section name %q: %w", name, err)
	}
	h, err := windows.CreateFileMapping(windows.InvalidHandle, sa, windows.PAGE_READWRITE, 0, size, namePtr)
	if err == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(h)
		return 0, nil, fmt.Errorf("winapi: CreateFileMapping %q: %w", name, ErrExists)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("winapi: CreateFileMapping %q: %w", name, err)
	}
	view, err := mapView(h, size)
	if err != nil {
		windows.CloseHandle(h)
		return 0, nil, err
	}
	return Handle(h), view, nil
}

func (windowsPlatform) OpenSection(name string, size uint32) (Handle, []byte, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, nil, fmt.Errorf("winapi: section name %q: %w", name, err)
	}
	h, err := windows.OpenFileMapping(windows.FILE_MAP_ALL_ACCESS, false, namePtr)
	if err == windows.ERROR_FILE_NOT_FOUND {
		return 0, nil, fmt.Errorf("winapi: OpenFileMapping %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("winapi: OpenFileMapping %q: %w", name, err)
	}
	view, err := mapView(h, size)
	if err != nil {
		windows.CloseHandle(h)
		return 0, nil, err
	}
	return Handle(h), view, nil
}

func mapView(h windows.Handle, size uint32) ([]byte, error) {
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_ALL_ACCESS, 0, 0, uintptr(size))
	if err != nil {
		return nil, fmt.Errorf("winapi: MapViewOfFile: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

func (windowsPlatform) CloseSection(h Handle, view []byte) error {
	if len(view) > 0 {
		addr := uintptr(unsafe.Pointer(&view[0]))
		if err := windows.UnmapViewOfFile(addr); err != nil {
			return fmt.Errorf("winapi: UnmapViewOfFile: %w", err)
		}
	}
	return windowsCloseHandle(h)
}

func (windowsPlatform) CreateEvent(name string, manualReset, initialState bool) (Handle, error) {
	sa, err := crossSessionAttributes()
	if err != nil {
		return 0, err
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("winapi: event name %q: %w", name, err)
	}
	h, err := windows.CreateEvent(sa, boolToUint32(manualReset), boolToUint32(initialState), namePtr)
	if err != nil {
		return 0, fmt.Errorf("winapi: CreateEvent %q: %w", name, err)
	}
	return Handle(h), nil
}

func (windowsPlatform) OpenEvent(name string) (Handle, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("winapi: event name %q: %w", name, err)
	}
	h, err := windows.OpenEvent(windows.EVENT_ALL_ACCESS, false, namePtr)
	if err == windows.ERROR_FILE_NOT_FOUND {
		return 0, fmt.Errorf("winapi: OpenEvent %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("winapi: OpenEvent %q: %w", name, err)
	}
	return Handle(h), nil
}

func (windowsPlatform) SetEvent(h Handle) error {
	if err := windows.SetEvent(windows.Handle(h)); err != nil {
		return fmt.Errorf("winapi: SetEvent: %w", err)
	}
	return nil
}

func (windowsPlatform) ResetEvent(h Handle) error {
	if err := windows.ResetEvent(windows.Handle(h)); err != nil {
		return fmt.Errorf("winapi: ResetEvent: %w", err)
	}
	return nil
}

func (windowsPlatform) WaitMultiple(handles []Handle, timeout time.Duration) (int, error) {
	wh := make([]windows.Handle, len(handles))
	for i, h := range handles {
		wh[i] = windows.Handle(h)
	}
	ms := uint32(windows.INFINITE)
	if timeout != NoTimeout {
		ms = uint32(timeout / time.Millisecond)
	}
	// WAIT_OBJECT_0 + i indicates which handle triggered; WAIT_TIMEOUT means
	// none did before the deadline.
	status, err := windows.WaitForMultipleObjects(wh, false, ms)
	if err != nil {
		return -1, fmt.Errorf("winapi: WaitForMultipleObjects: %w", err)
	}
	if status == uint32(windows.WAIT_TIMEOUT) {
		return -1, ErrTimeout
	}
	if status < windows.WAIT_OBJECT_0 || int(status-windows.WAIT_OBJECT_0) >= len(handles) {
		return -1, fmt.Errorf("winapi: WaitForMultipleObjects: unexpected status %d", status)
	}
	return int(status - windows.WAIT_OBJECT_0), nil
}

func (windowsPlatform) CloseHandle(h Handle) error {
	return windowsCloseHandle(h)
}

func windowsCloseHandle(h Handle) error {
	if h == 0 {
		return nil
	}
	if err := windows.CloseHandle(windows.Handle(h)); err != nil {
		return fmt.Errorf("winapi: CloseHandle: %w", err)
	}
	return nil
}

func (windowsPlatform) DuplicateHandle(h Handle) (Handle, error) {
	proc := windows.CurrentProcess()
	var dup windows.Handle
	err := windows.DuplicateHandle(proc, windows.Handle(h), proc, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return 0, fmt.Errorf("winapi: DuplicateHandle: %w", err)
	}
	return Handle(dup), nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
