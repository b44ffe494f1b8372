// File: internal/naming/naming.go
// Package naming derives the deterministic kernel-object names xShm uses
// for a given base name.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package naming

import (
	"fmt"

	"github.com/momentics/xshm/api"
)

// maxNameLength is well under the Windows kernel-object name limit
// (32767 chars) but keeps generated names readable and bounded.
const maxNameLength = 200

// Validate checks base is ASCII, non-empty, and within the length budget.
// Invalid names are a caller bug, surfaced as CodeInvalidParam.
func Validate(base string) error {
	if base == "" {
		return api.NewError("naming.Validate", api.CodeInvalidParam).WithContext("reason", "empty base name")
	}
	if len(base) > maxNameLength {
		return api.NewError("naming.Validate", api.CodeInvalidParam).WithContext("reason", "base name too long").WithContext("len", len(base))
	}
	for _, r := range base {
		if r > 0x7E || r < 0x20 {
			return api.NewError("naming.Validate", api.CodeInvalidParam).WithContext("reason", "non-ASCII or control character in base name")
		}
	}
	return nil
}

// Section returns the shared-section name for base.
func Section(base string) string {
	return "Global\\" + base + "_shm"
}

// event suffixes, one data/space pair per direction plus the shared
// connection event.
const (
	SuffixS2CData  = "s2c_data"
	SuffixS2CSpace = "s2c_space"
	SuffixC2SData  = "c2s_data"
	SuffixC2SSpace = "c2s_space"
	SuffixConn     = "conn"
)

// Event returns the named event for base and suffix.
func Event(base, suffix string) string {
	return "Global\\" + base + "_evt_" + suffix
}

// Slot returns the base name of the per-slot channel for a multi-server.
func Slot(base string, slotID uint32) string {
	return fmt.Sprintf("%s_%d", base, slotID)
}
