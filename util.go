// File: util.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import (
	"errors"
	"time"

	"github.com/momentics/xshm/api"
	"github.com/momentics/xshm/internal/winapi"
)

// msToDuration converts a millisecond timeout into the winapi.Platform
// wait contract: non-positive means "wait indefinitely" (NoTimeout).
func msToDuration(ms int) time.Duration {
	if ms <= 0 {
		return winapi.NoTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// pollStep bounds how finely Client.Connect re-checks server_state while
// waiting for the server to open a handshake round; there is no
// dedicated event for that transition, so this is a deliberate spin with
// sleep rather than a kernel wait.
const pollStep = 2 * time.Millisecond

// handshakeStep is the wait slice the server's accept loop uses. The
// handshake is decided by the persisted state fields, not by who wins a
// race on the shared conn event, so a lost wake costs at most one slice.
const handshakeStep = 5 * time.Millisecond

func hasCode(err error, code api.ErrorCode) bool {
	var xerr *api.Error
	return errors.As(err, &xerr) && xerr.Code == code
}
