// File: errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xshm

import "github.com/momentics/xshm/api"

// Error and ErrorCode are aliases of the shared taxonomy every internal
// package already returns, so callers can write
// "errors.As(err, &xshmErr)" against a single type regardless of which
// layer produced it, without this package re-declaring the closed code
// set a second time.
type Error = api.Error
type ErrorCode = api.ErrorCode

const (
	CodeSuccess      = api.CodeSuccess
	CodeInvalidParam = api.CodeInvalidParam
	CodeMemory       = api.CodeMemory
	CodeTimeout      = api.CodeTimeout
	CodeEmpty        = api.CodeEmpty
	CodeExists       = api.CodeExists
	CodeNotFound     = api.CodeNotFound
	CodeAccess       = api.CodeAccess
	CodeNotReady     = api.CodeNotReady
	CodeProtocol     = api.CodeProtocol
	CodeFull         = api.CodeFull
	CodeNoSlot       = api.CodeNoSlot
)
