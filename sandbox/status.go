package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caffeineduck/newstate/transfer"
	lua "github.com/yuin/gopher-lua"
)

// Status is the numeric outcome of a sandbox operation. The values follow
// the Lua 5.1 status codes so callers can branch on them across bindings.
type Status int

const (
	StatusOK          Status = 0
	StatusErrRun      Status = 2
	StatusErrSyntax   Status = 3
	StatusErrMem      Status = 4
	StatusErrErr      Status = 5
	StatusErrFile     Status = 6
	StatusErrArg      Status = 7
	StatusErrTransfer Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusErrRun:
		return "runtime error"
	case StatusErrSyntax:
		return "syntax error"
	case StatusErrMem:
		return "memory error"
	case StatusErrErr:
		return "error in error handler"
	case StatusErrFile:
		return "file error"
	case StatusErrArg:
		return "argument error"
	case StatusErrTransfer:
		return "transfer error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var (
	ErrNoEntry         = errors.New("no entry loaded")
	ErrClosed          = errors.New("sandbox closed")
	ErrBusy            = errors.New("sandbox busy")
	ErrUnavailable     = errors.New("sandbox unavailable")
	ErrUnknownGCOption = errors.New("unknown gc option")
)

// Error is returned by every failing sandbox operation.
type Error struct {
	Status  Status
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Status.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the status carried by err: StatusOK for nil, the
// status of a wrapped *Error, StatusErrTransfer for bare transfer
// failures and StatusErrRun otherwise.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	if transfer.IsRejected(err) {
		return StatusErrTransfer
	}
	return StatusErrRun
}

func argError(sentinel error) *Error {
	return &Error{Status: StatusErrArg, Message: sentinel.Error(), Err: sentinel}
}

func transferError(err error) *Error {
	return &Error{Status: StatusErrTransfer, Message: err.Error(), Err: err}
}

// engineError converts an error returned by the engine. ctx is the
// context the failing call ran under; its error stays in the chain when
// the call was interrupted.
func engineError(ctx context.Context, err error) *Error {
	var ae *lua.ApiError
	if !errors.As(err, &ae) {
		return &Error{Status: StatusErrRun, Message: err.Error(), Err: err}
	}

	msg := errorMessage(ae.Object)
	status := StatusErrRun
	switch ae.Type {
	case lua.ApiErrorSyntax:
		status = StatusErrSyntax
	case lua.ApiErrorFile:
		status = StatusErrFile
	case lua.ApiErrorError:
		status = StatusErrErr
	case lua.ApiErrorPanic:
		if strings.Contains(msg, "callstack overflow") {
			status = StatusErrMem
		}
	case lua.ApiErrorRun:
		if strings.HasSuffix(msg, "registry overflow") || strings.HasSuffix(msg, "stack overflow") {
			status = StatusErrMem
		}
	}

	if ctx != nil && ctx.Err() != nil {
		return &Error{Status: StatusErrRun, Message: msg, Err: errors.Join(ctx.Err(), ae)}
	}
	return &Error{Status: status, Message: msg, Err: ae}
}

// errorMessage renders an error object the way the stand-alone
// interpreter does.
func errorMessage(obj lua.LValue) string {
	switch v := obj.(type) {
	case nil:
		return "(error object is nil)"
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	}
	return fmt.Sprintf("(error object is a %s value)", obj.Type().String())
}

// recovered converts a panic raised outside a protected call.
func recovered(r any) *Error {
	if ae, ok := r.(*lua.ApiError); ok {
		return engineError(nil, ae)
	}
	return &Error{Status: StatusErrMem, Message: fmt.Sprint(r)}
}
