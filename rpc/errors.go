package rpc

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Remote Error Type
// --------------------------------------------------------------------------

// RemoteCode classifies a remote invocation failure.
type RemoteCode uint8

const (
	RemoteCUnreachable RemoteCode = iota // recipient not reachable from this node
	RemoteCTimeout                       // invocation did not resolve within the timeout
	RemoteCException                     // recipient processed the command and returned an error
	RemoteCInvalid                       // response filter validation failed
)

// String returns the string representation of a RemoteCode.
func (c RemoteCode) String() string {
	switch c {
	case RemoteCUnreachable:
		return "unreachable"
	case RemoteCTimeout:
		return "timeout"
	case RemoteCException:
		return "remote exception"
	case RemoteCInvalid:
		return "invalid response"
	default:
		return "unknown"
	}
}

// RemoteError is any failure surfaced by the rpc layer: transport faults,
// timeouts and remote exceptions alike. The consistency checks upstream do
// not distinguish between these causes; a remote result that cannot be
// obtained cannot be trusted, whatever the reason.
type RemoteError struct {
	Code RemoteCode
	Addr Address
	Msg  string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("RemoteError (%s, node %s): %s", e.Code, e.Addr, e.Msg)
	}
	return fmt.Sprintf("RemoteError (%s): %s", e.Code, e.Msg)
}

// NewRemoteError creates a RemoteError with the given code, node and message.
func NewRemoteError(code RemoteCode, addr Address, msg string) *RemoteError {
	return &RemoteError{Code: code, Addr: addr, Msg: msg}
}

// IsRemoteError reports whether err is (or wraps) a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
