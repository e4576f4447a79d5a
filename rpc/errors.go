package rpc

import (
	"errors"
	"fmt"

	"mini-wamp/message"
)

var (
	// ErrConnectionLost fails every call pending when the connection ended, and every
	// call attempted afterwards.
	ErrConnectionLost = errors.New("rpc: connection lost")
	ErrCancelled      = errors.New("rpc: call cancelled")
	ErrTimedOut       = errors.New("rpc: call timed out")
	// ErrDuplicateCallID means an id was reused while still pending.
	ErrDuplicateCallID = errors.New("rpc: call id already pending")
)

// CallError is the failure a router reported with CALLERROR.
type CallError struct {
	CallID      string
	URI         string
	Description string
	Details     message.Raw // nil unless the router sent error details

	u message.Unmarshaler
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc: call %s failed: %s: %s", e.CallID, e.URI, e.Description)
}

// DecodeDetails decodes the error details into v.
func (e *CallError) DecodeDetails(v any) error {
	if e.Details == nil {
		return errors.New("rpc: call error carries no details")
	}
	return e.u.Unmarshal(e.Details, v)
}

// Retryable reports whether err is worth another attempt: only calls that timed out
// locally qualify, the router may never have seen them.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimedOut)
}
