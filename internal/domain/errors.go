package domain

import (
	"errors"
	"fmt"
	"time"
)

// Controller outcomes.
var (
	ErrNoActiveCall       = errors.New("no active call")
	ErrNoIncomingCall     = errors.New("no incoming call with this id")
	ErrInvalidCallType    = errors.New("invalid call type")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrCallCancelled      = errors.New("call cancelled")
	ErrCallEnded          = errors.New("call ended")
	ErrControllerStopped  = errors.New("call controller stopped")
	ErrEmptyConversation  = errors.New("conversation id empty")
	ErrAnswerInProgress   = errors.New("answer already in progress")
	ErrUnknownControlKind = errors.New("unknown control kind")
)

// Gateway outcomes. Adapters wrap these so callers can use errors.Is.
var (
	ErrNetwork         = errors.New("network error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyAnswered = errors.New("call already answered")
	ErrBusy            = errors.New("user busy")
	ErrRelayClosed     = errors.New("relay closed")
)

type MediaFailure int

const (
	MediaPermissionDenied MediaFailure = iota
	MediaDeviceNotFound
	MediaDeviceBusy
)

func (f MediaFailure) String() string {
	switch f {
	case MediaPermissionDenied:
		return "permission_denied"
	case MediaDeviceNotFound:
		return "device_not_found"
	case MediaDeviceBusy:
		return "device_busy"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// MediaPermissionError is terminal for the attempt.
type MediaPermissionError struct {
	Reason MediaFailure
	Err    error
}

func (e *MediaPermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("local media unavailable (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("local media unavailable (%s)", e.Reason)
}

func (e *MediaPermissionError) Unwrap() error { return e.Err }

// UserBusyError is non-retryable. Remote is set when the other party is the busy one.
type UserBusyError struct {
	Remote bool
}

func (e *UserBusyError) Error() string {
	if e.Remote {
		return "remote user is already in a call"
	}
	return "already in a call"
}

type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s failed: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

type PeerConnectionError struct {
	Reason string
	Err    error
}

func (e *PeerConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peer connection failed: %s: %v", e.Reason, e.Err)
	}
	return "peer connection failed: " + e.Reason
}

func (e *PeerConnectionError) Unwrap() error { return e.Err }

// TimeoutError always resolves to missed and is never retried.
type TimeoutError struct {
	CallID CallID
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %s not answered within %s", e.CallID, e.After)
}

// InvalidSignalError is returned by a peer session for payloads it cannot apply.
type InvalidSignalError struct {
	Reason string
	Err    error
}

func (e *InvalidSignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid signal: %s: %v", e.Reason, e.Err)
	}
	return "invalid signal: " + e.Reason
}

func (e *InvalidSignalError) Unwrap() error { return e.Err }

// GatewayError carries the call-tracking service response for one operation.
type GatewayError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s: status %d (%s): %v", e.Op, e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
