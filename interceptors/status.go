package interceptors

import "github.com/glimte/mmate-orb/contracts"

// ReplyStatus is the outcome of an invocation as seen by interceptors
type ReplyStatus int

const (
	StatusUninitialized   ReplyStatus = -1
	StatusSuccessful      ReplyStatus = 0
	StatusSystemException ReplyStatus = 1
	StatusUserException   ReplyStatus = 2
	StatusLocationForward ReplyStatus = 3
	StatusTransportRetry  ReplyStatus = 4
)

// String returns the status name
func (s ReplyStatus) String() string {
	switch s {
	case StatusSuccessful:
		return "SUCCESSFUL"
	case StatusSystemException:
		return "SYSTEM_EXCEPTION"
	case StatusUserException:
		return "USER_EXCEPTION"
	case StatusLocationForward:
		return "LOCATION_FORWARD"
	case StatusTransportRetry:
		return "TRANSPORT_RETRY"
	default:
		return "UNINITIALIZED"
	}
}

// replyStatusOf maps a wire reply status to the interceptor view
func replyStatusOf(status contracts.ReplyMessageStatus) ReplyStatus {
	switch status {
	case contracts.NoException:
		return StatusSuccessful
	case contracts.UserExceptionReply:
		return StatusUserException
	case contracts.SystemExceptionReply:
		return StatusSystemException
	case contracts.LocationForwardReply, contracts.LocationForwardPermReply:
		return StatusLocationForward
	case contracts.NeedsAddressingModeReply:
		return StatusTransportRetry
	default:
		return StatusUninitialized
	}
}

// wireStatusOf maps an interceptor outcome back to the wire reply status
func wireStatusOf(status ReplyStatus) contracts.ReplyMessageStatus {
	switch status {
	case StatusUserException:
		return contracts.UserExceptionReply
	case StatusSystemException:
		return contracts.SystemExceptionReply
	case StatusLocationForward:
		return contracts.LocationForwardReply
	case StatusTransportRetry:
		return contracts.NeedsAddressingModeReply
	default:
		return contracts.NoException
	}
}

// ExecutionPoint is the phase an invocation is in
type ExecutionPoint int

const (
	PointStarting ExecutionPoint = iota
	PointIntermediate
	PointEnding
)

// String returns the point name
func (p ExecutionPoint) String() string {
	switch p {
	case PointStarting:
		return "starting"
	case PointIntermediate:
		return "intermediate"
	default:
		return "ending"
	}
}

// RetryType records whether a client context is kept for a re-sent request
type RetryType int

const (
	RetryNone RetryType = iota
	RetryBeforeResponse
	RetryAfterResponse
)

// String returns the retry type name
func (r RetryType) String() string {
	switch r {
	case RetryBeforeResponse:
		return "before response"
	case RetryAfterResponse:
		return "after response"
	default:
		return "none"
	}
}

// IsRetry reports whether a retry is pending
func (r RetryType) IsRetry() bool {
	return r != RetryNone
}

// SyncScope is how far a one-way request travels before the client regains control
type SyncScope int

const (
	SyncNone SyncScope = iota
	SyncWithTransport
	SyncWithServer
	SyncWithTarget
)

// endingCall selects the ending callback. The reply status setter drives it.
type endingCall int

const (
	callReply endingCall = iota
	callException
	callOther
)

func endingCallOf(status ReplyStatus) (endingCall, bool) {
	switch status {
	case StatusSuccessful:
		return callReply, true
	case StatusSystemException, StatusUserException:
		return callException, true
	case StatusLocationForward, StatusTransportRetry:
		return callOther, true
	default:
		return callReply, false
	}
}
