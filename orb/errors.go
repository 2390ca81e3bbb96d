package orb

import (
	"context"
	"errors"

	"github.com/glimte/mmate-orb/contracts"
)

var (
	// ErrShutdown is returned by calls made after Shutdown
	ErrShutdown = errors.New("orb: shut down")

	// ErrAdapterExists is returned when an adapter name is already taken
	ErrAdapterExists = errors.New("orb: adapter already exists")

	// ErrAdapterInactive is returned for state changes of a deactivated manager
	ErrAdapterInactive = errors.New("orb: adapter manager is inactive")

	// ErrAdapterDestroyed is returned by a destroyed adapter
	ErrAdapterDestroyed = errors.New("orb: adapter destroyed")

	// ErrObjectNotActive is returned when no servant is active under an object id
	ErrObjectNotActive = errors.New("orb: object not active")

	// ErrObjectAlreadyActive is returned when an object id is activated twice
	ErrObjectAlreadyActive = errors.New("orb: object already active")

	// ErrNoEndpoint is returned by the loopback network for unknown addresses
	ErrNoEndpoint = errors.New("orb: no endpoint listening")

	// ErrMalformedKey is returned for object keys this runtime did not create
	ErrMalformedKey = errors.New("orb: malformed object key")
)

// transportFailure normalizes a transport error into a system exception. Caller
// cancellation keeps its context error in the chain.
func transportFailure(err error) *contracts.SystemException {
	var sysErr *contracts.SystemException
	switch {
	case errors.As(err, &sysErr):
		return sysErr
	case errors.Is(err, context.DeadlineExceeded):
		return contracts.WrapSystemException(contracts.Timeout, contracts.CompletedMaybe, err)
	case errors.Is(err, context.Canceled):
		return contracts.WrapSystemException(contracts.Transient, contracts.CompletedMaybe, err)
	default:
		return contracts.WrapSystemException(contracts.CommFailure, contracts.CompletedMaybe, err)
	}
}

// isCommFailure reports whether err means the endpoint could not be reached
func isCommFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sysErr *contracts.SystemException
	if !errors.As(err, &sysErr) {
		return false
	}
	return sysErr.Name == contracts.CommFailure || sysErr.Name == contracts.Transient
}

// replyException returns the exception an exceptional reply carries
func replyException(reply *contracts.ReplyMessage) error {
	switch reply.Status {
	case contracts.SystemExceptionReply:
		if reply.Exception == nil {
			return contracts.NewSystemException(contracts.Unknown, 0, contracts.CompletedMaybe)
		}
		return contracts.AsSystemException(reply.Exception)
	case contracts.UserExceptionReply:
		if reply.Exception == nil {
			return contracts.NewSystemException(contracts.Unknown, 0, contracts.CompletedMaybe)
		}
		return reply.Exception
	}
	return nil
}
