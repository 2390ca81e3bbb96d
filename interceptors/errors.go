package interceptors

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-orb/contracts"
)

var (
	// ErrOrderingViolation is returned when an accessor is used at an interception point where it is not valid
	ErrOrderingViolation = errors.New("interceptors: not valid at this interception point")

	// ErrResourceUnavailable is returned when a value does not exist for this invocation
	ErrResourceUnavailable = errors.New("interceptors: resource unavailable")

	// ErrUnsupportedOperation is returned for dynamic-only accessors on static invocations
	ErrUnsupportedOperation = errors.New("interceptors: not supported for this invocation")

	// ErrDuplicateName is returned when a named interceptor is registered twice for one kind
	ErrDuplicateName = errors.New("interceptors: duplicate name")

	// ErrInvalidSlot is returned for slot ids outside the allocated range
	ErrInvalidSlot = errors.New("interceptors: invalid slot")

	// ErrInvalidServiceContext is returned when a service context id is not present
	ErrInvalidServiceContext = errors.New("interceptors: invalid service context")

	// ErrInvalidComponent is returned when the effective profile has no component with the id
	ErrInvalidComponent = errors.New("interceptors: invalid component id")

	// ErrRegistryFrozen is returned when registering after the registry was sorted
	ErrRegistryFrozen = errors.New("interceptors: registry is frozen")

	// ErrObjectNotExist is returned by init info used after bootstrap completed
	ErrObjectNotExist = errors.New("interceptors: init info no longer valid")

	// ErrInternal signals a per-thread state desync. The current request must be aborted.
	ErrInternal = errors.New("interceptors: internal consistency fault")

	// ErrRemarshal tells the caller to re-send the request
	ErrRemarshal = errors.New("interceptors: request must be remarshalled")

	// ErrObjectAdapter is returned when an IOR interceptor rejects the established components
	ErrObjectAdapter = errors.New("interceptors: object adapter failure")

	// ErrBadPolicy is returned for unknown or invalid policies
	ErrBadPolicy = errors.New("interceptors: bad policy")

	// ErrInvalidName is returned for empty or unknown initial reference ids
	ErrInvalidName = errors.New("interceptors: invalid name")
)

// OrderingError reports an accessor called outside its valid interception points
type OrderingError struct {
	Accessor string
	Point    string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s not valid in %s", e.Accessor, e.Point)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrderingViolation
}

// DuplicateNameError reports a name clash at registration
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

// InvalidSlotError reports a slot id outside [0, Count)
type InvalidSlotError struct {
	ID    int
	Count int
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("slot %d out of range [0,%d)", e.ID, e.Count)
}

func (e *InvalidSlotError) Unwrap() error {
	return ErrInvalidSlot
}

// InternalError reports a facade call that found no matching per-thread state
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func internalErr(op, format string, args ...any) error {
	return &InternalError{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{ErrInternal}, args...)...)}
}

// RemarshalError tells the client runtime to re-send the request. Forward is the
// new target when the retry follows a redirect.
type RemarshalError struct {
	Retry   RetryType
	Forward *contracts.IOR
}

func (e *RemarshalError) Error() string {
	if e.Forward != nil {
		return fmt.Sprintf("remarshal (%s) to %s", e.Retry, e.Forward)
	}
	return fmt.Sprintf("remarshal (%s)", e.Retry)
}

func (e *RemarshalError) Unwrap() error {
	return ErrRemarshal
}

// ForwardRequest is returned by an interceptor to redirect the invocation
type ForwardRequest struct {
	Forward *contracts.IOR
}

// NewForwardRequest creates a redirect signal to the given reference
func NewForwardRequest(forward *contracts.IOR) *ForwardRequest {
	return &ForwardRequest{Forward: forward}
}

func (e *ForwardRequest) Error() string {
	return fmt.Sprintf("forward request to %s", e.Forward)
}

// ForwardError is returned by server facade calls when the reply must become a
// location forward to Forward
type ForwardError struct {
	Forward *contracts.IOR
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to %s", e.Forward)
}

// PolicyError reports a policy that cannot be created or looked up
type PolicyError struct {
	Type contracts.PolicyType
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy type %d: %v", e.Type, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func badPolicy(policyType contracts.PolicyType) error {
	return &PolicyError{Type: policyType, Err: ErrBadPolicy}
}

// duplicateServiceContext is raised as BAD_INV_ORDER so an interceptor returning it
// fails the invocation like any other system exception
func duplicateServiceContext(id contracts.ServiceContextID) error {
	return &contracts.SystemException{
		Name:      contracts.BadInvOrder,
		Minor:     15,
		Completed: contracts.CompletedNo,
		Err:       fmt.Errorf("%w: id %d already present", ErrInvalidServiceContext, id),
	}
}
