package contracts

import (
	"errors"
	"fmt"
)

// CompletionStatus tells the caller how far the target got before a failure
type CompletionStatus int

const (
	CompletedYes CompletionStatus = iota
	CompletedNo
	CompletedMaybe
)

// String returns the status name
func (c CompletionStatus) String() string {
	switch c {
	case CompletedYes:
		return "yes"
	case CompletedNo:
		return "no"
	default:
		return "maybe"
	}
}

// Standard system exception names
const (
	Unknown        = "UNKNOWN"
	BadParam       = "BAD_PARAM"
	NoResources    = "NO_RESOURCES"
	CommFailure    = "COMM_FAILURE"
	Transient      = "TRANSIENT"
	BadInvOrder    = "BAD_INV_ORDER"
	NoImplement    = "NO_IMPLEMENT"
	ObjAdapter     = "OBJ_ADAPTER"
	ObjectNotExist = "OBJECT_NOT_EXIST"
	BadOperation   = "BAD_OPERATION"
	Internal       = "INTERNAL"
	Marshal        = "MARSHAL"
	InvPolicy      = "INV_POLICY"
	NoPermission   = "NO_PERMISSION"
	Timeout        = "TIMEOUT"
)

const repositoryIDPrefix = "IDL:omg.org/CORBA/"

// SystemException is a protocol-level failure. Interceptors return it to abort
// an invocation; transports return it for communication failures.
type SystemException struct {
	Name      string
	Minor     uint32
	Completed CompletionStatus
	Err       error
}

// NewSystemException creates a system exception with the given name
func NewSystemException(name string, minor uint32, completed CompletionStatus) *SystemException {
	return &SystemException{Name: name, Minor: minor, Completed: completed}
}

// WrapSystemException creates a system exception caused by err
func WrapSystemException(name string, completed CompletionStatus, err error) *SystemException {
	return &SystemException{Name: name, Completed: completed, Err: err}
}

func (e *SystemException) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (minor %d, completed %s): %v", e.Name, e.Minor, e.Completed, e.Err)
	}
	return fmt.Sprintf("%s (minor %d, completed %s)", e.Name, e.Minor, e.Completed)
}

func (e *SystemException) Unwrap() error {
	return e.Err
}

// RepositoryID returns the repository id of the exception type
func (e *SystemException) RepositoryID() string {
	return repositoryIDPrefix + e.Name + ":1.0"
}

// UserException is an application-defined failure declared by an operation
type UserException interface {
	error
	RepositoryID() string
}

// ApplicationException is a generic UserException carrying encoded members
type ApplicationException struct {
	ID   string
	Data []byte
}

func (e *ApplicationException) Error() string {
	return "user exception " + e.ID
}

// RepositoryID implements UserException
func (e *ApplicationException) RepositoryID() string {
	return e.ID
}

// RepositoryIDOf returns the repository id of err. Errors that are neither system
// nor user exceptions report the UNKNOWN system exception id.
func RepositoryIDOf(err error) string {
	var sysErr *SystemException
	if errors.As(err, &sysErr) {
		return sysErr.RepositoryID()
	}
	var userErr UserException
	if errors.As(err, &userErr) {
		return userErr.RepositoryID()
	}
	return repositoryIDPrefix + Unknown + ":1.0"
}

// AsSystemException converts err to a system exception, wrapping foreign errors in UNKNOWN
func AsSystemException(err error) *SystemException {
	if err == nil {
		return nil
	}
	var sysErr *SystemException
	if errors.As(err, &sysErr) {
		return sysErr
	}
	return WrapSystemException(Unknown, CompletedMaybe, err)
}
