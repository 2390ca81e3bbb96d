package serialization

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatMismatch is returned when encoded input is malformed
	ErrFormatMismatch = errors.New("codec: format mismatch")

	// ErrInvalidEncoding is returned when a value cannot be represented
	ErrInvalidEncoding = errors.New("codec: invalid encoding")

	// ErrTypeMismatch is returned when an explicit type does not match the encoded content
	ErrTypeMismatch = errors.New("codec: type mismatch")

	// ErrUnknownEncoding is returned by the factory for unsupported encodings
	ErrUnknownEncoding = errors.New("codec: unknown encoding")
)

// CodecError describes a failed codec operation
type CodecError struct {
	Op       string // Operation that failed
	TypeName string // Type involved, if known
	Err      error  // Underlying error
}

func (e *CodecError) Error() string {
	if e.TypeName != "" {
		return fmt.Sprintf("codec %s failed for %s: %v", e.Op, e.TypeName, e.Err)
	}
	return fmt.Sprintf("codec %s failed: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func codecErr(op, typeName string, sentinel error, cause error) error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %v", sentinel, cause)
	}
	return &CodecError{Op: op, TypeName: typeName, Err: err}
}
