// Package pdferr defines the error taxonomy shared by the engine packages.
// Callers classify failures with errors.Is against the sentinels below.
package pdferr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidDocument        = errors.New("invalid document")
	ErrCorruptPageTree        = errors.New("corrupt page tree")
	ErrInvalidPageIndex       = errors.New("invalid page index")
	ErrUnsupportedImageFormat = errors.New("unsupported image format")
	ErrEncryption             = errors.New("encryption error")
	ErrCancelled              = errors.New("cancellation requested")
)

// ParseError reports malformed input at a byte offset.
type ParseError struct {
	Offset    int64
	Component string // header, xref, trailer, object, stream
	Err       error
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parse %s at offset %d: %v", e.Component, e.Offset, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Component, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrInvalidDocument }

// PageIndexError reports a page index outside [0, Count).
type PageIndexError struct {
	Index int
	Count int
}

func (e *PageIndexError) Error() string {
	return fmt.Sprintf("page index %d out of range [0,%d)", e.Index, e.Count)
}

func (e *PageIndexError) Is(target error) bool { return target == ErrInvalidPageIndex }

// EncryptionError reports an unsupported handler or a failed password check.
type EncryptionError struct {
	Reason string
	Err    error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encryption: %s: %v", e.Reason, e.Err)
	}
	return "encryption: " + e.Reason
}

func (e *EncryptionError) Unwrap() error { return e.Err }

func (e *EncryptionError) Is(target error) bool { return target == ErrEncryption }

// CorruptTree returns an error matching ErrCorruptPageTree.
func CorruptTree(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptPageTree, fmt.Sprintf(format, args...))
}

type cancelled struct{ cause error }

func (c cancelled) Error() string        { return ErrCancelled.Error() + ": " + c.cause.Error() }
func (c cancelled) Is(target error) bool { return target == ErrCancelled }
func (c cancelled) Unwrap() error        { return c.cause }

// Cancelled wraps a context error so it matches both ErrCancelled and the context
// error itself.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	return cancelled{cause: err}
}

// CheckContext returns a cancellation error once ctx is done.
func CheckContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return Cancelled(ctx.Err())
	default:
		return nil
	}
}
