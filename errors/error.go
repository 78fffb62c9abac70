// Package vcrerr defines the kinds of errors reported by scenevcr.
//
// Callers should test for a kind with errors.Is since errors are usually
// wrapped with additional context on their way up.
package vcrerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoMatchingChapter indicates that no recorded chapter matched the request and the
	// cassette is not permitted to record it.
	ErrNoMatchingChapter = errors.New("no matching chapter")

	// ErrUnauthorizedWrite indicates an attempt to record onto a write protected cassette.
	ErrUnauthorizedWrite = errors.New("unauthorized write to cassette")

	// ErrCorruptCassette indicates that the cassette contents could not be decoded.
	// The cassette remains unusable until the file is fixed or deleted.
	ErrCorruptCassette = errors.New("corrupt cassette")

	// ErrIgnoredRequest is not a failure: the request was excluded from recording by
	// a host filter or a before-record hook.
	ErrIgnoredRequest = errors.New("request ignored")

	// ErrInvalidConfiguration indicates a VCR or cassette configuration that cannot be applied.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSceneNotAcknowledged indicates that a scene was requested before the previous one
	// was acknowledged.
	ErrSceneNotAcknowledged = errors.New("previous scene not acknowledged")

	// ErrFormat indicates a malformed persisted record.
	ErrFormat = errors.New("invalid record format")
)

// Kindf wraps the supplied kind with a formatted message while preserving errors.Is.
func Kindf(kind error, format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...)})
}

// Wrapf is like Kindf and also records cause: errors.Is matches both kind and cause.
func Wrapf(kind, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: kind, cause: cause, msg: fmt.Sprintf(format, args...)})
}

type kindError struct {
	kind  error
	cause error
	msg   string
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error() + ": " + e.msg
	}

	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}

	return []error{e.kind, e.cause}
}
