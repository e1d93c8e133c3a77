// Package core holds the error and logging types shared by every layer of
// the reader stack (block, nkit, fst, disc, partition, wiicrypto). It lives
// under internal so that the root package, which composes those layers into
// the public Disc facade, can depend on all of them without creating an
// import cycle back through a shared root-level package.
package core

import "fmt"

// Kind classifies an Error.
type Kind int

const (
	// KindOther covers errors that don't fit the other kinds.
	KindOther Kind = iota
	// KindDiscFormat indicates a structural invariant of a disc image was violated.
	KindDiscFormat
	// KindIO indicates a read, seek or decompression failure against the
	// underlying container.
	KindIO
)

// Error is the error type returned by every layer of the reader stack.
// Every Error carries a human-readable Context naming the offending offset,
// group or file, added explicitly as the error crosses a layer boundary.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDiscFormat:
		if e.Err != nil {
			return fmt.Sprintf("disc format error: %s: %v", e.Context, e.Err)
		}
		return fmt.Sprintf("disc format error: %s", e.Context)
	case KindIO:
		return fmt.Sprintf("I/O error: %s: %v", e.Context, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Context, e.Err)
		}
		return e.Context
	}
}

func (e *Error) Unwrap() error { return e.Err }

// DiscFormatError reports a violated structural invariant.
func DiscFormatError(context string) error {
	return &Error{Kind: KindDiscFormat, Context: context}
}

// DiscFormatErrorf is DiscFormatError with fmt.Sprintf formatting.
func DiscFormatErrorf(format string, args ...any) error {
	return &Error{Kind: KindDiscFormat, Context: fmt.Sprintf(format, args...)}
}

// IOError wraps a read/seek/decompression failure with context.
func IOError(context string, err error) error {
	return &Error{Kind: KindIO, Context: context, Err: err}
}

// OtherError wraps a miscellaneous error with context.
func OtherError(context string) error {
	return &Error{Kind: KindOther, Context: context}
}

// ErrorContext is implemented by errors that can be annotated with
// additional context as they propagate up through a layer.
type ErrorContext interface {
	WithContext(context string) error
}

// WithContext annotates err with additional context, wrapping it in an
// *Error if it isn't already one. Each layer (block, disc, partition, fst)
// calls this so messages accumulate the offending offset or group as they
// cross boundaries.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if ec, ok := err.(*Error); ok {
		e = ec
	}
	if e == nil {
		return &Error{Kind: KindOther, Context: context, Err: err}
	}
	return &Error{Kind: e.Kind, Context: context + ": " + e.Context, Err: e.Err}
}

// WithContextf is WithContext with fmt.Sprintf formatting.
func WithContextf(err error, format string, args ...any) error {
	return WithContext(err, fmt.Sprintf(format, args...))
}
