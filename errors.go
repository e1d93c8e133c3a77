package nod

import "github.com/bodgit/nod/internal/core"

// Kind classifies an Error.
type Kind = core.Kind

// The error kinds every layer of the reader stack returns.
const (
	KindOther      = core.KindOther
	KindDiscFormat = core.KindDiscFormat
	KindIO         = core.KindIO
)

// Error is the error type returned by every layer of the reader stack.
// Every Error carries a human-readable Context naming the offending offset,
// group or file, added explicitly as the error crosses a layer boundary.
type Error = core.Error

// ErrorContext is implemented by errors that can be annotated with
// additional context as they propagate up through a layer.
type ErrorContext = core.ErrorContext

// DiscFormatError reports a violated structural invariant.
func DiscFormatError(context string) error { return core.DiscFormatError(context) }

// DiscFormatErrorf is DiscFormatError with fmt.Sprintf formatting.
func DiscFormatErrorf(format string, args ...any) error {
	return core.DiscFormatErrorf(format, args...)
}

// IOError wraps a read/seek/decompression failure with context.
func IOError(context string, err error) error { return core.IOError(context, err) }

// OtherError wraps a miscellaneous error with context.
func OtherError(context string) error { return core.OtherError(context) }

// WithContext annotates err with additional context, wrapping it in an
// *Error if it isn't already one. Each layer (block, disc, partition, fst)
// calls this so messages accumulate the offending offset or group as they
// cross boundaries.
func WithContext(err error, context string) error { return core.WithContext(err, context) }

// WithContextf is WithContext with fmt.Sprintf formatting.
func WithContextf(err error, format string, args ...any) error {
	return core.WithContextf(err, format, args...)
}
