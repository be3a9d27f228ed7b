package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadCompressed indicates an invalid ECMA-335 compressed integer.
	ErrBadCompressed = errors.New("format: invalid compressed integer")
	// ErrValueTooLarge indicates a value exceeds the compressed integer range.
	ErrValueTooLarge = errors.New("format: value too large to compress")
	// ErrNotFound indicates a requested stream or section was missing.
	ErrNotFound = errors.New("format: not found")
	// ErrUnsupported indicates the structure or feature is not supported.
	ErrUnsupported = errors.New("format: unsupported feature")
)
