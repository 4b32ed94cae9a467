package edf

import "errors"

var (
	// ErrIO wraps open, read and write failures.
	ErrIO = errors.New("edf: i/o failure")
	// ErrFormat reports an unsupported file kind or a header field that cannot
	// be decoded and has no raw text fallback.
	ErrFormat = errors.New("edf: invalid format")
	// ErrValidation reports a request that violates the EDF+ field grammar.
	ErrValidation = errors.New("edf: validation failed")
	// ErrType reports an edit value of the wrong kind for the field.
	ErrType = errors.New("edf: wrong value type")
	// ErrGeometry reports a data chunk that does not match the header geometry.
	ErrGeometry = errors.New("edf: data does not match header geometry")
)
