package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Wrapping and inspection helpers from github.com/cockroachdb/errors, so
// callers import a single errors package.
var (
	New      = crdb.New
	Newf     = crdb.Newf
	Wrap     = crdb.Wrap
	Wrapf    = crdb.Wrapf
	WithHint = crdb.WithHint
	Mark     = crdb.Mark
	Is       = crdb.Is
	IsAny    = crdb.IsAny
	As       = crdb.As
	Unwrap   = crdb.UnwrapOnce
	Cause    = crdb.UnwrapAll
	Hints    = crdb.FlattenHints

	CombineErrors = crdb.CombineErrors
)

// Sentinel errors. Match them with Is.
var (
	// ErrSourceUnavailable marks a schema source that could not be read.
	ErrSourceUnavailable = New("schema source unavailable")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = New("operation timed out")

	// ErrClosed is returned by collaborators used after Close.
	ErrClosed = New("closed")
)
