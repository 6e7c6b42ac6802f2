// Package errors provides error handling for widget-provider.
//
// It re-exports github.com/cockroachdb/errors so every package in this
// module wraps and inspects errors the same way, with stack traces and
// PII-safe formatting instead of ad-hoc fmt.Errorf chains.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is            = crdb.Is
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapOnce    = crdb.UnwrapOnce
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors used across the engine; callers should compare with Is.
var (
	ErrNotFound      = crdb.New("not found")
	ErrAlreadyExists = crdb.New("already exists")
	ErrResourceBusy  = crdb.New("resource busy")
	ErrNotSupported  = crdb.New("not supported")
	ErrInvalidArg    = crdb.New("invalid argument")
	ErrPermission    = crdb.New("permission denied")
)
