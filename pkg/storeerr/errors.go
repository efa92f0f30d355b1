// Package storeerr defines the coded error taxonomy shared by every
// storage-engine component: the KV engine, write pipeline, query engine,
// blob store, change log, Raft replication layer, and ACL resolver all
// return errors through this single currency so callers can branch on
// Kind without knowing which component produced the failure.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the fixed outcome categories a
// caller can act on (retry, surface to the client, page an operator).
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidArguments Kind = "invalid_arguments"
	KindForbidden        Kind = "forbidden"
	KindOverQuota        Kind = "over_quota"
	KindAlreadyExists    Kind = "already_exists"
	KindTemporaryFailure Kind = "temporary_failure"
	KindDataCorruption   Kind = "data_corruption"
	KindInternalError    Kind = "internal_error"
)

// Error is the coded error type crossing every component boundary.
type Error struct {
	Kind    Kind
	Code    string // e.g. "CORE-DOC-4040"
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an Error with the given kind, code, and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithDetails returns a copy of the error with additional context appended.
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Is reports whether err is a *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CodeOf extracts the stable code from err, or "" if err isn't an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ----------------------------------------------------------------------
// Document / collection errors (DOC)
// ----------------------------------------------------------------------

var (
	ErrDocumentNotFound  = New(KindNotFound, "CORE-DOC-4040", "document not found")
	ErrThreadNotFound    = New(KindNotFound, "CORE-DOC-4041", "thread not found")
	ErrAccountNotFound   = New(KindNotFound, "CORE-DOC-4042", "account not found")
	ErrInvalidProperty   = New(KindInvalidArguments, "CORE-DOC-4000", "invalid property value")
	ErrSchemaViolation   = New(KindInvalidArguments, "CORE-DOC-4001", "document violates collection schema")
	ErrDocumentConflict  = New(KindAlreadyExists, "CORE-DOC-4090", "document id already exists")
	ErrStateMismatch     = New(KindInvalidArguments, "CORE-DOC-4002", "supplied state does not match current state")
)

// ----------------------------------------------------------------------
// Write pipeline errors (WRT)
// ----------------------------------------------------------------------

var (
	ErrWriteConflict  = New(KindTemporaryFailure, "CORE-WRT-4091", "concurrent write conflict, retry")
	ErrQuotaExceeded  = New(KindOverQuota, "CORE-WRT-4002", "account quota exceeded")
	ErrBatchTooLarge  = New(KindInvalidArguments, "CORE-WRT-4003", "write batch exceeds configured size limit")
)

// ----------------------------------------------------------------------
// Blob store errors (BLOB)
// ----------------------------------------------------------------------

var (
	ErrBlobNotFound    = New(KindNotFound, "CORE-BLOB-4040", "blob not found")
	ErrBlobHashInvalid = New(KindInvalidArguments, "CORE-BLOB-4000", "blob content hash mismatch")
	ErrBlobOverQuota   = New(KindOverQuota, "CORE-BLOB-4002", "blob storage quota exceeded")
)

// ----------------------------------------------------------------------
// Change log errors (LOG)
// ----------------------------------------------------------------------

var (
	ErrChangeNotFound    = New(KindNotFound, "CORE-LOG-4040", "requested change state not found in log (outside retention window)")
	ErrLogCorrupt        = New(KindDataCorruption, "CORE-LOG-5000", "change log segment failed integrity check")
)

// ----------------------------------------------------------------------
// Query engine errors (QRY)
// ----------------------------------------------------------------------

var (
	ErrUnsupportedFilter = New(KindInvalidArguments, "CORE-QRY-4004", "filter references an unindexed or unknown property")
	ErrUnsupportedSort   = New(KindInvalidArguments, "CORE-QRY-4005", "sort comparator references an unindexed or unknown property")
)

// ----------------------------------------------------------------------
// Raft / cluster errors (CLU)
// ----------------------------------------------------------------------

var (
	ErrNotLeader       = New(KindTemporaryFailure, "CORE-CLU-4030", "this node is not the raft leader")
	ErrClusterUnstable = New(KindTemporaryFailure, "CORE-CLU-5030", "cluster has no stable leader")
)

// ----------------------------------------------------------------------
// ACL / principal errors (ACL)
// ----------------------------------------------------------------------

var (
	ErrPermissionDenied  = New(KindForbidden, "CORE-ACL-4030", "principal lacks the required permission")
	ErrPrincipalNotFound = New(KindNotFound, "CORE-ACL-4040", "principal not found")
	ErrPrincipalConflict = New(KindAlreadyExists, "CORE-ACL-4090", "principal name already in use")
	ErrSecretInvalid     = New(KindInvalidArguments, "CORE-ACL-4001", "principal secret does not meet policy")
)

// ----------------------------------------------------------------------
// System errors (SYS)
// ----------------------------------------------------------------------

var (
	ErrInternal           = New(KindInternalError, "CORE-SYS-5000", "internal error")
	ErrStorageUnavailable = New(KindTemporaryFailure, "CORE-SYS-5030", "storage engine unavailable")
	ErrCorrupted          = New(KindDataCorruption, "CORE-SYS-5001", "on-disk data failed integrity check")
)
