package store

import "errors"

// Sentinel errors returned by Store operations, mirroring the teacher's
// pkg/config/errors.go pattern of errors.Is-comparable sentinels rather
// than string matching.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyExists  = errors.New("store: already exists")
	ErrNoJobAvailable = errors.New("store: no claimable job")
	ErrNotCancellable = errors.New("store: not in a cancellable state")
	ErrStaleClaim     = errors.New("store: claim token mismatch")
)
