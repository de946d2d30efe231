package model

import (
	"errors"
)

var (
	// ErrConfig covers a missing or malformed configuration and incomplete profiles.
	ErrConfig = errors.New("configuration error")
	// ErrUnknownVendor is returned for a vendor outside of Vendors or absent from the document.
	ErrUnknownVendor = errors.New("unknown vendor")
	// ErrUnknownKey is returned for a field outside of the vendor's schema.
	ErrUnknownKey = errors.New("unknown configuration key")
	// ErrResourceNotFound means no bundled script matches the requested name.
	ErrResourceNotFound = errors.New("script resource not found")
	ErrInvalidRequest   = errors.New("invalid run request")
	// ErrLaunch wraps the OS error of a process which could not be started.
	ErrLaunch = errors.New("launch failed")
	// ErrRuntimeFailure is a script which exited with non-zero code.
	ErrRuntimeFailure = errors.New("script failed")
	ErrCancelled      = errors.New("run cancelled")
	ErrRunInProgress  = errors.New("run in progress")
	ErrRunnerUsed     = errors.New("runner already used")
)
