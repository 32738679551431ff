package singleinstance

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Acquire after the arguments were
	// forwarded to the running instance. Callers should exit cleanly.
	ErrAlreadyRunning = errors.New("singleinstance: another instance is already running")

	ErrNoBaseDir      = errors.New("singleinstance: cannot resolve a base directory for application state")
	ErrInvalidAppName = errors.New("singleinstance: application name must be non-empty and contain no path separators")
	ErrInvalidOption  = errors.New("singleinstance: invalid option")
	ErrUnsupported    = errors.New("singleinstance: not supported on this platform")
	ErrNotRunning     = errors.New("singleinstance: no running instance")
)

// ResourceError reports a failure to create or open the application
// directory, the lock file or the channel.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("singleinstance: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
