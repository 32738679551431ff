//go:build windows

package singleinstance

import "os"

// Windows has no FIFO comparable to the unix channel.
func ensureSlot(slot Slot) error {
	return &ResourceError{Op: "mkfifo", Path: slot.PipePath, Err: ErrUnsupported}
}

func openForward(path string) (*os.File, error) { return nil, ErrUnsupported }

func isNoReader(err error) bool { return false }

type endpoint struct{}

func openEndpoint(path string) (*endpoint, error) {
	return nil, &ResourceError{Op: "open", Path: path, Err: ErrUnsupported}
}

func (e *endpoint) poll(block bool) (readiness, error) { return readyNone, ErrUnsupported }
func (e *endpoint) read() ([]byte, error)               { return nil, ErrUnsupported }
func (e *endpoint) interrupt()                          {}
func (e *endpoint) close() error                        { return nil }
