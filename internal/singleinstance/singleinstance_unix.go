//go:build !windows

package singleinstance

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ensureSlot creates the application directory and the channel FIFO. Both
// may already exist.
func ensureSlot(slot Slot) error {
	if err := os.MkdirAll(slot.Dir, 0755); err != nil {
		return &ResourceError{Op: "mkdir", Path: slot.Dir, Err: err}
	}

	err := unix.Mkfifo(slot.PipePath, 0600)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return &ResourceError{Op: "mkfifo", Path: slot.PipePath, Err: err}
	}

	fi, err := os.Stat(slot.PipePath)
	if err != nil {
		return &ResourceError{Op: "stat", Path: slot.PipePath, Err: err}
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return &ResourceError{Op: "mkfifo", Path: slot.PipePath, Err: unix.EEXIST}
	}
	return nil
}

// openForward opens the channel for writing. The open fails with ENXIO
// instead of waiting when nobody reads the channel; writes then block.
func openForward(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(int(f.Fd()), false); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func isNoReader(err error) bool {
	return errors.Is(err, unix.ENXIO)
}
