//go:build !windows

package singleinstance

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"libsingleinstance/internal/wire"
)

const readBufferSize = 16 * wire.FrameSize

// endpoint owns the holder's end of the channel and the control pipe used
// to interrupt a blocked poll.
type endpoint struct {
	path  string
	fd    int
	ctrlR int
	ctrlW int
	w     waiter
	buf   []byte
	wake  [1]byte
	drain [1]byte
}

func openChannel(path string) (int, error) {
	// Read-write so the FIFO never reports EOF while forwarders come and go.
	return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

func openEndpoint(path string) (*endpoint, error) {
	fd, err := openChannel(path)
	if err != nil {
		return nil, &ResourceError{Op: "open", Path: path, Err: err}
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(fd)
		return nil, &ResourceError{Op: "pipe", Path: path, Err: err}
	}
	for _, pfd := range p {
		unix.CloseOnExec(pfd)
		if err := unix.SetNonblock(pfd, true); err != nil {
			unix.Close(fd)
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, &ResourceError{Op: "pipe", Path: path, Err: err}
		}
	}

	return &endpoint{
		path:  path,
		fd:    fd,
		ctrlR: p[0],
		ctrlW: p[1],
		w:     newPollWaiter(fd, p[0]),
		buf:   make([]byte, readBufferSize),
	}, nil
}

func (e *endpoint) poll(block bool) (readiness, error) {
	if e.fd < 0 {
		if err := e.reopen(); err != nil {
			return readyNone, err
		}
	}

	timeout := 0
	if block {
		timeout = -1
	}
	ready, err := e.w.wait(timeout)
	if err != nil {
		return readyNone, fmt.Errorf("singleinstance: poll: %w", err)
	}

	// An interrupt wins over pending data.
	if ready[1] {
		unix.Read(e.ctrlR, e.drain[:])
		return readyControl, nil
	}
	if ready[0] {
		return readyData, nil
	}
	return readyNone, nil
}

// read returns the bytes currently available. A zero read or a read error
// makes the endpoint reopen the channel and return errChannelReset.
func (e *endpoint) read() ([]byte, error) {
	n, err := unix.Read(e.fd, e.buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err == nil && n > 0 {
		return e.buf[:n], nil
	}

	cause := err
	if cause == nil {
		cause = io.EOF
	}
	if err := e.reopen(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", errChannelReset, cause)
}

func (e *endpoint) reopen() error {
	if e.fd >= 0 {
		unix.Close(e.fd)
	}
	fd, err := openChannel(e.path)
	if err != nil {
		e.fd = -1
		e.w.set(0, -1)
		return &ResourceError{Op: "open", Path: e.path, Err: err}
	}
	e.fd = fd
	e.w.set(0, fd)
	return nil
}

// interrupt writes a single byte to the control pipe. It neither allocates
// nor locks, so it may run concurrently with poll.
func (e *endpoint) interrupt() {
	unix.Write(e.ctrlW, e.wake[:])
}

func (e *endpoint) close() error {
	var errs []error
	if e.fd >= 0 {
		errs = append(errs, unix.Close(e.fd))
		e.fd = -1
	}
	errs = append(errs, unix.Close(e.ctrlR), unix.Close(e.ctrlW))
	return errors.Join(errs...)
}
