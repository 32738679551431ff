//go:build !windows

package singleinstance

import (
	"errors"

	"golang.org/x/sys/unix"
)

// waiter blocks until one of a fixed set of descriptors is readable.
type waiter interface {
	// wait reports readiness per descriptor. A negative timeout waits
	// forever and zero only probes.
	wait(timeoutMs int) (ready []bool, err error)
	// set replaces descriptor i; a negative fd is ignored by wait.
	set(i, fd int)
}

type pollWaiter struct {
	fds   []unix.PollFd
	ready []bool
}

func newPollWaiter(fds ...int) *pollWaiter {
	w := &pollWaiter{
		fds:   make([]unix.PollFd, len(fds)),
		ready: make([]bool, len(fds)),
	}
	for i, fd := range fds {
		w.fds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	return w
}

func (w *pollWaiter) set(i, fd int) {
	w.fds[i].Fd = int32(fd)
}

func (w *pollWaiter) wait(timeoutMs int) ([]bool, error) {
	for i := range w.fds {
		w.fds[i].Revents = 0
		w.ready[i] = false
	}

	var err error
	for {
		_, err = unix.Poll(w.fds, timeoutMs)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return w.ready, err
	}

	for i, fd := range w.fds {
		// HUP and ERR count as readable so the following read reports them.
		w.ready[i] = fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return w.ready, nil
}
