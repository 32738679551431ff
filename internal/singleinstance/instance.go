package singleinstance

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"libsingleinstance/internal/wire"
)

type readiness int

const (
	readyNone readiness = iota
	readyData
	readyControl
)

var errChannelReset = errors.New("singleinstance: channel reset")

// Instance is the holder side of an instance slot. Check and Pop must be
// called from one goroutine at a time; Interrupt may be called from any
// goroutine.
type Instance struct {
	slot    Slot
	cfg     *config
	lock    *flock.Flock
	ep      *endpoint
	tracker *wire.Tracker
	pending []Message

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newInstance(slot Slot, cfg *config, lock *flock.Flock, ep *endpoint) *Instance {
	return &Instance{
		slot:    slot,
		cfg:     cfg,
		lock:    lock,
		ep:      ep,
		tracker: wire.NewTracker(cfg.maxMessage),
	}
}

func (i *Instance) Slot() Slot { return i.slot }

// SenderID is the identity this process uses when it forwards.
func (i *Instance) SenderID() uint32 { return i.cfg.senderID }

// Check reports whether a forwarded message is available and returns the
// oldest one. The message stays queued until Pop.
//
// With block set, Check waits until a message completes or Interrupt is
// called. Without it, Check reads whatever the channel already holds.
func (i *Instance) Check(block bool) (Message, bool) {
	if len(i.pending) > 0 {
		return i.pending[0], true
	}
	if i.closed.Load() {
		return Message{}, false
	}

	for {
		r, err := i.ep.poll(block)
		if err != nil {
			i.cfg.logger.Error().Err(err).Str("app", i.slot.App).Msg("Waiting for forwarded arguments failed")
			return Message{}, false
		}

		switch r {
		case readyControl:
			i.cfg.incr(MetricInterruptCount, 1, i.slot.App)
			return i.front()
		case readyNone:
			return i.front()
		}

		chunk, err := i.ep.read()
		if errors.Is(err, errChannelReset) {
			i.cfg.incr(MetricReopenCount, 1, i.slot.App)
			i.cfg.logger.Warn().Err(err).Str("path", i.slot.PipePath).Msg("Channel reopened")
			i.tracker.Reset()
			continue
		}
		if err != nil {
			i.cfg.logger.Error().Err(err).Str("app", i.slot.App).Msg("Reading forwarded arguments failed")
			return Message{}, false
		}
		if len(chunk) == 0 {
			if !block {
				return i.front()
			}
			continue
		}

		i.cfg.incr(MetricFramesBytes, float32(len(chunk)), i.slot.App)
		i.receive(chunk)
		if len(i.pending) > 0 {
			return i.pending[0], true
		}
	}
}

func (i *Instance) receive(chunk []byte) {
	msgs, err := i.tracker.Feed(chunk)
	if err != nil {
		var drop *wire.DropError
		for _, e := range unwrapJoined(err) {
			if errors.As(e, &drop) {
				i.cfg.incr(MetricMessagesDropCount, 1, i.slot.App)
			}
			i.cfg.logger.Warn().Err(e).Str("app", i.slot.App).Msg("Forwarded message dropped")
		}
	}
	if len(msgs) > 0 {
		i.cfg.incr(MetricMessagesCount, float32(len(msgs)), i.slot.App)
		i.pending = append(i.pending, msgs...)
	}
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func (i *Instance) front() (Message, bool) {
	if len(i.pending) > 0 {
		return i.pending[0], true
	}
	return Message{}, false
}

// Pop discards the message returned by the last successful Check.
func (i *Instance) Pop() {
	if len(i.pending) == 0 {
		return
	}
	i.pending[0] = Message{}
	i.pending = i.pending[1:]
}

// Pending reports how many completed messages wait in the queue.
func (i *Instance) Pending() int { return len(i.pending) }

// Interrupt makes one blocked or the next blocking Check return without a
// message. It performs a single write to an open descriptor and is safe to
// call from a signal-handling goroutine.
func (i *Instance) Interrupt() {
	if i.closed.Load() {
		return
	}
	i.ep.interrupt()
}

// Close discards queued messages and releases the channel and the lock.
// No Check may be running. Close is idempotent.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		i.pending = nil

		var errs []error
		if err := i.ep.close(); err != nil {
			errs = append(errs, &ResourceError{Op: "close", Path: i.slot.PipePath, Err: err})
		}
		if err := os.Remove(i.slot.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			i.cfg.logger.Warn().Err(err).Str("path", i.slot.PIDPath).Msg("Failed to remove holder pid")
		}
		if err := i.lock.Unlock(); err != nil {
			errs = append(errs, &ResourceError{Op: "unlock", Path: i.slot.LockPath, Err: err})
		}
		i.closeErr = errors.Join(errs...)
		i.cfg.logger.Info().Str("app", i.slot.App).Msg("Instance slot released")
	})
	return i.closeErr
}
