package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DropError reports a message from Sender that was consumed but not emitted.
type DropError struct {
	Sender uint32
	Err    error
}

func (e *DropError) Error() string {
	return fmt.Sprintf("wire: dropped message from sender %d: %v", e.Sender, e.Err)
}

func (e *DropError) Unwrap() error { return e.Err }

// buffer accumulates one message. Writes are clipped to the declared length,
// so len(data) never exceeds want. A discarding buffer only counts bytes.
type buffer struct {
	want    int
	got     int
	data    []byte
	discard bool
}

func newBuffer(want int, discard bool) *buffer {
	b := &buffer{want: want, discard: discard}
	if !discard {
		b.data = make([]byte, 0, min(want, 8*FrameSize))
	}
	return b
}

func (b *buffer) Write(p []byte) int {
	n := min(len(p), b.want-b.got)
	if !b.discard {
		b.data = append(b.data, p[:n]...)
	}
	b.got += n
	return n
}

func (b *buffer) full() bool { return b.got == b.want }

// Tracker demultiplexes interleaved frames by sender identity and turns them
// back into messages. Input may be split at arbitrary byte boundaries.
//
// A sender identity reused before its previous message completes corrupts
// both messages. Process ids make this practically impossible.
type Tracker struct {
	max     int
	partial []byte
	buffers map[uint32]*buffer
}

// NewTracker returns a Tracker that discards any message declaring more than
// maxSize payload bytes.
func NewTracker(maxSize int) *Tracker {
	return &Tracker{
		max:     maxSize,
		partial: make([]byte, 0, FrameSize),
		buffers: make(map[uint32]*buffer),
	}
}

// Feed consumes p and returns every message completed by it. Dropped
// messages are reported as *DropError values joined into err; the returned
// messages are valid regardless of err.
func (t *Tracker) Feed(p []byte) ([]Message, error) {
	var (
		done []Message
		errs []error
	)
	for len(p) > 0 {
		var frame []byte
		if len(t.partial) == 0 && len(p) >= FrameSize {
			frame, p = p[:FrameSize], p[FrameSize:]
		} else {
			n := copy(t.partial[len(t.partial):FrameSize], p)
			t.partial = t.partial[:len(t.partial)+n]
			p = p[n:]
			if len(t.partial) < FrameSize {
				break
			}
			frame = t.partial
		}

		msg, ok, err := t.frame(frame)
		t.partial = t.partial[:0]
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			done = append(done, msg)
		}
	}
	return done, errors.Join(errs...)
}

func (t *Tracker) frame(f []byte) (Message, bool, error) {
	sender := binary.NativeEndian.Uint32(f)
	body := f[idSize:]

	b, ok := t.buffers[sender]
	if !ok {
		want := uint64(binary.NativeEndian.Uint32(body))
		body = body[lenSize:]
		if want > uint64(t.max) {
			b = newBuffer(int(min(want, uint64(maxInt))), true)
		} else {
			b = newBuffer(int(want), false)
		}
		t.buffers[sender] = b
	}

	b.Write(body)
	if !b.full() {
		return Message{}, false, nil
	}
	delete(t.buffers, sender)

	if b.discard {
		return Message{}, false, &DropError{Sender: sender, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, b.want)}
	}
	args, err := Decode(b.data)
	if err != nil {
		return Message{}, false, &DropError{Sender: sender, Err: err}
	}
	return Message{Sender: sender, Args: args}, true, nil
}

// Pending reports how many senders have a message in flight.
func (t *Tracker) Pending() int { return len(t.buffers) }

// Reset forgets a partially received frame. In-flight messages are kept.
func (t *Tracker) Reset() { t.partial = t.partial[:0] }

const maxInt = int(^uint(0) >> 1)
