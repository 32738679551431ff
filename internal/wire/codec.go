// Package wire implements the frame protocol used to forward argument lists
// over a byte channel that has no message boundaries of its own.
//
// Every frame is FrameSize bytes. Bytes 0-3 carry the sender identity. The
// first frame of a message also carries the total payload length in bytes
// 4-7 and its payload starts at byte 8; later frames start their payload at
// byte 4. Integers use native byte order. Bytes past the declared length in
// the last frame are padding.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	FrameSize = 512

	idSize  = 4
	lenSize = 4

	// FirstPayload is the payload capacity of the first frame of a message.
	FirstPayload = FrameSize - idSize - lenSize
	// NextPayload is the payload capacity of every following frame.
	NextPayload = FrameSize - idSize
)

var (
	ErrTruncated = errors.New("wire: argument length exceeds payload")
	ErrTooLarge  = errors.New("wire: message exceeds maximum size")
)

// Message is one fully reassembled argument list.
type Message struct {
	Sender uint32
	Args   []string
}

// Encode serializes args as a sequence of length-prefixed, NUL-terminated
// strings. The length prefix counts the terminator.
func Encode(args []string) ([]byte, error) {
	size := 0
	for _, arg := range args {
		size += lenSize + len(arg) + 1
	}
	if uint64(size) > math.MaxUint32 {
		return nil, ErrTooLarge
	}

	buf := make([]byte, 0, size)
	for _, arg := range args {
		buf = binary.NativeEndian.AppendUint32(buf, uint32(len(arg)+1))
		buf = append(buf, arg...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// Decode splits a reassembled payload back into its arguments.
func Decode(payload []byte) ([]string, error) {
	args := make([]string, 0, 4)
	for i := 0; i < len(payload); {
		if len(payload)-i < lenSize {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(payload)-i)
		}
		n := int(binary.NativeEndian.Uint32(payload[i:]))
		i += lenSize
		if n < 0 || n > len(payload)-i {
			return nil, fmt.Errorf("%w: argument %d wants %d bytes, %d left", ErrTruncated, len(args), n, len(payload)-i)
		}
		arg := payload[i : i+n]
		if n > 0 && arg[n-1] == 0 {
			arg = arg[:n-1]
		}
		args = append(args, string(arg))
		i += n
	}
	return args, nil
}

// Frames cuts payload into FrameSize frames tagged with sender. An empty
// payload still yields one frame declaring length 0.
func Frames(sender uint32, payload []byte) [][]byte {
	frames := make([][]byte, 0, 1+len(payload)/NextPayload)

	first := make([]byte, FrameSize)
	binary.NativeEndian.PutUint32(first, sender)
	binary.NativeEndian.PutUint32(first[idSize:], uint32(len(payload)))
	n := copy(first[idSize+lenSize:], payload)
	frames = append(frames, first)

	for rest := payload[n:]; len(rest) > 0; {
		f := make([]byte, FrameSize)
		binary.NativeEndian.PutUint32(f, sender)
		n := copy(f[idSize:], rest)
		frames = append(frames, f)
		rest = rest[n:]
	}
	return frames
}

// WriteFrames writes each frame of payload with a single Write call so that
// a pipe keeps frames from concurrent writers intact.
func WriteFrames(w io.Writer, sender uint32, payload []byte) error {
	for _, f := range Frames(sender, payload) {
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}
