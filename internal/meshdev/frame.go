package meshdev

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Stream framing constants.
const (
	frameStart1 byte = 0x94
	frameStart2 byte = 0xC3

	// frameHeaderSize is start1 + start2 + 16-bit big-endian length.
	frameHeaderSize = 4

	// MaxFrameSize is the largest protobuf payload the device will send.
	MaxFrameSize = 512

	// wakeSequenceLen is the number of start2 bytes sent to wake a sleeping
	// serial API before the first real frame.
	wakeSequenceLen = 32
)

// EncodeFrame wraps a protobuf payload in a stream header.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = frameStart1
	frame[1] = frameStart2
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload))) //nolint:gosec // bounded by MaxFrameSize
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// wakeSequence returns the bytes that wake the device's serial API.
func wakeSequence() []byte {
	seq := make([]byte, wakeSequenceLen)
	for i := range seq {
		seq[i] = frameStart2
	}
	return seq
}

// frameReader extracts frames from a byte stream that may interleave
// protobuf frames with plain-text debug output.
type frameReader struct {
	r *bufio.Reader

	// discarded counts bytes dropped while hunting for a frame header.
	discarded uint64
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 2*MaxFrameSize)}
}

// ReadFrame returns the next frame payload.
//
// A header announcing more than MaxFrameSize bytes is treated as noise:
// the reader drops the header and resynchronises on the next start byte.
// Only errors from the underlying reader are returned.
func (f *frameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart1 {
			f.discarded++
			continue
		}

		// A repeated start1 may itself be the start of the real header.
		next, err := f.r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != frameStart2 {
			f.discarded++
			continue
		}
		if _, err := f.r.Discard(1); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
			return nil, err
		}
		size := int(binary.BigEndian.Uint16(lenBuf[:]))
		if size > MaxFrameSize {
			f.discarded += frameHeaderSize
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
