package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrInvalidFrame  = errors.New("protocol: invalid frame type")
)

// FrameType tags a length-prefixed frame on a stream transport.
type FrameType uint8

const (
	FrameText  FrameType = 1
	FrameClose FrameType = 2
	// FrameOpen is written once by the dialing side so the listening side
	// learns about a stream before any envelope flows.
	FrameOpen FrameType = 3
)

func (t FrameType) valid() bool {
	return t == FrameText || t == FrameClose || t == FrameOpen
}

// Frame is the container used on stream transports.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes f as a single Write call so concurrent writers that hold
// a lock per call never interleave partial frames.
func WriteFrame(w io.Writer, f Frame) error {
	if !f.Type.valid() {
		return ErrInvalidFrame
	}
	if len(f.Payload) > MaxEnvelopeSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 5+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[5:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. r should be buffered by the caller if needed;
// ReadFrame itself never reads past the end of the frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	ft := FrameType(hdr[0])
	if !ft.valid() {
		return Frame{}, ErrInvalidFrame
	}
	payloadLen := binary.BigEndian.Uint32(hdr[1:])
	if payloadLen > MaxEnvelopeSize {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Type: ft, Payload: payload}, nil
}
