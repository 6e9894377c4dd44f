// Package protocol implements the length-prefixed binary wire protocol.
// Every frame is a big-endian u32 length covering the type byte plus
// payload, then the type byte, then the payload.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types
const (
	FrameQuery           byte = 1
	FrameQueryResponse   byte = 2
	FrameError           byte = 3
	FrameExecute         byte = 4
	FrameExecuteResponse byte = 5
)

// ProtocolError is a wire-level failure. Unlike statement errors it is
// not recoverable: the server drops the connection after reporting it.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// Frame is one decoded wire frame
type Frame struct {
	Type    byte
	Payload []byte
}

// WriteFrame encodes and writes one frame
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)+1))
	header[4] = frameType

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame, enforcing the size limit
func ReadFrame(r io.Reader, maxFrameBytes uint32) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, &ProtocolError{Message: "zero-length frame"}
	}
	if length > maxFrameBytes {
		return nil, &ProtocolError{Message: fmt.Sprintf("frame of %d bytes exceeds limit %d", length, maxFrameBytes)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Frame{Type: body[0], Payload: body[1:]}, nil
}
