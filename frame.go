package nsq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame types as they appear on the wire: a 4-byte size, a 4-byte
// frame type, then a type-specific payload.
const (
	FrameTypeResponse int32 = 0
	FrameTypeError    int32 = 1
	FrameTypeMessage  int32 = 2
)

// heartbeatData is the literal payload of a heartbeat Response.
const heartbeatData = "_heartbeat_"

// MagicV2 is the magic identifier sent at the start of every connection.
var MagicV2 = []byte("  V2")

// Frame is the tagged variant spec.md §3 describes: a Response, an
// Error, or a Message decoded off the wire.
type Frame interface {
	frame()
}

// ResponseFrame is a server Response. IsHeartbeat reports whether its
// data is the heartbeat sentinel.
type ResponseFrame struct {
	Data []byte
}

func (ResponseFrame) frame() {}

// IsHeartbeat reports whether this Response is a heartbeat ping.
func (r ResponseFrame) IsHeartbeat() bool {
	return string(r.Data) == heartbeatData
}

// ErrorFrame is a server-reported failure.
type ErrorFrame struct {
	Data []byte
}

func (ErrorFrame) frame() {}

// Code returns the leading error token, e.g. "E_BAD_TOPIC".
func (e ErrorFrame) Code() string {
	return errorCode(e.Data)
}

// Fatal reports whether this error kind is fatal to the connection
// (anything outside the FinFailed/ReqFailed/TouchFailed trio).
func (e ErrorFrame) Fatal() bool {
	return !isNonFatalServerError(e.Data)
}

func (e ErrorFrame) Error() string {
	return string(e.Data)
}

// MessageFrame is a user payload delivered by nsqd. Origin is filled
// in by Connection.read and is the weak back-reference used by
// Message's Fin/Req/Touch.
type MessageFrame struct {
	*Message
}

func (MessageFrame) frame() {}

// errShortFrame signals that the decoder's buffer does not yet hold a
// complete frame. It is non-destructive: buffered bytes are kept for
// the next feed.
var errShortFrame = fmt.Errorf("nsq: short read")

// frameDecoder incrementally assembles Frames from bytes fed to it
// across possibly-partial non-blocking reads.
type frameDecoder struct {
	buf bytes.Buffer
}

// feed appends newly-read bytes to the decode buffer.
func (d *frameDecoder) feed(p []byte) {
	d.buf.Write(p)
}

// next extracts one complete Frame from the buffer, if present.
// Returns errShortFrame (not fatal) when fewer than a full frame's
// bytes are buffered; returns ErrMalformedFrame on a framing violation.
func (d *frameDecoder) next() (Frame, error) {
	avail := d.buf.Bytes()
	if len(avail) < 4 {
		return nil, errShortFrame
	}
	size := int32(binary.BigEndian.Uint32(avail[:4]))
	if size < 4 {
		return nil, wrapErr(ErrMalformedFrame, "negative or undersized frame", nil)
	}
	if len(avail) < int(4+size) {
		return nil, errShortFrame
	}

	frameType := int32(binary.BigEndian.Uint32(avail[4:8]))
	payload := make([]byte, size-4)
	copy(payload, avail[8:4+size])
	d.buf.Next(int(4 + size))

	switch frameType {
	case FrameTypeResponse:
		return ResponseFrame{Data: payload}, nil
	case FrameTypeError:
		return ErrorFrame{Data: payload}, nil
	case FrameTypeMessage:
		msg, err := decodeMessage(payload)
		if err != nil {
			return nil, wrapErr(ErrMalformedFrame, "bad message frame", err)
		}
		return MessageFrame{Message: msg}, nil
	default:
		return nil, wrapErr(ErrMalformedFrame, fmt.Sprintf("unknown frame type %d", frameType), nil)
	}
}

// readUnpackedFrame reads exactly one frame from a blocking reader,
// used only during the identify handshake (before the connection
// switches to non-blocking multiplexed reads).
func readUnpackedFrame(r io.Reader) (int32, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return -1, nil, err
	}
	size := int32(binary.BigEndian.Uint32(header[:4]))
	frameType := int32(binary.BigEndian.Uint32(header[4:8]))
	payload := make([]byte, size-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return -1, nil, err
	}
	return frameType, payload, nil
}
