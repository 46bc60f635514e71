package frame

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Reader reads AMQP frames from a connection
type Reader struct {
	r        *protocol.Reader
	maxFrame uint32
	midFrame bool
}

// NewReader creates a new frame reader
func NewReader(r io.Reader, maxFrameSize uint32) *Reader {
	if maxFrameSize == 0 {
		maxFrameSize = protocol.FrameMinSize
	}

	return &Reader{
		r:        protocol.NewReader(bufio.NewReaderSize(r, protocol.FrameMinSize*2)),
		maxFrame: maxFrameSize,
	}
}

// ReadFrame reads a single frame. The declared payload plus the frame-end
// octet are pulled into the input buffer in one go, then consumed from it.
func (fr *Reader) ReadFrame() (*Frame, error) {
	fr.midFrame = false
	frameType, err := fr.r.ReadOctet()
	if err != nil {
		return nil, errors.Wrap(err, "read frame type")
	}
	fr.midFrame = true
	channel, err := fr.r.ReadShort()
	if err != nil {
		return nil, errors.Wrap(err, "read frame channel")
	}
	size, err := fr.r.ReadLong()
	if err != nil {
		return nil, errors.Wrap(err, "read frame size")
	}

	if frameType == protocol.ProtocolHeader[0] {
		return nil, fr.rejectedVersion(channel, size)
	}
	if !isValidFrameType(frameType) {
		return nil, protocol.NewProtocolError("invalid frame type: %d", frameType)
	}
	if frameType == protocol.FrameHeartbeat && (channel != 0 || size != 0) {
		return nil, protocol.NewProtocolError("heartbeat frame with channel %d size %d", channel, size)
	}
	if size > fr.maxFrame {
		return nil, protocol.NewProtocolError("frame payload too large: %d > %d", size, fr.maxFrame)
	}

	if err := fr.r.Buffer(size + protocol.FrameEndSize); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	defer fr.r.Unbuffer()

	payload := make([]byte, size)
	if _, err := fr.r.Read(payload); err != nil {
		return nil, err
	}

	frameEnd, err := fr.r.ReadOctet()
	if err != nil {
		return nil, err
	}
	if frameEnd != protocol.FrameEnd {
		return nil, protocol.NewProtocolError("invalid frame end marker on %s frame: 0x%02X (expected 0x%02X)",
			TypeName(frameType), frameEnd, protocol.FrameEnd)
	}

	fr.midFrame = false
	return &Frame{
		Type:    frameType,
		Channel: channel,
		Payload: payload,
	}, nil
}

// MidFrame reports whether the last ReadFrame failed after consuming part of
// a frame, leaving the stream unusable
func (fr *Reader) MidFrame() bool {
	return fr.midFrame
}

// rejectedVersion handles a server answering our protocol header with its
// own: "AMQP" 0 major minor revision. The first seven bytes have already
// been read as a frame header.
func (fr *Reader) rejectedVersion(channel uint16, size uint32) error {
	last, err := fr.r.ReadOctet()
	if err != nil {
		return errors.Wrap(err, "read protocol header")
	}
	header := []byte{
		protocol.ProtocolHeader[0],
		byte(channel >> 8), byte(channel),
		byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size),
		last,
	}
	if string(header[:4]) != protocol.ProtocolHeader[:4] {
		return protocol.NewProtocolError("invalid frame type: %d", header[0])
	}
	return &protocol.ConnectionError{
		Op:  "protocol negotiation",
		Err: errors.Errorf("server does not support AMQP 0-9-1, offers %d-%d-%d", header[5], header[6], header[7]),
	}
}

// SetMaxFrameSize updates the maximum frame size
func (fr *Reader) SetMaxFrameSize(size uint32) {
	if size > 0 {
		fr.maxFrame = size
	}
}

func isValidFrameType(frameType uint8) bool {
	switch frameType {
	case protocol.FrameMethod,
		protocol.FrameHeader,
		protocol.FrameBody,
		protocol.FrameHeartbeat:
		return true
	default:
		return false
	}
}
