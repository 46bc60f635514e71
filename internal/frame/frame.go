package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Frame represents an AMQP frame
type Frame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// Method represents a method frame payload
type Method struct {
	ID   protocol.MethodID
	Args []byte
}

// Header represents a content header frame payload
type Header struct {
	ClassID    uint16
	Weight     uint16
	BodySize   uint64
	Properties protocol.Properties
}

// Content is a reassembled message: its header followed by the
// concatenated body frames
type Content struct {
	ClassID    uint16
	Properties protocol.Properties
	Body       []byte
}

// NewMethodFrame creates a new method frame
func NewMethodFrame(channel uint16, classID, methodID uint16, args []byte) *Frame {
	payload := make([]byte, 4+len(args))
	binary.BigEndian.PutUint16(payload[0:2], classID)
	binary.BigEndian.PutUint16(payload[2:4], methodID)
	copy(payload[4:], args)

	return &Frame{
		Type:    protocol.FrameMethod,
		Channel: channel,
		Payload: payload,
	}
}

// NewHeaderFrame creates a new content header frame
func NewHeaderFrame(channel uint16, classID uint16, bodySize uint64, props protocol.Properties) (*Frame, error) {
	buf := new(bytes.Buffer)
	w := protocol.NewWriter(buf)
	_ = w.WriteShort(classID)
	_ = w.WriteShort(0) // weight, unused
	_ = w.WriteLongLong(bodySize)
	if err := w.WriteProperties(props); err != nil {
		return nil, err
	}

	return &Frame{
		Type:    protocol.FrameHeader,
		Channel: channel,
		Payload: buf.Bytes(),
	}, nil
}

// NewBodyFrame creates a new content body frame
func NewBodyFrame(channel uint16, data []byte) *Frame {
	return &Frame{
		Type:    protocol.FrameBody,
		Channel: channel,
		Payload: data,
	}
}

// NewHeartbeatFrame creates a new heartbeat frame
func NewHeartbeatFrame() *Frame {
	return &Frame{
		Type:    protocol.FrameHeartbeat,
		Channel: 0,
		Payload: []byte{},
	}
}

// ParseMethod parses a method frame payload
func (f *Frame) ParseMethod() (*Method, error) {
	if f.Type != protocol.FrameMethod {
		return nil, protocol.NewProtocolError("expected method frame, got %s", TypeName(f.Type))
	}

	if len(f.Payload) < 4 {
		return nil, protocol.NewProtocolError("method frame payload too short: %d", len(f.Payload))
	}

	return &Method{
		ID: protocol.ID(
			binary.BigEndian.Uint16(f.Payload[0:2]),
			binary.BigEndian.Uint16(f.Payload[2:4]),
		),
		Args: f.Payload[4:],
	}, nil
}

// Reader returns a buffered protocol reader over the method arguments
func (m *Method) Reader() *protocol.Reader {
	return protocol.NewBytesReader(m.Args)
}

// ParseHeader parses a content header frame payload
func (f *Frame) ParseHeader() (*Header, error) {
	if f.Type != protocol.FrameHeader {
		return nil, protocol.NewProtocolError("expected content header frame, got %s", TypeName(f.Type))
	}

	if len(f.Payload) < 14 {
		return nil, protocol.NewProtocolError("content header payload too short: %d", len(f.Payload))
	}

	r := protocol.NewBytesReader(f.Payload[12:])
	props, err := r.ReadProperties()
	if err != nil {
		return nil, err
	}

	return &Header{
		ClassID:    binary.BigEndian.Uint16(f.Payload[0:2]),
		Weight:     binary.BigEndian.Uint16(f.Payload[2:4]),
		BodySize:   binary.BigEndian.Uint64(f.Payload[4:12]),
		Properties: props,
	}, nil
}

// TypeName returns the name of a frame type
func TypeName(t uint8) string {
	switch t {
	case protocol.FrameMethod:
		return "METHOD"
	case protocol.FrameHeader:
		return "HEADER"
	case protocol.FrameBody:
		return "BODY"
	case protocol.FrameHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{type=%s, channel=%d, size=%d}", TypeName(f.Type), f.Channel, len(f.Payload))
}
