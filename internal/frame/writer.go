package frame

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Writer writes AMQP frames to a connection. Every exported method writes
// whole frames and flushes once, holding the mutex for the duration.
type Writer struct {
	dst      io.Writer
	bw       *bufio.Writer
	w        *protocol.Writer
	mu       sync.Mutex
	maxFrame uint32
}

// NewWriter creates a new frame writer
func NewWriter(w io.Writer, maxFrameSize uint32) *Writer {
	if maxFrameSize == 0 {
		maxFrameSize = protocol.FrameMinSize
	}

	bw := bufio.NewWriterSize(w, protocol.FrameMinSize*2)
	return &Writer{
		dst:      w,
		bw:       bw,
		w:        protocol.NewWriter(bw),
		maxFrame: maxFrameSize,
	}
}

// WriteFrame writes a single, already assembled frame
func (fw *Writer) WriteFrame(frame *Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if uint32(len(frame.Payload)) > fw.maxFrame {
		return protocol.NewProtocolError("frame payload too large: %d > %d", len(frame.Payload), fw.maxFrame)
	}

	if err := fw.writeFrame(frame.Type, frame.Channel, frame.Payload); err != nil {
		return err
	}
	return fw.flush()
}

// WriteMethod writes a method frame. The arguments are encoded with
// buffering enabled so the payload length can precede them. Nothing is sent
// when encode fails.
func (fw *Writer) WriteMethod(channel, classID, methodID uint16, encode func(*protocol.Writer) error) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := fw.writeMethod(channel, classID, methodID, encode); err != nil {
		return err
	}
	return fw.flush()
}

// WriteMethodContent writes a method frame followed by its content header and
// body frames without letting other writers interleave.
func (fw *Writer) WriteMethodContent(channel, classID, methodID uint16, encode func(*protocol.Writer) error,
	props protocol.Properties, body []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	header, err := NewHeaderFrame(channel, classID, uint64(len(body)), props)
	if err != nil {
		return err
	}

	if err := fw.writeMethod(channel, classID, methodID, encode); err != nil {
		return err
	}
	if err := fw.writeContent(header, body); err != nil {
		return err
	}
	return fw.flush()
}

// WriteContent writes a content header frame and the body split into frames
// of at most maxFrame-8 bytes. An empty body produces no body frames.
func (fw *Writer) WriteContent(channel, classID uint16, props protocol.Properties, body []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	header, err := NewHeaderFrame(channel, classID, uint64(len(body)), props)
	if err != nil {
		return err
	}
	if err := fw.writeContent(header, body); err != nil {
		return err
	}
	return fw.flush()
}

// WriteHeartbeat writes a heartbeat frame
func (fw *Writer) WriteHeartbeat() error {
	return fw.WriteFrame(NewHeartbeatFrame())
}

// WriteProtocolHeader writes the AMQP protocol header
func (fw *Writer) WriteProtocolHeader() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.bw.WriteString(protocol.ProtocolHeader); err != nil {
		return errors.Wrap(err, "write protocol header")
	}
	return fw.flush()
}

// SetMaxFrameSize updates the maximum frame size
func (fw *Writer) SetMaxFrameSize(size uint32) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if size > 0 {
		fw.maxFrame = size
	}
}

// ChunkSize returns the largest body slice carried by one body frame
func (fw *Writer) ChunkSize() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	return fw.chunkSize()
}

func (fw *Writer) chunkSize() int {
	return int(fw.maxFrame) - protocol.FrameHeaderSize - protocol.FrameEndSize
}

func (fw *Writer) writeMethod(channel, classID, methodID uint16, encode func(*protocol.Writer) error) error {
	if err := fw.w.EnableBuffering(); err != nil {
		return err
	}
	_ = fw.w.WriteShort(classID)
	_ = fw.w.WriteShort(methodID)
	if encode != nil {
		if err := encode(fw.w); err != nil {
			fw.w.DisableBuffering()
			return err
		}
	}
	payload := fw.w.DisableBuffering()

	return fw.writeFrame(protocol.FrameMethod, channel, payload)
}

func (fw *Writer) writeContent(header *Frame, body []byte) error {
	if err := fw.writeFrame(header.Type, header.Channel, header.Payload); err != nil {
		return err
	}

	chunk := fw.chunkSize()
	for len(body) > 0 {
		n := len(body)
		if n > chunk {
			n = chunk
		}
		if err := fw.writeFrame(protocol.FrameBody, header.Channel, body[:n]); err != nil {
			return err
		}
		body = body[n:]
	}
	return nil
}

func (fw *Writer) writeFrame(frameType uint8, channel uint16, payload []byte) error {
	_ = fw.w.WriteOctet(frameType)
	_ = fw.w.WriteShort(channel)
	_ = fw.w.WriteLong(uint32(len(payload)))
	if _, err := fw.w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	if err := fw.w.WriteOctet(protocol.FrameEnd); err != nil {
		return errors.Wrap(err, "write frame end")
	}
	return nil
}

func (fw *Writer) flush() error {
	if err := fw.bw.Flush(); err != nil {
		fw.bw.Reset(fw.dst)
		return errors.Wrap(err, "flush frame")
	}
	return nil
}
