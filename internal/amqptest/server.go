// Package amqptest runs scripted AMQP 0-9-1 brokers over loopback TCP for
// tests.
package amqptest

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Timeout bounds a whole script
const Timeout = 10 * time.Second

// Server accepts exactly one client and runs a script against it
type Server struct {
	ln     net.Listener
	g      *errgroup.Group
	cancel context.CancelFunc
}

// Serve listens on a loopback port and runs script on the broker side of
// the first connection. script runs on its own goroutine and reports
// failures through its return value.
func Serve(t testing.TB, script func(ctx context.Context, b *Broker) error) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer ln.Close()

		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		defer conn.Close()

		header := make([]byte, len(protocol.ProtocolHeader))
		if _, err := io.ReadFull(conn, header); err != nil {
			return errors.Wrap(err, "read protocol header")
		}
		if string(header) != protocol.ProtocolHeader {
			return errors.Errorf("bad protocol header %q", header)
		}

		b := &Broker{tr: frame.NewTransceiver(conn, frame.WithReadTimeout(5*time.Second))}
		return script(gctx, b)
	})

	return &Server{ln: ln, g: g, cancel: cancel}
}

// Addr returns the "host:port" clients dial
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Wait blocks until the script returned and reports its error
func (s *Server) Wait() error {
	defer s.cancel()
	return s.g.Wait()
}

// StartOk is what the client answered to Connection.Start
type StartOk struct {
	Properties protocol.Table
	Mechanism  string
	Response   []byte
	Locale     string
}

// TuneOk is what the client answered to Connection.Tune
type TuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// Broker is the server half of one scripted conversation
type Broker struct {
	tr *frame.Transceiver

	StartOk StartOk
	TuneOk  TuneOk
}

// Transceiver gives scripts direct frame access
func (b *Broker) Transceiver() *frame.Transceiver {
	return b.tr
}

// Send writes one method frame
func (b *Broker) Send(ch, classID, methodID uint16, encode func(*protocol.Writer) error) error {
	return b.tr.SendMethod(ch, classID, methodID, encode)
}

// SendContent sends a content header and body on ch
func (b *Broker) SendContent(ch uint16, props protocol.Properties, body []byte) error {
	return b.tr.SendContent(ch, protocol.ClassBasic, props, body)
}

// Expect reads the next method and checks its channel and id
func (b *Broker) Expect(ctx context.Context, ch, classID, methodID uint16) (*frame.Method, error) {
	want := protocol.ID(classID, methodID)

	f, err := b.tr.Receive(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "waiting for %s", want)
	}
	m, err := f.ParseMethod()
	if err != nil {
		return nil, errors.Wrapf(err, "waiting for %s", want)
	}
	if f.Channel != ch || m.ID != want {
		return nil, errors.Errorf("got %s on channel %d, want %s on channel %d", m.ID, f.Channel, want, ch)
	}
	return m, nil
}

// ExpectContent reads the content following a Basic.Publish
func (b *Broker) ExpectContent(ctx context.Context, ch uint16) (*frame.Content, error) {
	return b.tr.ReceiveContent(ctx, ch)
}

// Drain reads until the client hangs up
func (b *Broker) Drain(ctx context.Context) error {
	for {
		if _, err := b.tr.Receive(ctx); err != nil {
			return nil
		}
	}
}

// SendStart sends Connection.Start offering mechanisms
func (b *Broker) SendStart(mechanisms string) error {
	return b.Send(0, protocol.ClassConnection, protocol.MethodConnectionStart, func(w *protocol.Writer) error {
		_ = w.WriteOctet(protocol.ProtocolVersionMajor)
		_ = w.WriteOctet(protocol.ProtocolVersionMinor)
		_ = w.WriteTable(protocol.Table{
			"product": protocol.LongString("amqptest"),
			"capabilities": protocol.Table{
				"publisher_confirms": protocol.Boolean(true),
				"basic.nack":         protocol.Boolean(true),
			},
		})
		_ = w.WriteLongStr([]byte(mechanisms))
		return w.WriteLongStr([]byte("en_US"))
	})
}

// Handshake plays the server side up to Connection.Open-Ok, proposing the
// given tune values. The client's answers are kept in StartOk and TuneOk.
func (b *Broker) Handshake(ctx context.Context, mechanisms string, channelMax uint16, frameMax uint32, heartbeat uint16) error {
	if err := b.SendStart(mechanisms); err != nil {
		return err
	}

	m, err := b.Expect(ctx, 0, protocol.ClassConnection, protocol.MethodConnectionStartOk)
	if err != nil {
		return err
	}
	r := m.Reader()
	if b.StartOk.Properties, err = r.ReadTable(); err != nil {
		return err
	}
	if b.StartOk.Mechanism, err = r.ReadShortStr(); err != nil {
		return err
	}
	if b.StartOk.Response, err = r.ReadLongStr(); err != nil {
		return err
	}
	if b.StartOk.Locale, err = r.ReadShortStr(); err != nil {
		return err
	}

	if err := b.Send(0, protocol.ClassConnection, protocol.MethodConnectionTune, func(w *protocol.Writer) error {
		_ = w.WriteShort(channelMax)
		_ = w.WriteLong(frameMax)
		return w.WriteShort(heartbeat)
	}); err != nil {
		return err
	}

	m, err = b.Expect(ctx, 0, protocol.ClassConnection, protocol.MethodConnectionTuneOk)
	if err != nil {
		return err
	}
	r = m.Reader()
	if b.TuneOk.ChannelMax, err = r.ReadShort(); err != nil {
		return err
	}
	if b.TuneOk.FrameMax, err = r.ReadLong(); err != nil {
		return err
	}
	if b.TuneOk.Heartbeat, err = r.ReadShort(); err != nil {
		return err
	}
	b.tr.SetFrameMax(b.TuneOk.FrameMax)

	if _, err := b.Expect(ctx, 0, protocol.ClassConnection, protocol.MethodConnectionOpen); err != nil {
		return err
	}
	return b.Send(0, protocol.ClassConnection, protocol.MethodConnectionOpenOk, func(w *protocol.Writer) error {
		return w.WriteShortStr("")
	})
}

// Open plays a default handshake followed by Channel.Open for each of chs
func (b *Broker) Open(ctx context.Context, chs ...uint16) error {
	if err := b.Handshake(ctx, "PLAIN AMQPLAIN", 0, 131072, 0); err != nil {
		return err
	}
	for _, ch := range chs {
		if err := b.OpenChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// OpenChannel answers a Channel.Open on ch
func (b *Broker) OpenChannel(ctx context.Context, ch uint16) error {
	if _, err := b.Expect(ctx, ch, protocol.ClassChannel, protocol.MethodChannelOpen); err != nil {
		return err
	}
	return b.Send(ch, protocol.ClassChannel, protocol.MethodChannelOpenOk, func(w *protocol.Writer) error {
		return w.WriteLongStr(nil)
	})
}

// Reply expects a method on ch and answers it with reply
func (b *Broker) Reply(ctx context.Context, ch, classID, methodID, replyID uint16, encode func(*protocol.Writer) error) (*frame.Method, error) {
	m, err := b.Expect(ctx, ch, classID, methodID)
	if err != nil {
		return nil, err
	}
	return m, b.Send(ch, classID, replyID, encode)
}

// CloseConnection answers a client Connection.Close
func (b *Broker) CloseConnection(ctx context.Context) error {
	_, err := b.Reply(ctx, 0, protocol.ClassConnection, protocol.MethodConnectionClose, protocol.MethodConnectionCloseOk, nil)
	return err
}

// SendClose closes the connection (ch 0) or channel ch from the server side
func (b *Broker) SendClose(ch, code uint16, text string, classID, methodID uint16) error {
	class, method := uint16(protocol.ClassChannel), uint16(protocol.MethodChannelClose)
	if ch == 0 {
		class, method = protocol.ClassConnection, protocol.MethodConnectionClose
	}
	return b.Send(ch, class, method, func(w *protocol.Writer) error {
		_ = w.WriteShort(code)
		_ = w.WriteShortStr(text)
		_ = w.WriteShort(classID)
		return w.WriteShort(methodID)
	})
}

// SendDeliver pushes a Basic.Deliver with a text/plain body
func (b *Broker) SendDeliver(ch uint16, consumerTag string, tag uint64, routingKey string, body []byte) error {
	if err := b.Send(ch, protocol.ClassBasic, protocol.MethodBasicDeliver, func(w *protocol.Writer) error {
		_ = w.WriteShortStr(consumerTag)
		_ = w.WriteLongLong(tag)
		_ = w.WriteBits(false)
		_ = w.WriteShortStr("")
		return w.WriteShortStr(routingKey)
	}); err != nil {
		return err
	}
	return b.SendContent(ch, protocol.Properties{ContentType: "text/plain"}, body)
}
