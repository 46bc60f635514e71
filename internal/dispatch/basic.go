package dispatch

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// ErrNoDelivery is returned by AckLast, NackLast and RejectLast when no
// message has been received on the channel yet
var ErrNoDelivery = errors.New("no delivery received on channel")

// Delivery is a message pushed by Basic.Deliver or fetched with Basic.Get
type Delivery struct {
	Channel      uint16
	ConsumerTag  string
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32 // Basic.Get only

	Properties protocol.Properties
	Body       []byte
}

// Return is an undeliverable mandatory or immediate message sent back by
// the server
type Return struct {
	Channel    uint16
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string

	Properties protocol.Properties
	Body       []byte
}

// Publishing is a message to publish
type Publishing struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
	Properties protocol.Properties
	Body       []byte
}

// Consume holds the Basic.Consume arguments. An empty ConsumerTag asks the
// server to generate one.
type Consume struct {
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   protocol.Table
}

// Basic dispatches methods of the basic class
type Basic struct {
	*Core
}

func (Basic) ClassID() uint16 { return protocol.ClassBasic }
func (Basic) Name() string    { return "basic" }

// Qos sets the prefetch window of the channel, or of the whole connection
// when global is set
func (b Basic) Qos(ctx context.Context, ch uint16, prefetchSize uint32, prefetchCount uint16, global bool) error {
	_, err := b.call(ctx, ch, protocol.ClassBasic, protocol.MethodBasicQos, func(w *protocol.Writer) error {
		_ = w.WriteLong(prefetchSize)
		_ = w.WriteShort(prefetchCount)
		return w.WriteBits(global)
	}, protocol.ID(protocol.ClassBasic, protocol.MethodBasicQosOk))
	return err
}

// Consume starts a consumer and returns its tag
func (b Basic) Consume(ctx context.Context, ch uint16, c Consume) (string, error) {
	encode := func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(c.Queue); err != nil {
			return err
		}
		if err := w.WriteShortStr(c.ConsumerTag); err != nil {
			return err
		}
		_ = w.WriteBits(c.NoLocal, c.NoAck, c.Exclusive, c.NoWait)
		return w.WriteTable(c.Arguments)
	}

	if c.NoWait {
		if c.ConsumerTag == "" {
			return "", &protocol.EncodingError{Op: "basic.consume", Reason: "no-wait requires a consumer tag"}
		}
		return c.ConsumerTag, b.send(ch, protocol.ClassBasic, protocol.MethodBasicConsume, encode)
	}

	m, err := b.call(ctx, ch, protocol.ClassBasic, protocol.MethodBasicConsume, encode,
		protocol.ID(protocol.ClassBasic, protocol.MethodBasicConsumeOk))
	if err != nil {
		return "", err
	}
	return m.Reader().ReadShortStr()
}

// Cancel stops a consumer. Deliveries already queued for the channel stay
// queued.
func (b Basic) Cancel(ctx context.Context, ch uint16, consumerTag string, noWait bool) error {
	encode := func(w *protocol.Writer) error {
		if err := w.WriteShortStr(consumerTag); err != nil {
			return err
		}
		return w.WriteBits(noWait)
	}
	if noWait {
		return b.send(ch, protocol.ClassBasic, protocol.MethodBasicCancel, encode)
	}
	_, err := b.call(ctx, ch, protocol.ClassBasic, protocol.MethodBasicCancel, encode,
		protocol.ID(protocol.ClassBasic, protocol.MethodBasicCancelOk))
	return err
}

// Publish sends Basic.Publish with its content header and body frames
func (b Basic) Publish(ch uint16, p Publishing) error {
	if b.state.Phase() == PhaseClosed {
		return ErrClosed
	}
	if b.state.IsSuspended(ch) {
		b.logger.Debug("publishing on a flow-suspended channel", zap.Uint16("channel", ch))
	}

	err := b.t.SendMethodContent(ch, protocol.ClassBasic, protocol.MethodBasicPublish, func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(p.Exchange); err != nil {
			return err
		}
		if err := w.WriteShortStr(p.RoutingKey); err != nil {
			return err
		}
		return w.WriteBits(p.Mandatory, p.Immediate)
	}, p.Properties, p.Body)
	return b.check(err)
}

// Deliver returns the next Basic.Deliver on ch, either one queued while
// another call was waiting or the next one read from the connection
func (b Basic) Deliver(ctx context.Context, ch uint16) (*Delivery, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if d := b.popPending(ch); d != nil {
		b.remember(ch, d.DeliveryTag)
		return d, nil
	}

	m, err := b.await(ctx, ch, protocol.ID(protocol.ClassBasic, protocol.MethodBasicDeliver))
	if err != nil {
		return nil, err
	}
	d, err := b.readDelivery(ctx, ch, m)
	if err != nil {
		return nil, b.check(err)
	}
	b.remember(ch, d.DeliveryTag)
	return d, nil
}

// Get fetches one message from a queue. ok is false when the queue is
// empty.
func (b Basic) Get(ctx context.Context, ch uint16, queue string, noAck bool) (d *Delivery, ok bool, err error) {
	if err := b.acquire(ctx); err != nil {
		return nil, false, err
	}
	defer b.release()

	if err := b.send(ch, protocol.ClassBasic, protocol.MethodBasicGet, func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(queue); err != nil {
			return err
		}
		return w.WriteBits(noAck)
	}); err != nil {
		return nil, false, err
	}

	getOk := protocol.ID(protocol.ClassBasic, protocol.MethodBasicGetOk)
	getEmpty := protocol.ID(protocol.ClassBasic, protocol.MethodBasicGetEmpty)

	m, err := b.await(ctx, ch, getOk, getEmpty)
	if err != nil {
		return nil, false, err
	}
	if m.ID != getOk && m.ID != getEmpty {
		return nil, false, b.check(protocol.UnexpectedMethod(getOk, m.ID))
	}
	if m.ID == getEmpty {
		return nil, false, nil
	}

	r := m.Reader()
	d = &Delivery{Channel: ch}
	if d.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return nil, false, b.check(err)
	}
	if d.Redelivered, err = r.ReadBool(); err != nil {
		return nil, false, b.check(err)
	}
	if d.Exchange, err = r.ReadShortStr(); err != nil {
		return nil, false, b.check(err)
	}
	if d.RoutingKey, err = r.ReadShortStr(); err != nil {
		return nil, false, b.check(err)
	}
	if d.MessageCount, err = r.ReadLong(); err != nil {
		return nil, false, b.check(err)
	}

	content, err := b.t.ReceiveContent(ctx, ch)
	if err != nil {
		return nil, false, b.check(err)
	}
	d.Properties = content.Properties
	d.Body = content.Body

	b.remember(ch, d.DeliveryTag)
	return d, true, nil
}

// Ack acknowledges one delivery, or every delivery up to tag with multiple
func (b Basic) Ack(ch uint16, tag uint64, multiple bool) error {
	return b.send(ch, protocol.ClassBasic, protocol.MethodBasicAck, func(w *protocol.Writer) error {
		_ = w.WriteLongLong(tag)
		return w.WriteBits(multiple)
	})
}

// Nack rejects one or more deliveries
func (b Basic) Nack(ch uint16, tag uint64, multiple, requeue bool) error {
	return b.send(ch, protocol.ClassBasic, protocol.MethodBasicNack, func(w *protocol.Writer) error {
		_ = w.WriteLongLong(tag)
		return w.WriteBits(multiple, requeue)
	})
}

// Reject rejects one delivery
func (b Basic) Reject(ch uint16, tag uint64, requeue bool) error {
	return b.send(ch, protocol.ClassBasic, protocol.MethodBasicReject, func(w *protocol.Writer) error {
		_ = w.WriteLongLong(tag)
		return w.WriteBits(requeue)
	})
}

// AckLast acknowledges the most recent delivery on ch
func (b Basic) AckLast(ch uint16, multiple bool) error {
	tag, err := b.last(ch)
	if err != nil {
		return err
	}
	return b.Ack(ch, tag, multiple)
}

// NackLast rejects the most recent delivery on ch
func (b Basic) NackLast(ch uint16, multiple, requeue bool) error {
	tag, err := b.last(ch)
	if err != nil {
		return err
	}
	return b.Nack(ch, tag, multiple, requeue)
}

// RejectLast rejects the most recent delivery on ch
func (b Basic) RejectLast(ch uint16, requeue bool) error {
	tag, err := b.last(ch)
	if err != nil {
		return err
	}
	return b.Reject(ch, tag, requeue)
}

func (b Basic) last(ch uint16) (uint64, error) {
	tag, ok := b.LastDeliveryTag(ch)
	if !ok {
		return 0, errors.Wrapf(ErrNoDelivery, "channel %d", ch)
	}
	return tag, nil
}

// Recover asks the server to redeliver all unacknowledged messages on ch
func (b Basic) Recover(ctx context.Context, ch uint16, requeue bool) error {
	_, err := b.call(ctx, ch, protocol.ClassBasic, protocol.MethodBasicRecover, func(w *protocol.Writer) error {
		return w.WriteBits(requeue)
	}, protocol.ID(protocol.ClassBasic, protocol.MethodBasicRecoverOk))
	return err
}

// RecoverAsync is the deprecated form of Recover without a reply
func (b Basic) RecoverAsync(ch uint16, requeue bool) error {
	return b.send(ch, protocol.ClassBasic, protocol.MethodBasicRecoverAsync, func(w *protocol.Writer) error {
		return w.WriteBits(requeue)
	})
}
