package monstermq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
)

// Channel is an AMQP channel on a Connection
type Channel struct {
	conn *Connection
	d    *dispatch.Dispatchers
	id   uint16

	closed atomic.Bool

	mu           sync.Mutex
	closeChans   []chan error
	flowChans    []chan bool
	returnChans  []chan Return
	confirmChans []chan Confirmation
	cancelChans  []chan string

	// publisher confirms
	confirming bool
	nextSeq    uint64
}

func newChannel(conn *Connection, id uint16) *Channel {
	return &Channel{conn: conn, d: conn.d, id: id}
}

// ID returns the channel number
func (ch *Channel) ID() uint16 {
	return ch.id
}

// IsClosed returns true if the channel is closed
func (ch *Channel) IsClosed() bool {
	return ch.closed.Load()
}

// Publish sends a message. It does not wait for anything from the server;
// use ConfirmSelect and NotifyPublish to learn about the outcome.
func (ch *Channel) Publish(exchange, routingKey string, mandatory, immediate bool, msg Publishing) error {
	if ch.closed.Load() {
		return ErrChannelClosed
	}

	props, err := msg.Properties.wire()
	if err != nil {
		return err
	}

	// Held across the send so sequence numbers follow wire order.
	ch.mu.Lock()
	err = ch.d.Basic.Publish(ch.id, dispatch.Publishing{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Mandatory:  mandatory,
		Immediate:  immediate,
		Properties: props,
		Body:       msg.Body,
	})
	if err == nil && ch.confirming {
		ch.nextSeq++
	}
	ch.mu.Unlock()

	if err != nil {
		return ch.conn.finish(err)
	}
	ch.conn.metrics.MessagePublished(len(msg.Body))
	return nil
}

// Qos limits unacknowledged deliveries by count and by size in bytes. Zero
// means no limit.
func (ch *Channel) Qos(ctx context.Context, prefetchCount, prefetchSize int, global bool) error {
	if prefetchCount < 0 || prefetchCount > math.MaxUint16 {
		return &EncodingError{Op: "qos", Reason: fmt.Sprintf("prefetch count %d out of range", prefetchCount)}
	}
	if prefetchSize < 0 || prefetchSize > math.MaxUint32 {
		return &EncodingError{Op: "qos", Reason: fmt.Sprintf("prefetch size %d out of range", prefetchSize)}
	}
	return ch.call(func() error {
		return ch.d.Basic.Qos(ctx, ch.id, uint32(prefetchSize), uint16(prefetchCount), global)
	})
}

// BasicGet fetches one message. ok is false when the queue is empty.
func (ch *Channel) BasicGet(ctx context.Context, queue string, autoAck bool) (*Delivery, bool, error) {
	var (
		d  *dispatch.Delivery
		ok bool
	)
	err := ch.call(func() (err error) {
		d, ok, err = ch.d.Basic.Get(ctx, ch.id, queue, autoAck)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	ch.conn.metrics.MessageConsumed(len(d.Body))
	return ch.delivery(d), true, nil
}

// BasicAck acknowledges one delivery, or all up to deliveryTag with multiple
func (ch *Channel) BasicAck(deliveryTag uint64, multiple bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.Ack(ch.id, deliveryTag, multiple)
	})
	if err == nil {
		ch.conn.metrics.MessageAcked()
	}
	return err
}

// BasicNack negatively acknowledges one or more deliveries
func (ch *Channel) BasicNack(deliveryTag uint64, multiple, requeue bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.Nack(ch.id, deliveryTag, multiple, requeue)
	})
	if err == nil {
		ch.conn.metrics.MessageNacked()
	}
	return err
}

// BasicReject rejects one delivery
func (ch *Channel) BasicReject(deliveryTag uint64, requeue bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.Reject(ch.id, deliveryTag, requeue)
	})
	if err == nil {
		ch.conn.metrics.MessageRejected()
	}
	return err
}

// AckLast acknowledges the most recent delivery received on the channel.
// It returns ErrNoDelivery before the first one.
func (ch *Channel) AckLast(multiple bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.AckLast(ch.id, multiple)
	})
	if err == nil {
		ch.conn.metrics.MessageAcked()
	}
	return err
}

// NackLast negatively acknowledges the most recent delivery
func (ch *Channel) NackLast(multiple, requeue bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.NackLast(ch.id, multiple, requeue)
	})
	if err == nil {
		ch.conn.metrics.MessageNacked()
	}
	return err
}

// RejectLast rejects the most recent delivery
func (ch *Channel) RejectLast(requeue bool) error {
	err := ch.call(func() error {
		return ch.d.Basic.RejectLast(ch.id, requeue)
	})
	if err == nil {
		ch.conn.metrics.MessageRejected()
	}
	return err
}

// Recover asks the server to redeliver unacknowledged messages
func (ch *Channel) Recover(ctx context.Context, requeue bool) error {
	return ch.call(func() error {
		return ch.d.Basic.Recover(ctx, ch.id, requeue)
	})
}

// RecoverAsync is Recover without waiting for Recover-Ok
func (ch *Channel) RecoverAsync(requeue bool) error {
	return ch.call(func() error {
		return ch.d.Basic.RecoverAsync(ch.id, requeue)
	})
}

// Flow asks the server to pause (false) or resume (true) deliveries on the
// channel and returns the state the server confirmed
func (ch *Channel) Flow(ctx context.Context, active bool) (bool, error) {
	var confirmed bool
	err := ch.call(func() (err error) {
		confirmed, err = ch.d.Channel.Flow(ctx, ch.id, active)
		return err
	})
	return confirmed, err
}

// Close closes the channel with reply code 200
func (ch *Channel) Close(ctx context.Context) error {
	return ch.CloseWithCode(ctx, ReplySuccess, "")
}

// CloseWithCode sends Channel.Close and waits for Close-Ok. The channel is
// closed locally either way.
func (ch *Channel) CloseWithCode(ctx context.Context, code int, text string) error {
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	if code < 0 || code > math.MaxUint16 {
		return &EncodingError{Op: "channel close", Reason: fmt.Sprintf("reply code %d out of range", code)}
	}

	err := ch.d.Channel.Close(ctx, ch.id, dispatch.CloseReason{Code: uint16(code), Text: text})
	ch.shutdown(nil)
	return ch.conn.finish(err)
}

// call runs a dispatcher operation on an open channel
func (ch *Channel) call(fn func() error) error {
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	return ch.conn.finish(fn())
}

// shutdown closes the channel locally and releases its number
func (ch *Channel) shutdown(cause error) {
	if !ch.closed.CompareAndSwap(false, true) {
		return
	}
	ch.conn.forget(ch.id)
	ch.conn.metrics.ChannelClosed()

	ch.mu.Lock()
	closeChans := ch.closeChans
	flowChans, returnChans := ch.flowChans, ch.returnChans
	confirmChans, cancelChans := ch.confirmChans, ch.cancelChans
	ch.closeChans, ch.flowChans, ch.returnChans = nil, nil, nil
	ch.confirmChans, ch.cancelChans = nil, nil
	ch.mu.Unlock()

	for _, n := range closeChans {
		if cause != nil {
			select {
			case n <- cause:
			default:
			}
		}
		close(n)
	}
	for _, n := range flowChans {
		close(n)
	}
	for _, n := range returnChans {
		close(n)
	}
	for _, n := range confirmChans {
		close(n)
	}
	for _, n := range cancelChans {
		close(n)
	}
}

// dispatchEvent handles an unsolicited event for this channel. It runs on
// the goroutine reading the connection and never blocks.
func (ch *Channel) dispatchEvent(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventChannelClosed:
		ch.conn.metrics.ChannelError(ev.Close)
		ch.conn.errs.HandleChannelError(ch, ev.Close)
		ch.shutdown(ev.Close)

	case dispatch.EventFlow:
		ch.conn.metrics.FlowChanged(ev.Active)
		ch.mu.Lock()
		for _, n := range ch.flowChans {
			select {
			case n <- ev.Active:
			default:
				ch.dropped(ev)
			}
		}
		ch.mu.Unlock()

	case dispatch.EventReturn:
		ch.conn.metrics.MessageReturned()
		ret := returnFrom(ev.Return)
		ch.mu.Lock()
		for _, n := range ch.returnChans {
			select {
			case n <- ret:
			default:
				ch.dropped(ev)
			}
		}
		ch.mu.Unlock()

	case dispatch.EventAck, dispatch.EventNack:
		ack := ev.Kind == dispatch.EventAck
		ch.conn.metrics.ConfirmReceived(ack)
		c := Confirmation{DeliveryTag: ev.DeliveryTag, Ack: ack, Multiple: ev.Multiple}
		ch.mu.Lock()
		for _, n := range ch.confirmChans {
			select {
			case n <- c:
			default:
				ch.dropped(ev)
			}
		}
		ch.mu.Unlock()

	case dispatch.EventCancel:
		ch.mu.Lock()
		for _, n := range ch.cancelChans {
			select {
			case n <- ev.ConsumerTag:
			default:
				ch.dropped(ev)
			}
		}
		ch.mu.Unlock()
	}
}

func (ch *Channel) dropped(ev dispatch.Event) {
	ch.conn.logger.Warn("notification dropped, listener is full",
		zap.Stringer("event", ev.Kind),
		zap.Uint16("channel", ch.id))
}

// NotifyClose registers a listener for the channel closing. A server close
// sends its *SessionError before the channel is closed. Use a buffered
// channel: sends never block.
func (ch *Channel) NotifyClose(c chan error) chan error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		close(c)
		return c
	}
	ch.closeChans = append(ch.closeChans, c)
	return c
}

// NotifyFlow registers a listener for server Channel.Flow requests
func (ch *Channel) NotifyFlow(c chan bool) chan bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		close(c)
		return c
	}
	ch.flowChans = append(ch.flowChans, c)
	return c
}

// NotifyReturn registers a listener for returned messages
func (ch *Channel) NotifyReturn(c chan Return) chan Return {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		close(c)
		return c
	}
	ch.returnChans = append(ch.returnChans, c)
	return c
}

// NotifyCancel registers a listener for consumers cancelled by the server,
// for example when their queue is deleted
func (ch *Channel) NotifyCancel(c chan string) chan string {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		close(c)
		return c
	}
	ch.cancelChans = append(ch.cancelChans, c)
	return c
}
