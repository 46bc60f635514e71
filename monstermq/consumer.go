package monstermq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
)

// ConsumeOptions configures a consumer
type ConsumeOptions struct {
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      Table
}

// DeliveryHandlerFunc processes one delivery. Returning ErrStopConsuming
// ends ConsumeWithHandler cleanly; any other error is reported to the
// ErrorHandler and consuming continues.
type DeliveryHandlerFunc func(ctx context.Context, delivery *Delivery) error

// Consume starts a consumer on queue and returns its tag. An empty
// consumerTag gets a generated one. Deliveries are read with NextDelivery.
func (ch *Channel) Consume(ctx context.Context, queue, consumerTag string, opts ConsumeOptions) (string, error) {
	if consumerTag == "" {
		consumerTag = generateConsumerTag(queue, ch.id)
	}
	args, err := wireTable(opts.Args)
	if err != nil {
		return "", err
	}

	var tag string
	err = ch.call(func() (err error) {
		tag, err = ch.d.Basic.Consume(ctx, ch.id, dispatch.Consume{
			Queue:       queue,
			ConsumerTag: consumerTag,
			NoLocal:     opts.NoLocal,
			NoAck:       opts.AutoAck,
			Exclusive:   opts.Exclusive,
			NoWait:      opts.NoWait,
			Arguments:   args,
		})
		return err
	})
	return tag, err
}

// NextDelivery waits for the next message pushed to any consumer on this
// channel. Deliveries that arrived while another operation was waiting are
// returned first. The connection is held for the whole wait.
func (ch *Channel) NextDelivery(ctx context.Context) (*Delivery, error) {
	var d *dispatch.Delivery
	err := ch.call(func() (err error) {
		d, err = ch.d.Basic.Deliver(ctx, ch.id)
		return err
	})
	if err != nil {
		return nil, err
	}
	ch.conn.metrics.MessageConsumed(len(d.Body))
	return ch.delivery(d), nil
}

// BasicCancel stops a consumer
func (ch *Channel) BasicCancel(ctx context.Context, consumerTag string, noWait bool) error {
	return ch.call(func() error {
		return ch.d.Basic.Cancel(ctx, ch.id, consumerTag, noWait)
	})
}

// ConsumeWithHandler starts a consumer and feeds its deliveries to handler
// until the handler returns ErrStopConsuming or the channel fails. Unless
// opts.AutoAck is set, the handler acknowledges. The consumer is cancelled
// on a clean stop.
func (ch *Channel) ConsumeWithHandler(ctx context.Context, queue, consumerTag string, opts ConsumeOptions, handler DeliveryHandlerFunc) error {
	tag, err := ch.Consume(ctx, queue, consumerTag, opts)
	if err != nil {
		return err
	}

	for {
		d, err := ch.NextDelivery(ctx)
		if err != nil {
			return err
		}

		err = handler(ctx, d)
		if errors.Is(err, ErrStopConsuming) {
			return ch.BasicCancel(ctx, tag, false)
		}
		if err != nil {
			ch.conn.errs.HandleConsumerError(ch, tag, err)
		}
	}
}

// generateConsumerTag returns a unique tag for a consumer on queue
func generateConsumerTag(queue string, channelID uint16) string {
	if len(queue) > 64 {
		queue = queue[:64]
	}
	return fmt.Sprintf("ctag-%s-%d-%s", queue, channelID, uuid.NewString())
}
