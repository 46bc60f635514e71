package monstermq

import (
	"context"

	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
)

// Exchange kinds
const (
	ExchangeDirect  = "direct"
	ExchangeFanout  = "fanout"
	ExchangeTopic   = "topic"
	ExchangeHeaders = "headers"
)

// ExchangeDeclareOptions configures exchange declaration
type ExchangeDeclareOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       Table
}

// ExchangeDeleteOptions configures exchange deletion
type ExchangeDeleteOptions struct {
	IfUnused bool
	NoWait   bool
}

// QueueDeclareOptions configures queue declaration
type QueueDeclareOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       Table
}

// QueueDeleteOptions configures queue deletion
type QueueDeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

// ExchangeDeclare declares an exchange
func (ch *Channel) ExchangeDeclare(ctx context.Context, name, kind string, opts ExchangeDeclareOptions) error {
	args, err := wireTable(opts.Args)
	if err != nil {
		return err
	}
	return ch.call(func() error {
		return ch.d.Exchange.Declare(ctx, ch.id, dispatch.ExchangeDeclare{
			Name:       name,
			Kind:       kind,
			Durable:    opts.Durable,
			AutoDelete: opts.AutoDelete,
			Internal:   opts.Internal,
			NoWait:     opts.NoWait,
			Arguments:  args,
		})
	})
}

// ExchangeDeclarePassive checks that an exchange exists. A missing exchange
// closes the channel with 404.
func (ch *Channel) ExchangeDeclarePassive(ctx context.Context, name, kind string) error {
	return ch.call(func() error {
		return ch.d.Exchange.Declare(ctx, ch.id, dispatch.ExchangeDeclare{
			Name:    name,
			Kind:    kind,
			Passive: true,
		})
	})
}

// ExchangeDelete deletes an exchange
func (ch *Channel) ExchangeDelete(ctx context.Context, name string, opts ExchangeDeleteOptions) error {
	return ch.call(func() error {
		return ch.d.Exchange.Delete(ctx, ch.id, name, opts.IfUnused, opts.NoWait)
	})
}

// ExchangeBind routes messages from source to destination
func (ch *Channel) ExchangeBind(ctx context.Context, destination, source, routingKey string, args Table) error {
	b, err := binding(destination, source, routingKey, args)
	if err != nil {
		return err
	}
	return ch.call(func() error {
		return ch.d.Exchange.Bind(ctx, ch.id, b)
	})
}

// ExchangeUnbind removes an exchange-to-exchange binding
func (ch *Channel) ExchangeUnbind(ctx context.Context, destination, source, routingKey string, args Table) error {
	b, err := binding(destination, source, routingKey, args)
	if err != nil {
		return err
	}
	return ch.call(func() error {
		return ch.d.Exchange.Unbind(ctx, ch.id, b)
	})
}

// QueueDeclare declares a queue. An empty name asks the server to generate
// one, returned in Queue.Name. With NoWait only the requested name is
// returned.
func (ch *Channel) QueueDeclare(ctx context.Context, name string, opts QueueDeclareOptions) (Queue, error) {
	args, err := wireTable(opts.Args)
	if err != nil {
		return Queue{}, err
	}
	return ch.queueDeclare(ctx, dispatch.QueueDeclare{
		Name:       name,
		Durable:    opts.Durable,
		AutoDelete: opts.AutoDelete,
		Exclusive:  opts.Exclusive,
		NoWait:     opts.NoWait,
		Arguments:  args,
	})
}

// QueueDeclarePassive checks that a queue exists and returns its counts
func (ch *Channel) QueueDeclarePassive(ctx context.Context, name string) (Queue, error) {
	return ch.queueDeclare(ctx, dispatch.QueueDeclare{Name: name, Passive: true})
}

func (ch *Channel) queueDeclare(ctx context.Context, d dispatch.QueueDeclare) (Queue, error) {
	var ok *dispatch.DeclareOk
	err := ch.call(func() (err error) {
		ok, err = ch.d.Queue.Declare(ctx, ch.id, d)
		return err
	})
	if err != nil {
		return Queue{}, err
	}
	return Queue{
		Name:      ok.Queue,
		Messages:  int(ok.MessageCount),
		Consumers: int(ok.ConsumerCount),
	}, nil
}

// QueueDelete deletes a queue and returns how many messages it held
func (ch *Channel) QueueDelete(ctx context.Context, name string, opts QueueDeleteOptions) (int, error) {
	var n uint32
	err := ch.call(func() (err error) {
		n, err = ch.d.Queue.Delete(ctx, ch.id, name, opts.IfUnused, opts.IfEmpty, opts.NoWait)
		return err
	})
	return int(n), err
}

// QueueBind binds a queue to an exchange
func (ch *Channel) QueueBind(ctx context.Context, name, exchange, routingKey string, args Table) error {
	b, err := binding(name, exchange, routingKey, args)
	if err != nil {
		return err
	}
	return ch.call(func() error {
		return ch.d.Queue.Bind(ctx, ch.id, b)
	})
}

// QueueUnbind removes a queue binding
func (ch *Channel) QueueUnbind(ctx context.Context, name, exchange, routingKey string, args Table) error {
	b, err := binding(name, exchange, routingKey, args)
	if err != nil {
		return err
	}
	return ch.call(func() error {
		return ch.d.Queue.Unbind(ctx, ch.id, b)
	})
}

// QueuePurge removes all ready messages and returns how many there were
func (ch *Channel) QueuePurge(ctx context.Context, name string, noWait bool) (int, error) {
	var n uint32
	err := ch.call(func() (err error) {
		n, err = ch.d.Queue.Purge(ctx, ch.id, name, noWait)
		return err
	})
	return int(n), err
}

func binding(destination, source, routingKey string, args Table) (dispatch.Binding, error) {
	t, err := wireTable(args)
	if err != nil {
		return dispatch.Binding{}, err
	}
	return dispatch.Binding{
		Destination: destination,
		Source:      source,
		RoutingKey:  routingKey,
		Arguments:   t,
	}, nil
}
