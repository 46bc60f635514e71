package dispatch

import (
	"context"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// ExchangeDeclare holds the Exchange.Declare arguments
type ExchangeDeclare struct {
	Name       string
	Kind       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  protocol.Table
}

// Binding holds the arguments of the bind and unbind methods of both the
// exchange and the queue class. For exchange bindings Source and
// Destination are exchanges, for queue bindings Destination is the queue.
type Binding struct {
	Destination string
	Source      string
	RoutingKey  string
	NoWait      bool
	Arguments   protocol.Table
}

// Exchange dispatches methods of the exchange class
type Exchange struct {
	*Core
}

func (Exchange) ClassID() uint16 { return protocol.ClassExchange }
func (Exchange) Name() string    { return "exchange" }

// Declare creates an exchange or, with Passive, checks that it exists
func (e Exchange) Declare(ctx context.Context, ch uint16, d ExchangeDeclare) error {
	if d.Kind == "" {
		d.Kind = protocol.ExchangeTypeDirect
	}
	encode := func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(d.Name); err != nil {
			return err
		}
		if err := w.WriteShortStr(d.Kind); err != nil {
			return err
		}
		_ = w.WriteBits(d.Passive, d.Durable, d.AutoDelete, d.Internal, d.NoWait)
		return w.WriteTable(d.Arguments)
	}
	return e.request(ctx, ch, protocol.MethodExchangeDeclare, encode, d.NoWait, protocol.MethodExchangeDeclareOk)
}

// Delete removes an exchange
func (e Exchange) Delete(ctx context.Context, ch uint16, name string, ifUnused, noWait bool) error {
	encode := func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(name); err != nil {
			return err
		}
		return w.WriteBits(ifUnused, noWait)
	}
	return e.request(ctx, ch, protocol.MethodExchangeDelete, encode, noWait, protocol.MethodExchangeDeleteOk)
}

// Bind routes messages from b.Source to the exchange b.Destination
func (e Exchange) Bind(ctx context.Context, ch uint16, b Binding) error {
	return e.request(ctx, ch, protocol.MethodExchangeBind, encodeExchangeBinding(b), b.NoWait, protocol.MethodExchangeBindOk)
}

// Unbind removes an exchange to exchange binding
func (e Exchange) Unbind(ctx context.Context, ch uint16, b Binding) error {
	return e.request(ctx, ch, protocol.MethodExchangeUnbind, encodeExchangeBinding(b), b.NoWait, protocol.MethodExchangeUnbindOk)
}

func (e Exchange) request(ctx context.Context, ch, methodID uint16, encode func(*protocol.Writer) error,
	noWait bool, replyID uint16) error {
	if noWait {
		return e.send(ch, protocol.ClassExchange, methodID, encode)
	}
	_, err := e.call(ctx, ch, protocol.ClassExchange, methodID, encode, protocol.ID(protocol.ClassExchange, replyID))
	return err
}

func encodeExchangeBinding(b Binding) func(*protocol.Writer) error {
	return func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(b.Destination); err != nil {
			return err
		}
		if err := w.WriteShortStr(b.Source); err != nil {
			return err
		}
		if err := w.WriteShortStr(b.RoutingKey); err != nil {
			return err
		}
		_ = w.WriteBits(b.NoWait)
		return w.WriteTable(b.Arguments)
	}
}
