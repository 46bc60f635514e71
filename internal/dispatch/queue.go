package dispatch

import (
	"context"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// QueueDeclare holds the Queue.Declare arguments. An empty Name asks the
// server to generate one.
type QueueDeclare struct {
	Name       string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  protocol.Table
}

// DeclareOk is the server's answer to Queue.Declare
type DeclareOk struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

// Queue dispatches methods of the queue class
type Queue struct {
	*Core
}

func (Queue) ClassID() uint16 { return protocol.ClassQueue }
func (Queue) Name() string    { return "queue" }

// Declare creates a queue or, with Passive, checks that it exists. With
// NoWait the returned DeclareOk only carries the requested name.
func (q Queue) Declare(ctx context.Context, ch uint16, d QueueDeclare) (*DeclareOk, error) {
	encode := func(w *protocol.Writer) error {
		_ = w.WriteShort(0)
		if err := w.WriteShortStr(d.Name); err != nil {
			return err
		}
		_ = w.WriteBits(d.Passive, d.Durable, d.Exclusive, d.AutoDelete, d.NoWait)
		return w.WriteTable(d.Arguments)
	}

	if d.NoWait {
		if err := q.send(ch, protocol.ClassQueue, protocol.MethodQueueDeclare, encode); err != nil {
			return nil, err
		}
		return &DeclareOk{Queue: d.Name}, nil
	}

	m, err := q.call(ctx, ch, protocol.ClassQueue, protocol.MethodQueueDeclare, encode,
		protocol.ID(protocol.ClassQueue, protocol.MethodQueueDeclareOk))
	if err != nil {
		return nil, err
	}

	r := m.Reader()
	ok := &DeclareOk{}
	if ok.Queue, err = r.ReadShortStr(); err != nil {
		return nil, err
	}
	if ok.MessageCount, err = r.ReadLong(); err != nil {
		return nil, err
	}
	if ok.ConsumerCount, err = r.ReadLong(); err != nil {
		return nil, err
	}
	return ok, nil
}

// Bind binds queue b.Destination to exchange b.Source
func (q Queue) Bind(ctx context.Context, ch uint16, b Binding) error {
	encode := func(w *protocol.Writer) error {
		if err := encodeQueueBinding(w, b); err != nil {
			return err
		}
		_ = w.WriteBits(b.NoWait)
		return w.WriteTable(b.Arguments)
	}

	if b.NoWait {
		return q.send(ch, protocol.ClassQueue, protocol.MethodQueueBind, encode)
	}
	_, err := q.call(ctx, ch, protocol.ClassQueue, protocol.MethodQueueBind, encode,
		protocol.ID(protocol.ClassQueue, protocol.MethodQueueBindOk))
	return err
}

// Unbind removes a queue binding. The method has no no-wait form, so
// b.NoWait is ignored.
func (q Queue) Unbind(ctx context.Context, ch uint16, b Binding) error {
	_, err := q.call(ctx, ch, protocol.ClassQueue, protocol.MethodQueueUnbind, func(w *protocol.Writer) error {
		if err := encodeQueueBinding(w, b); err != nil {
			return err
		}
		return w.WriteTable(b.Arguments)
	}, protocol.ID(protocol.ClassQueue, protocol.MethodQueueUnbindOk))
	return err
}

// Purge removes all ready messages from a queue and returns how many were
// removed. With noWait the count is always zero.
func (q Queue) Purge(ctx context.Context, ch uint16, name string, noWait bool) (uint32, error) {
	return q.countReply(ctx, ch, protocol.MethodQueuePurge, protocol.MethodQueuePurgeOk, noWait,
		func(w *protocol.Writer) error {
			_ = w.WriteShort(0)
			if err := w.WriteShortStr(name); err != nil {
				return err
			}
			return w.WriteBits(noWait)
		})
}

// Delete removes a queue and returns the number of messages it held
func (q Queue) Delete(ctx context.Context, ch uint16, name string, ifUnused, ifEmpty, noWait bool) (uint32, error) {
	return q.countReply(ctx, ch, protocol.MethodQueueDelete, protocol.MethodQueueDeleteOk, noWait,
		func(w *protocol.Writer) error {
			_ = w.WriteShort(0)
			if err := w.WriteShortStr(name); err != nil {
				return err
			}
			return w.WriteBits(ifUnused, ifEmpty, noWait)
		})
}

func (q Queue) countReply(ctx context.Context, ch, methodID, replyID uint16, noWait bool,
	encode func(*protocol.Writer) error) (uint32, error) {
	if noWait {
		return 0, q.send(ch, protocol.ClassQueue, methodID, encode)
	}
	m, err := q.call(ctx, ch, protocol.ClassQueue, methodID, encode, protocol.ID(protocol.ClassQueue, replyID))
	if err != nil {
		return 0, err
	}
	return m.Reader().ReadLong()
}

func encodeQueueBinding(w *protocol.Writer, b Binding) error {
	_ = w.WriteShort(0)
	if err := w.WriteShortStr(b.Destination); err != nil {
		return err
	}
	if err := w.WriteShortStr(b.Source); err != nil {
		return err
	}
	return w.WriteShortStr(b.RoutingKey)
}
