package dispatch

import (
	"context"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Confirm dispatches methods of the confirm class. Once selected, the
// broker's Basic.Ack and Basic.Nack arrive at the event sink.
type Confirm struct {
	*Core
}

func (Confirm) ClassID() uint16 { return protocol.ClassConfirm }
func (Confirm) Name() string    { return "confirm" }

// Select enables publisher confirms on ch
func (c Confirm) Select(ctx context.Context, ch uint16, noWait bool) error {
	encode := func(w *protocol.Writer) error {
		return w.WriteBits(noWait)
	}
	if noWait {
		return c.send(ch, protocol.ClassConfirm, protocol.MethodConfirmSelect, encode)
	}
	_, err := c.call(ctx, ch, protocol.ClassConfirm, protocol.MethodConfirmSelect, encode,
		protocol.ID(protocol.ClassConfirm, protocol.MethodConfirmSelectOk))
	return err
}
