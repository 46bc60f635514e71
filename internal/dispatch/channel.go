package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// CloseReason is sent with Channel.Close. ClassID and MethodID name the
// method that caused the close, if any.
type CloseReason struct {
	Code     uint16
	Text     string
	ClassID  uint16
	MethodID uint16
}

// Channel dispatches methods of the channel class
type Channel struct {
	*Core
}

func (Channel) ClassID() uint16 { return protocol.ClassChannel }
func (Channel) Name() string    { return "channel" }

// Open opens channel ch and records it as opened
func (c Channel) Open(ctx context.Context, ch uint16) error {
	if err := c.checkNumber(ch); err != nil {
		return err
	}

	if _, err := c.call(ctx, ch, protocol.ClassChannel, protocol.MethodChannelOpen, func(w *protocol.Writer) error {
		return w.WriteShortStr("")
	}, protocol.ID(protocol.ClassChannel, protocol.MethodChannelOpenOk)); err != nil {
		return err
	}

	c.state.MarkOpened(ch)
	c.logger.Debug("channel opened", zap.Uint16("channel", ch))
	return nil
}

// Close closes channel ch. The channel moves to the closed set on Close-Ok,
// or when the server closes it first.
func (c Channel) Close(ctx context.Context, ch uint16, reason CloseReason) error {
	if reason.Code == 0 {
		reason.Code = protocol.ReplySuccess
	}

	_, err := c.call(ctx, ch, protocol.ClassChannel, protocol.MethodChannelClose, func(w *protocol.Writer) error {
		_ = w.WriteShort(reason.Code)
		if err := w.WriteShortStr(truncate(reason.Text, 255)); err != nil {
			return err
		}
		_ = w.WriteShort(reason.ClassID)
		return w.WriteShort(reason.MethodID)
	}, protocol.ID(protocol.ClassChannel, protocol.MethodChannelCloseOk))
	if err != nil {
		return err
	}

	c.state.MarkClosed(ch)
	c.forget(ch)
	c.logger.Debug("channel closed", zap.Uint16("channel", ch), zap.Uint16("code", reason.Code))
	return nil
}

// Flow asks the server to pause (active false) or restart deliveries on ch
// and returns the state it confirmed
func (c Channel) Flow(ctx context.Context, ch uint16, active bool) (bool, error) {
	m, err := c.call(ctx, ch, protocol.ClassChannel, protocol.MethodChannelFlow, func(w *protocol.Writer) error {
		return w.WriteBits(active)
	}, protocol.ID(protocol.ClassChannel, protocol.MethodChannelFlowOk))
	if err != nil {
		return false, err
	}
	return m.Reader().ReadBool()
}

func (c Channel) checkNumber(ch uint16) error {
	limit := uint16(DefaultChannelMax)
	if s := c.Session(); s != nil && s.ChannelMax != 0 {
		limit = s.ChannelMax
	}
	if ch == 0 || ch > limit {
		return &protocol.EncodingError{
			Op:     "channel.open",
			Reason: fmt.Sprintf("channel %d outside 1..%d", ch, limit),
		}
	}
	return nil
}
