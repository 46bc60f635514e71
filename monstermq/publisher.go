package monstermq

import (
	"context"
)

// Confirmation is a publisher confirm. DeliveryTag counts publishes on the
// channel from 1 after ConfirmSelect; Multiple covers every tag up to it.
type Confirmation struct {
	DeliveryTag uint64
	Ack         bool
	Multiple    bool
}

// ConfirmSelect puts the channel in confirm mode. Confirms arrive while
// other operations read the connection and are sent to NotifyPublish
// listeners.
func (ch *Channel) ConfirmSelect(ctx context.Context, noWait bool) error {
	err := ch.call(func() error {
		return ch.d.Confirm.Select(ctx, ch.id, noWait)
	})
	if err != nil {
		return err
	}

	ch.mu.Lock()
	if !ch.confirming {
		ch.confirming = true
		ch.nextSeq = 0
	}
	ch.mu.Unlock()
	return nil
}

// GetNextPublishSeqNo returns the delivery tag the next publish will be
// confirmed with, or zero outside confirm mode
func (ch *Channel) GetNextPublishSeqNo() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.confirming {
		return 0
	}
	return ch.nextSeq + 1
}

// NotifyPublish registers a listener for publisher confirms. Use a buffered
// channel: confirms that do not fit are dropped.
func (ch *Channel) NotifyPublish(c chan Confirmation) chan Confirmation {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		close(c)
		return c
	}
	ch.confirmChans = append(ch.confirmChans, c)
	return c
}
