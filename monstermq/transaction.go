package monstermq

import (
	"context"
)

// TxSelect puts the channel in transactional mode
func (ch *Channel) TxSelect(ctx context.Context) error {
	return ch.call(func() error {
		return ch.d.Tx.Select(ctx, ch.id)
	})
}

// TxCommit commits the current transaction
func (ch *Channel) TxCommit(ctx context.Context) error {
	return ch.call(func() error {
		return ch.d.Tx.Commit(ctx, ch.id)
	})
}

// TxRollback abandons the current transaction
func (ch *Channel) TxRollback(ctx context.Context) error {
	return ch.call(func() error {
		return ch.d.Tx.Rollback(ctx, ch.id)
	})
}
