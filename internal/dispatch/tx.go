package dispatch

import (
	"context"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Tx dispatches methods of the tx class
type Tx struct {
	*Core
}

func (Tx) ClassID() uint16 { return protocol.ClassTx }
func (Tx) Name() string    { return "tx" }

// Select puts channel ch in transactional mode
func (t Tx) Select(ctx context.Context, ch uint16) error {
	return t.request(ctx, ch, protocol.MethodTxSelect, protocol.MethodTxSelectOk)
}

// Commit commits the current transaction
func (t Tx) Commit(ctx context.Context, ch uint16) error {
	return t.request(ctx, ch, protocol.MethodTxCommit, protocol.MethodTxCommitOk)
}

// Rollback abandons the current transaction
func (t Tx) Rollback(ctx context.Context, ch uint16) error {
	return t.request(ctx, ch, protocol.MethodTxRollback, protocol.MethodTxRollbackOk)
}

func (t Tx) request(ctx context.Context, ch, methodID, replyID uint16) error {
	_, err := t.call(ctx, ch, protocol.ClassTx, methodID, nil, protocol.ID(protocol.ClassTx, replyID))
	return err
}
