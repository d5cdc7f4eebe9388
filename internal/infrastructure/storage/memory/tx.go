package memory

import (
	"context"

	"pharmapos/internal/core/tx"
)

type txKey struct{}

// memTx collects compensations for writes made inside a transaction.
type memTx struct {
	undo []func()
}

// undo registers fn to run if the surrounding transaction rolls back.
// Must be called with the store's write lock held.
func undo(ctx context.Context, fn func()) {
	if t, ok := ctx.Value(txKey{}).(*memTx); ok {
		t.undo = append(t.undo, fn)
	}
}

// TxManager runs transactions against a Store. Transactions are serialized,
// so a transaction never observes another one's uncommitted writes.
type TxManager struct {
	store *Store
}

// NewTxManager returns a transaction manager for s.
func NewTxManager(s *Store) *TxManager {
	return &TxManager{store: s}
}

// RunInTransaction implements tx.Manager.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}

	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()

	t := &memTx{}
	defer func() {
		if p := recover(); p != nil {
			m.rollback(t)
			panic(p)
		}
		if err != nil {
			m.rollback(t)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, t))
}

// ReadOnly implements tx.ReadOnlyManager.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *TxManager) rollback(t *memTx) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

var _ tx.ReadOnlyManager = (*TxManager)(nil)
