package returns_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/storage/memory"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to returns.State
		ok       bool
	}{
		{returns.StateSelect, returns.StateConfigure, true},
		{returns.StateSelect, returns.StatePreview, false},
		{returns.StateConfigure, returns.StatePreview, true},
		{returns.StatePreview, returns.StateConfirm, true},
		{returns.StateConfirm, returns.StateCommitted, true},
		{returns.StatePreview, returns.StateCommitted, false},
		{returns.StateConfirm, returns.StateCancelled, true},
		{returns.StateCommitted, returns.StateCancelled, false},
		{returns.StateCancelled, returns.StateSelect, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, returns.StateCommitted.IsTerminal())
	assert.True(t, returns.StateCancelled.IsTerminal())
	assert.False(t, returns.StateConfirm.IsTerminal())
}

func TestSession_PreviewCommitEquivalence(t *testing.T) {
	s := memory.New()
	item := returns.InventoryItem{ID: id.New(), Name: "Cough syrup", OnHandQuantity: 1, UnitCost: types.MustMoney("41.17")}
	other := returns.InventoryItem{ID: id.New(), Name: "Cough syrup SF", OnHandQuantity: 9, UnitCost: types.MustMoney("47.333")}
	s.PutInventory(item, other)
	saleID := id.New()
	line := returns.SaleLineItem{ID: id.New(), InventoryItemID: item.ID, QuantitySold: 7, UnitPrice: types.MustMoney("33.333")}
	line2 := returns.SaleLineItem{ID: id.New(), InventoryItemID: other.ID, QuantitySold: 3, UnitPrice: types.MustMoney("19.99")}
	s.PutSale(memory.Sale{ID: saleID, GSTPercent: types.MustMoney("12.5"), Lines: []returns.SaleLineItem{line, line2}})

	cat, err := returns.NewCatalogLoader(s, s).Load(context.Background(), saleID)
	require.NoError(t, err)
	obs := &recordingObserver{}
	committer := returns.NewCommitter(s, memory.NewTxManager(s), numeratorFor(s), obs, testOptions())
	sess := returns.NewSession(cat, committer, obs, "p1", 1)

	repl, _ := s.Inventory(other.ID)
	_, err = sess.Configure(line.ID, returns.ConfigureInput{Quantity: 3, Disposition: returns.DispositionExchange, Reason: "sugar free", Replacement: &repl})
	require.NoError(t, err)
	_, err = sess.Configure(line2.ID, returns.ConfigureInput{Quantity: 2, Disposition: returns.DispositionReturnToStock, Reason: "duplicate"})
	require.NoError(t, err)

	preview, err := sess.Preview(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())
	res, err := sess.Commit(context.Background(), "eq-1")
	require.NoError(t, err)

	assert.True(t, preview.Total.Equal(res.TotalValue), "preview %s, commit %s", preview.Total, res.TotalValue)
	assert.Equal(t, returns.StateCommitted, sess.State())
	assert.Same(t, res, sess.Result())
	assert.Len(t, obs.previews, 1)
	assert.Len(t, obs.successes, 1)
}

func TestSession_Flow(t *testing.T) {
	f := newFixture(t)
	sess := returns.NewSession(f.catalog(t), f.committer(nil, nil), nil, "p1", 1)
	ctx := context.Background()

	assert.Equal(t, returns.StateSelect, sess.State())

	_, err := sess.Commit(ctx, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))
	assert.Error(t, sess.Confirm())

	require.NoError(t, sess.Select(f.paracetamol.ID))
	assert.Equal(t, returns.StateConfigure, sess.State())

	_, err = sess.Preview(ctx)
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, returns.StateConfigure, sess.State())

	_, err = sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	_, err = sess.Preview(ctx)
	require.NoError(t, err)
	assert.Equal(t, returns.StatePreview, sess.State())

	// Editing from preview drops back to configure.
	_, err = sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 2, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	assert.Equal(t, returns.StateConfigure, sess.State())

	_, err = sess.Preview(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())

	_, err = sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 3, Disposition: returns.DispositionDispose, Reason: "r"})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	require.NoError(t, sess.Back())
	assert.Equal(t, returns.StatePreview, sess.State())
	require.NoError(t, sess.Confirm())

	res, err := sess.Commit(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsCommitted)
	assert.Equal(t, int64(2), f.returned(f.paracetamol.ID))

	assert.Error(t, sess.Cancel())
}

func TestSession_DeselectLastGoesBackToSelect(t *testing.T) {
	f := newFixture(t)
	sess := returns.NewSession(f.catalog(t), nil, nil, "p1", 1)

	require.NoError(t, sess.Select(f.paracetamol.ID))
	require.NoError(t, sess.Deselect(f.paracetamol.ID))

	assert.Equal(t, returns.StateSelect, sess.State())
}

func TestSession_CancelWritesNothing(t *testing.T) {
	f := newFixture(t)
	sess := returns.NewSession(f.catalog(t), f.committer(nil, nil), nil, "p1", 1)
	_, err := sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionReturnToStock, Reason: "r"})
	require.NoError(t, err)
	_, err = sess.Preview(context.Background())
	require.NoError(t, err)

	require.NoError(t, sess.Cancel())

	assert.Equal(t, returns.StateCancelled, sess.State())
	assert.Error(t, sess.Select(f.amoxicillin.ID))
	assert.Equal(t, int64(0), f.returned(f.paracetamol.ID))
}

func TestSession_FailedCommitStaysInConfirm(t *testing.T) {
	f := newFixture(t)
	repo := &faultyRepo{
		Repository: f.store,
		increment:  func(id.ID) error { return errors.New("connection refused") },
	}
	sess := returns.NewSession(f.catalog(t), f.committer(repo, nil), nil, "p1", 1)
	_, err := sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	_, err = sess.Preview(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())

	_, err = sess.Commit(context.Background(), "k")

	require.Error(t, err)
	assert.Equal(t, returns.StateConfirm, sess.State())
	assert.Nil(t, sess.Result())
}

func TestSession_RetryAfterPartialFailureWritesEachLineOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := returns.NewSession(f.catalog(t), f.committer(nil, nil), nil, "p1", 1)

	_, err := sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 3, Disposition: returns.DispositionReturnToStock, Reason: "unopened"})
	require.NoError(t, err)
	_, err = sess.Configure(f.amoxicillin.ID, returns.ConfigureInput{Quantity: 4, Disposition: returns.DispositionExchange, Reason: "allergy", Replacement: f.replacement()})
	require.NoError(t, err)
	_, err = sess.Preview(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())

	// Another till sells out the replacement between confirm and commit.
	_, err = f.store.AdjustInventoryQuantity(ctx, f.ibuprofen.ID, -5)
	require.NoError(t, err)

	_, err = sess.Commit(ctx, "")
	var pf *returns.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Len(t, pf.Committed, 1)
	assert.Equal(t, returns.StateConfirm, sess.State())

	_, err = f.store.AdjustInventoryQuantity(ctx, f.ibuprofen.ID, 5)
	require.NoError(t, err)

	res, err := sess.Commit(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsCommitted)
	assert.Equal(t, pf.ReturnNumber, res.ReturnNumber)
	assert.Equal(t, sess.CommitKey(), res.CommitKey)

	ledger, err := f.store.ListLedgerBySale(ctx, f.saleID)
	require.NoError(t, err)
	assert.Len(t, ledger.Records, 1)
	assert.Len(t, ledger.Links, 1)
	assert.Equal(t, int64(3), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(23), f.onHand(f.paracetamol.ID))
	assert.Equal(t, int64(4), f.returned(f.amoxicillin.ID))
	assert.Equal(t, int64(1), f.onHand(f.ibuprofen.ID))
}

func TestSession_RetryRejectsDifferentKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &faultyRepo{
		Repository: f.store,
		increment:  func(id.ID) error { return errors.New("connection refused") },
	}
	sess := returns.NewSession(f.catalog(t), f.committer(repo, nil), nil, "p1", 1)
	_, err := sess.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	_, err = sess.Preview(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())

	_, err = sess.Commit(ctx, "till-7")
	require.Error(t, err)
	assert.Equal(t, "till-7", sess.CommitKey())

	_, err = sess.Commit(ctx, "till-8")
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, returns.StateConfirm, sess.State())
}
