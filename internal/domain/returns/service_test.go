package returns_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
)

func (f *fixture) service() *returns.Service {
	return returns.NewService(f.store, f.store, f.committer(nil, nil), nil, testOptions())
}

func operator(userID string) context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: userID})
}

func TestService_PreviewClampsAndWarns(t *testing.T) {
	f := newFixture(t)

	p, warnings, err := f.service().Preview(context.Background(), f.saleID, []returns.ItemRequest{
		{LineItemID: f.amoxicillin.ID, Quantity: 9, Disposition: returns.DispositionDispose, Reason: "recalled batch"},
	})

	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(4), warnings[0].Applied)
	assert.Equal(t, int64(4), p.Items[0].Quantity)
	assert.Equal(t, "566.40", types.Display(p.Total))
}

func TestService_PreviewReportsItemField(t *testing.T) {
	f := newFixture(t)
	missing := id.New()

	_, _, err := f.service().Preview(context.Background(), f.saleID, []returns.ItemRequest{
		{LineItemID: f.amoxicillin.ID, Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"},
		{LineItemID: f.paracetamol.ID, Quantity: 1, Disposition: returns.DispositionExchange, Reason: "r", ReplacementItemID: &missing},
	})

	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Fields(), "items[1].replacement")
}

func TestService_CommitAndLedger(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := operator("pharmacist-9")
	replID := f.ibuprofen.ID
	reqs := []returns.ItemRequest{
		{LineItemID: f.paracetamol.ID, Quantity: 2, Disposition: returns.DispositionExchange, Reason: "allergy", ReplacementItemID: &replID},
		{LineItemID: f.amoxicillin.ID, Quantity: 1, Disposition: returns.DispositionReturnToStock, Reason: "unopened"},
	}

	res, _, err := svc.Commit(ctx, f.saleID, "pos-1", reqs)
	require.NoError(t, err)
	assert.Equal(t, "RET-00001", res.ReturnNumber)

	// Resending the full request after success is a no-op.
	again, _, err := svc.Commit(ctx, f.saleID, "pos-1", reqs)
	require.NoError(t, err)
	assert.Equal(t, res.ReturnNumber, again.ReturnNumber)
	assert.True(t, res.TotalValue.Equal(again.TotalValue))
	assert.Equal(t, int64(3), f.onHand(f.ibuprofen.ID))

	ledger, err := svc.Ledger(ctx, f.saleID)
	require.NoError(t, err)
	assert.Len(t, ledger.Records, 1)
	assert.Len(t, ledger.Links, 1)
	assert.Equal(t, "pharmacist-9", ledger.Links[0].ActorID)
}

func TestService_CommitNeedsOperator(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service().Commit(context.Background(), f.saleID, "", []returns.ItemRequest{
		{LineItemID: f.amoxicillin.ID, Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"},
	})

	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))
}

func TestService_LedgerUnknownSale(t *testing.T) {
	f := newFixture(t)

	_, err := f.service().Ledger(context.Background(), id.New())

	assert.True(t, apperror.IsNotFound(err))
}

func TestService_NewSessionUsesOperator(t *testing.T) {
	f := newFixture(t)

	sess, err := f.service().NewSession(operator("p7"), f.saleID)
	require.NoError(t, err)
	_, err = sess.Configure(f.amoxicillin.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	_, err = sess.Preview(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Confirm())
	_, err = sess.Commit(context.Background(), "")
	require.NoError(t, err)

	ledger, _ := f.store.ListLedgerBySale(context.Background(), f.saleID)
	require.Len(t, ledger.Records, 1)
	assert.Equal(t, "p7", ledger.Records[0].ActorID)
}
