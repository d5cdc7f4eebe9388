package returns_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
)

func TestCommit_ReturnToStock(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}

	res, err := f.committer(nil, obs).Commit(context.Background(), returns.CommitRequest{
		SaleID:    f.saleID,
		CommitKey: "c-1",
		ActorID:   "pharmacist-1",
		Items:     []returns.ItemConfiguration{item(f.paracetamol.ID, 3, returns.DispositionReturnToStock, "sealed, wrong strength")},
	})

	require.NoError(t, err)
	assert.Equal(t, "177.00", types.Display(res.TotalValue))
	assert.Equal(t, "RET-00001", res.ReturnNumber)
	assert.Equal(t, 1, res.ItemsCommitted)
	assert.Equal(t, int64(3), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(23), f.onHand(f.paracetamol.InventoryItemID))

	ledger, err := f.store.ListLedgerBySale(context.Background(), f.saleID)
	require.NoError(t, err)
	require.Len(t, ledger.Records, 1)
	rec := ledger.Records[0]
	assert.Equal(t, "177.00", types.Display(rec.Value))
	assert.Equal(t, "pharmacist-1", rec.ActorID)
	assert.Equal(t, res.LedgerIDs[0], rec.ID)

	require.Len(t, obs.successes, 1)
	assert.Empty(t, obs.failures)
}

func TestCommit_DisposeLeavesStockAlone(t *testing.T) {
	f := newFixture(t)

	res, err := f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "pharmacist-1",
		Items:   []returns.ItemConfiguration{item(f.amoxicillin.ID, 1, returns.DispositionDispose, "expired")},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, res.CommitKey)
	assert.Equal(t, "141.60", types.Display(res.TotalValue))
	assert.Equal(t, int64(1), f.returned(f.amoxicillin.ID))
	assert.Equal(t, int64(6), f.onHand(f.amoxicillin.InventoryItemID))
}

func TestCommit_ExhaustingRemainingThenRejecting(t *testing.T) {
	f := newFixture(t)
	c := f.committer(nil, nil)
	ctx := context.Background()

	_, err := c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1",
		Items: []returns.ItemConfiguration{item(f.paracetamol.ID, 3, returns.DispositionReturnToStock, "r")}})
	require.NoError(t, err)

	second, err := c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1",
		Items: []returns.ItemConfiguration{item(f.paracetamol.ID, 7, returns.DispositionReturnToStock, "r")}})
	require.NoError(t, err)
	assert.Equal(t, "RET-00002", second.ReturnNumber)
	assert.Equal(t, int64(10), f.returned(f.paracetamol.ID))

	_, err = c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1",
		Items: []returns.ItemConfiguration{item(f.paracetamol.ID, 1, returns.DispositionReturnToStock, "r")}})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Fields(), "items[0].quantity")

	assert.Equal(t, int64(10), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(30), f.onHand(f.paracetamol.InventoryItemID))
}

func TestCommit_Exchange(t *testing.T) {
	f := newFixture(t)
	cfg := item(f.paracetamol.ID, 2, returns.DispositionExchange, "patient allergic")
	cfg.Replacement = f.replacement()

	res, err := f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items:   []returns.ItemConfiguration{cfg},
	})

	require.NoError(t, err)
	assert.Equal(t, "-70.80", types.Display(res.TotalValue))
	assert.Equal(t, "70.80", types.Display(res.Totals.Charge))
	assert.Equal(t, int64(22), f.onHand(f.paracetamol.InventoryItemID))
	assert.Equal(t, int64(3), f.onHand(f.ibuprofen.ID))
	assert.Equal(t, int64(2), f.returned(f.paracetamol.ID))

	ledger, _ := f.store.ListLedgerBySale(context.Background(), f.saleID)
	assert.Empty(t, ledger.Records)
	require.Len(t, ledger.Links, 1)
	link := ledger.Links[0]
	assert.Equal(t, "70.80", types.Display(link.NetDelta))
	assert.Equal(t, f.ibuprofen.ID, link.ReplacementInventoryItemID)
	assert.Contains(t, res.Summary(), "customer pays 70.80")
}

func TestCommit_ExchangeStockGuard(t *testing.T) {
	f := newFixture(t)
	cfg := item(f.paracetamol.ID, 2, returns.DispositionExchange, "patient allergic")
	cfg.Replacement = f.replacement()

	// Sold out between configure and commit.
	_, err := f.store.AdjustInventoryQuantity(context.Background(), f.ibuprofen.ID, -5)
	require.NoError(t, err)

	_, err = f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items:   []returns.ItemConfiguration{cfg},
	})

	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.Equal(t, int64(0), f.onHand(f.ibuprofen.ID))
	assert.Equal(t, int64(20), f.onHand(f.paracetamol.InventoryItemID))
	assert.Equal(t, int64(0), f.returned(f.paracetamol.ID))
	ledger, _ := f.store.ListLedgerBySale(context.Background(), f.saleID)
	assert.True(t, ledger.Empty())
}

func TestCommit_ValidationRejectsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	noRepl := item(f.amoxicillin.ID, 1, returns.DispositionExchange, "wrong item")

	_, err := f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items: []returns.ItemConfiguration{
			item(f.paracetamol.ID, 2, returns.DispositionReturnToStock, "   "),
			noRepl,
			item(id.New(), 1, returns.DispositionDispose, "x"),
		},
	})

	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Fields(), "items[0].reason")
	assert.Contains(t, appErr.Fields(), "items[1].replacement")
	assert.Contains(t, appErr.Fields(), "items[2].line_item_id")

	assert.Equal(t, int64(0), f.returned(f.paracetamol.ID))
	ledger, _ := f.store.ListLedgerBySale(context.Background(), f.saleID)
	assert.True(t, ledger.Empty())
}

func TestCommit_RejectsZeroQuantityAndDuplicates(t *testing.T) {
	f := newFixture(t)

	_, err := f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items: []returns.ItemConfiguration{
			item(f.paracetamol.ID, 0, returns.DispositionReturnToStock, "r"),
			item(f.paracetamol.ID, 1, returns.DispositionReturnToStock, "r"),
		},
	})

	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Fields(), "items[0].quantity")
	assert.Contains(t, appErr.Fields(), "items[1].line_item_id")
}

func TestCommit_IdempotentUnderRetry(t *testing.T) {
	f := newFixture(t)
	c := f.committer(nil, nil)
	req := returns.CommitRequest{
		SaleID:    f.saleID,
		CommitKey: "retry-me",
		ActorID:   "p1",
		Items: []returns.ItemConfiguration{
			item(f.paracetamol.ID, 3, returns.DispositionReturnToStock, "r"),
			item(f.amoxicillin.ID, 1, returns.DispositionDispose, "r"),
		},
	}

	first, err := c.Commit(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Commit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ReturnNumber, second.ReturnNumber)
	assert.True(t, first.TotalValue.Equal(second.TotalValue))
	assert.ElementsMatch(t, first.LedgerIDs, second.LedgerIDs)
	for _, o := range second.Items {
		assert.True(t, o.AlreadyApplied)
	}

	assert.Equal(t, int64(3), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(1), f.returned(f.amoxicillin.ID))
	assert.Equal(t, int64(23), f.onHand(f.paracetamol.InventoryItemID))
	ledger, _ := f.store.ListLedgerBySale(context.Background(), f.saleID)
	assert.Len(t, ledger.Records, 2)
}

func TestCommit_ConcurrentCommitsConserveStock(t *testing.T) {
	f := newFixture(t)
	c := f.committer(nil, nil)

	const tills = 20
	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < tills; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Commit(context.Background(), returns.CommitRequest{
				SaleID:    f.saleID,
				CommitKey: fmt.Sprintf("till-%d", i),
				ActorID:   "p1",
				Items:     []returns.ItemConfiguration{item(f.paracetamol.ID, 1, returns.DispositionReturnToStock, "r")},
			})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.True(t, apperror.IsValidation(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	ledger, err := f.store.ListLedgerBySale(context.Background(), f.saleID)
	require.NoError(t, err)

	assert.Equal(t, f.paracetamol.QuantitySold, ok.Load())
	assert.Equal(t, f.paracetamol.QuantitySold, f.returned(f.paracetamol.ID))
	assert.Len(t, ledger.Records, int(ok.Load()))
	assert.Equal(t, 20+ok.Load(), f.onHand(f.paracetamol.InventoryItemID))
}

func TestCommit_NumberConsumedByFailedCommitIsNotReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.committer(nil, nil)

	_, err := f.store.AdjustInventoryQuantity(ctx, f.ibuprofen.ID, -5)
	require.NoError(t, err)
	exchange := item(f.paracetamol.ID, 1, returns.DispositionExchange, "allergy")
	exchange.Replacement = f.replacement()
	_, err = c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1",
		Items: []returns.ItemConfiguration{exchange}})
	require.True(t, apperror.IsInsufficientStock(err))

	res, err := c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1",
		Items: []returns.ItemConfiguration{item(f.paracetamol.ID, 1, returns.DispositionReturnToStock, "r")}})
	require.NoError(t, err)
	assert.Equal(t, "RET-00002", res.ReturnNumber)
}

func TestCommit_PartialFailureThenResume(t *testing.T) {
	f := newFixture(t)
	outage := errors.New("connection reset by peer")
	repo := &faultyRepo{
		Repository: f.store,
		adjust: func(itemID id.ID, delta int64) error {
			if itemID == f.paracetamol.InventoryItemID {
				return outage
			}
			return nil
		},
	}
	obs := &recordingObserver{}
	req := returns.CommitRequest{
		SaleID:    f.saleID,
		CommitKey: "flaky",
		ActorID:   "p1",
		Items: []returns.ItemConfiguration{
			item(f.amoxicillin.ID, 1, returns.DispositionDispose, "damaged"),
			item(f.paracetamol.ID, 2, returns.DispositionReturnToStock, "unopened"),
		},
	}

	_, err := f.committer(repo, obs).Commit(context.Background(), req)

	var pf *returns.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.True(t, apperror.HasCode(err, apperror.CodePartialFailure))
	assert.ErrorIs(t, err, outage)
	require.Len(t, pf.Committed, 1)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, f.amoxicillin.ID, pf.Committed[0].LineItemID)
	assert.Equal(t, f.paracetamol.ID, pf.Failed[0].LineItemID)
	assert.Equal(t, "141.60", types.Display(pf.CommittedValue()))
	assert.Contains(t, pf.Summary(), "1 of 2 items returned, 141.60 settled")
	assert.Equal(t, 3, repo.adjusts, "store failures are retried within the budget")
	require.Len(t, obs.failures, 1)

	// The failed line left no trace.
	assert.Equal(t, int64(0), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(20), f.onHand(f.paracetamol.InventoryItemID))

	// Store is back; the same key only applies what is missing.
	res, err := f.committer(nil, obs).Commit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, pf.ReturnNumber, res.ReturnNumber)
	assert.Equal(t, 2, res.ItemsCommitted)
	assert.Equal(t, int64(1), f.returned(f.amoxicillin.ID))
	assert.Equal(t, int64(2), f.returned(f.paracetamol.ID))
	assert.Equal(t, int64(22), f.onHand(f.paracetamol.InventoryItemID))
	assert.Equal(t, "259.60", types.Display(res.TotalValue))
}

func TestCommit_StoreOutageHaltsRemainingItems(t *testing.T) {
	f := newFixture(t)
	repo := &faultyRepo{
		Repository: f.store,
		increment: func(lineID id.ID) error {
			if lineID == f.amoxicillin.ID {
				return errors.New("i/o timeout")
			}
			return nil
		},
	}
	exchange := item(f.paracetamol.ID, 1, returns.DispositionExchange, "swap")
	exchange.Replacement = f.replacement()

	_, err := f.committer(repo, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items:   []returns.ItemConfiguration{exchange, item(f.amoxicillin.ID, 1, returns.DispositionDispose, "r")},
	})

	// Dispose runs first, fails on the store, and the exchange is never tried.
	require.Error(t, err)
	var pf *returns.PartialFailureError
	assert.False(t, errors.As(err, &pf))
	assert.Equal(t, int64(5), f.onHand(f.ibuprofen.ID))
	assert.Equal(t, int64(0), f.returned(f.paracetamol.ID))
}

func TestCommit_BusinessFailureDoesNotStopOtherItems(t *testing.T) {
	f := newFixture(t)
	exchange := item(f.paracetamol.ID, 2, returns.DispositionExchange, "swap")
	exchange.Replacement = f.replacement()
	_, err := f.store.AdjustInventoryQuantity(context.Background(), f.ibuprofen.ID, -4)
	require.NoError(t, err)

	_, err = f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID:  f.saleID,
		ActorID: "p1",
		Items:   []returns.ItemConfiguration{exchange, item(f.amoxicillin.ID, 2, returns.DispositionReturnToStock, "r")},
	})

	var pf *returns.PartialFailureError
	require.ErrorAs(t, err, &pf)
	require.Len(t, pf.Failed, 1)
	assert.True(t, apperror.IsInsufficientStock(pf.Failed[0].Err))
	assert.Equal(t, int64(8), f.onHand(f.amoxicillin.InventoryItemID))
	assert.Equal(t, int64(1), f.onHand(f.ibuprofen.ID))
	assert.Equal(t, int64(20), f.onHand(f.paracetamol.InventoryItemID))
}

func TestCommit_AuditCompleteness(t *testing.T) {
	f := newFixture(t)
	c := f.committer(nil, nil)
	ctx := context.Background()
	exchange := item(f.amoxicillin.ID, 1, returns.DispositionExchange, "swap")
	exchange.Replacement = f.replacement()

	_, err := c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p1", Items: []returns.ItemConfiguration{
		item(f.paracetamol.ID, 4, returns.DispositionReturnToStock, "r"),
		exchange,
	}})
	require.NoError(t, err)
	_, err = c.Commit(ctx, returns.CommitRequest{SaleID: f.saleID, ActorID: "p2", Items: []returns.ItemConfiguration{
		item(f.paracetamol.ID, 2, returns.DispositionDispose, "r"),
	}})
	require.NoError(t, err)

	ledger, err := f.store.ListLedgerBySale(ctx, f.saleID)
	require.NoError(t, err)

	// Rebuild every stock and returned-quantity movement from the ledger alone.
	stock := map[id.ID]int64{}
	returned := map[id.ID]int64{}
	for _, r := range ledger.Records {
		returned[r.LineItemID] += r.Quantity
		if r.Disposition == returns.DispositionReturnToStock {
			stock[r.InventoryItemID] += r.Quantity
		}
	}
	for _, k := range ledger.Links {
		returned[k.OriginalLineItemID] += k.Quantity
		stock[k.OriginalInventoryItemID] += k.Quantity
		stock[k.ReplacementInventoryItemID] -= k.Quantity
	}

	assert.Equal(t, int64(20)+stock[f.paracetamol.InventoryItemID], f.onHand(f.paracetamol.InventoryItemID))
	assert.Equal(t, int64(6)+stock[f.amoxicillin.InventoryItemID], f.onHand(f.amoxicillin.InventoryItemID))
	assert.Equal(t, int64(5)+stock[f.ibuprofen.ID], f.onHand(f.ibuprofen.ID))
	assert.Equal(t, returned[f.paracetamol.ID], f.returned(f.paracetamol.ID))
	assert.Equal(t, returned[f.amoxicillin.ID], f.returned(f.amoxicillin.ID))
}

func TestCommit_RequiresActor(t *testing.T) {
	f := newFixture(t)

	_, err := f.committer(nil, nil).Commit(context.Background(), returns.CommitRequest{
		SaleID: f.saleID,
		Items:  []returns.ItemConfiguration{item(f.paracetamol.ID, 1, returns.DispositionDispose, "r")},
	})

	assert.True(t, apperror.IsValidation(err))
}
