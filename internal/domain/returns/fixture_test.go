package returns_test

import (
	"context"
	"sync"
	"testing"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/retry"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/storage/memory"
	pkgnumerator "pharmapos/pkg/numerator"
)

// fixture is a sale with two lines over an in-memory store:
//
//	paracetamol: 10 sold at 50.00, 20 on hand
//	amoxicillin: 4 sold at 120.00, 6 on hand
//
// plus an unsold replacement (ibuprofen, cost 80.00, 5 on hand). GST is 18%.
type fixture struct {
	store       *memory.Store
	txm         *memory.TxManager
	saleID      id.ID
	paracetamol returns.SaleLineItem
	amoxicillin returns.SaleLineItem
	ibuprofen   returns.InventoryItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()

	para := returns.InventoryItem{ID: id.New(), Name: "Paracetamol 500mg", OnHandQuantity: 20, UnitCost: types.MustMoney("35")}
	amox := returns.InventoryItem{ID: id.New(), Name: "Amoxicillin 250mg", OnHandQuantity: 6, UnitCost: types.MustMoney("90")}
	ibu := returns.InventoryItem{ID: id.New(), Name: "Ibuprofen 400mg", OnHandQuantity: 5, UnitCost: types.MustMoney("80")}
	s.PutInventory(para, amox, ibu)

	saleID := id.New()
	paraLine := returns.SaleLineItem{ID: id.New(), InventoryItemID: para.ID, QuantitySold: 10, UnitPrice: types.MustMoney("50")}
	amoxLine := returns.SaleLineItem{ID: id.New(), InventoryItemID: amox.ID, QuantitySold: 4, UnitPrice: types.MustMoney("120")}
	s.PutSale(memory.Sale{
		ID:         saleID,
		GSTPercent: types.MustMoney("18"),
		Lines:      []returns.SaleLineItem{paraLine, amoxLine},
	})

	paraLine, _ = s.Line(paraLine.ID)
	amoxLine, _ = s.Line(amoxLine.ID)

	return &fixture{
		store:       s,
		txm:         memory.NewTxManager(s),
		saleID:      saleID,
		paracetamol: paraLine,
		amoxicillin: amoxLine,
		ibuprofen:   ibu,
	}
}

func testOptions() returns.CommitterOptions {
	opts := returns.DefaultCommitterOptions()
	opts.Retry = retry.Policy{Attempts: 3}
	return opts
}

func (f *fixture) committer(repo returns.Repository, obs returns.Observer) *returns.Committer {
	if repo == nil {
		repo = f.store
	}
	return returns.NewCommitter(repo, f.txm, pkgnumerator.New(f.store), obs, testOptions())
}

func (f *fixture) catalog(t *testing.T) *returns.Catalog {
	t.Helper()
	cat, err := returns.NewCatalogLoader(f.store, f.store).Load(context.Background(), f.saleID)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func (f *fixture) onHand(itemID id.ID) int64 {
	it, _ := f.store.Inventory(itemID)
	return it.OnHandQuantity
}

func (f *fixture) returned(lineID id.ID) int64 {
	li, _ := f.store.Line(lineID)
	return li.ReturnedQuantity
}

func (f *fixture) replacement() *returns.InventoryItem {
	it, _ := f.store.Inventory(f.ibuprofen.ID)
	return &it
}

func item(lineID id.ID, qty int64, d returns.Disposition, reason string) returns.ItemConfiguration {
	return returns.ItemConfiguration{LineItemID: lineID, Quantity: qty, Disposition: d, Reason: reason}
}

// recordingObserver captures events.
type recordingObserver struct {
	mu        sync.Mutex
	previews  []*returns.PreviewResult
	successes []*returns.CommitResult
	failures  []*returns.PartialFailureError
}

func (o *recordingObserver) OnPreviewReady(ctx context.Context, p *returns.PreviewResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.previews = append(o.previews, p)
}

func (o *recordingObserver) OnCommitSucceeded(ctx context.Context, r *returns.CommitResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes = append(o.successes, r)
}

func (o *recordingObserver) OnCommitFailed(ctx context.Context, pf *returns.PartialFailureError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, pf)
}

// faultyRepo injects errors into selected store calls.
type faultyRepo struct {
	returns.Repository
	adjust    func(itemID id.ID, delta int64) error
	increment func(lineID id.ID) error
	adjusts   int
}

func (r *faultyRepo) AdjustInventoryQuantity(ctx context.Context, itemID id.ID, delta int64) (*returns.InventoryItem, error) {
	r.adjusts++
	if r.adjust != nil {
		if err := r.adjust(itemID, delta); err != nil {
			return nil, err
		}
	}
	return r.Repository.AdjustInventoryQuantity(ctx, itemID, delta)
}

func (r *faultyRepo) IncrementReturnedQuantity(ctx context.Context, lineID id.ID, delta int64) (*returns.SaleLineItem, error) {
	if r.increment != nil {
		if err := r.increment(lineID); err != nil {
			return nil, err
		}
	}
	return r.Repository.IncrementReturnedQuantity(ctx, lineID, delta)
}

func numeratorFor(s *memory.Store) *pkgnumerator.Service {
	return pkgnumerator.New(s)
}
