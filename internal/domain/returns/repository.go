package returns

import (
	"context"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// Repository is the persistent store the engine reads and writes.
//
// Quantity mutations are atomic deltas evaluated by the store against the
// current row, never a value computed from an earlier read.
type Repository interface {
	// GetSaleGSTPercentage returns the rate fixed when the sale was created.
	// Returns apperror NotFound for an unknown sale.
	GetSaleGSTPercentage(ctx context.Context, saleID id.ID) (types.Percent, error)

	GetSaleLineItems(ctx context.Context, saleID id.ID) ([]SaleLineItem, error)

	GetInventoryItem(ctx context.Context, itemID id.ID) (*InventoryItem, error)

	// AdjustInventoryQuantity applies delta and returns the updated row.
	// Returns apperror InsufficientStock when the result would be negative.
	AdjustInventoryQuantity(ctx context.Context, itemID id.ID, delta int64) (*InventoryItem, error)

	// IncrementReturnedQuantity adds delta to the line's returned quantity.
	// Returns apperror Validation when the result would exceed quantity sold.
	IncrementReturnedQuantity(ctx context.Context, lineItemID id.ID, delta int64) (*SaleLineItem, error)

	// InsertReturnRecord appends rec unless a record with the same
	// IdempotencyKey exists. created is false in that case and rec.ID is set
	// to the existing record's id.
	InsertReturnRecord(ctx context.Context, rec *ReturnRecord) (created bool, err error)

	// InsertReplacementLink has the same contract as InsertReturnRecord.
	InsertReplacementLink(ctx context.Context, link *ReplacementLink) (created bool, err error)

	ListLedgerByCommitKey(ctx context.Context, commitKey string) (Ledger, error)
	ListLedgerBySale(ctx context.Context, saleID id.ID) (Ledger, error)
}

// NameResolver looks up inventory display names. It is a non-critical
// enrichment; callers degrade to a placeholder when it fails.
type NameResolver interface {
	ResolveInventoryNames(ctx context.Context, itemIDs []id.ID) (map[id.ID]string, error)
}
