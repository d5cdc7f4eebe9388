package returns

import (
	"context"
	"fmt"
	"time"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// ExchangeRequest describes one exchange line to apply.
type ExchangeRequest struct {
	Line           SaleLineItem
	Replacement    InventoryItem
	Quantity       int64
	Reason         string
	GSTPercent     types.Percent
	ReturnNumber   string
	ActorID        string
	CommitKey      string
	IdempotencyKey string
	At             time.Time
}

// ReplacementMatcher handles the exchange case: the original item goes back
// to stock and the replacement goes out, with the price difference recorded.
type ReplacementMatcher struct {
	repo Repository
}

// NewReplacementMatcher creates a matcher over repo.
func NewReplacementMatcher(repo Repository) *ReplacementMatcher {
	return &ReplacementMatcher{repo: repo}
}

// Valuate prices both sides of the exchange.
func (m *ReplacementMatcher) Valuate(line SaleLineItem, replacement InventoryItem, quantity int64, gstPercent types.Percent) ExchangeValue {
	return CalculateExchange(line.UnitPrice, replacement.UnitCost, quantity, gstPercent)
}

// Apply writes the link, advances the returned quantity, puts the original
// back on the shelf and takes the replacement off it. It must run inside a
// transaction: a failed stock-out leaves no trace of the other writes.
//
// created is false when a link with the same idempotency key already
// exists; nothing else is written in that case.
func (m *ReplacementMatcher) Apply(ctx context.Context, req ExchangeRequest) (link *ReplacementLink, created bool, err error) {
	val := m.Valuate(req.Line, req.Replacement, req.Quantity, req.GSTPercent)

	link = &ReplacementLink{
		ID:                         id.New(),
		SaleID:                     req.Line.SaleID,
		OriginalLineItemID:         req.Line.ID,
		OriginalInventoryItemID:    req.Line.InventoryItemID,
		ReplacementInventoryItemID: req.Replacement.ID,
		ReturnNumber:               req.ReturnNumber,
		Quantity:                   req.Quantity,
		Reason:                     req.Reason,
		GSTPercent:                 req.GSTPercent,
		OriginalTotal:              val.Original.Total,
		ReplacementTotal:           val.Replacement.Total,
		NetDelta:                   val.Net,
		ActorID:                    req.ActorID,
		CommitKey:                  req.CommitKey,
		IdempotencyKey:             req.IdempotencyKey,
		CreatedAt:                  req.At,
	}

	created, err = m.repo.InsertReplacementLink(ctx, link)
	if err != nil {
		return nil, false, fmt.Errorf("insert replacement link: %w", err)
	}
	if !created {
		return link, false, nil
	}

	if _, err := m.repo.IncrementReturnedQuantity(ctx, req.Line.ID, req.Quantity); err != nil {
		return nil, false, fmt.Errorf("advance returned quantity: %w", err)
	}
	if _, err := m.repo.AdjustInventoryQuantity(ctx, req.Line.InventoryItemID, req.Quantity); err != nil {
		return nil, false, fmt.Errorf("restock original item: %w", err)
	}
	if _, err := m.repo.AdjustInventoryQuantity(ctx, req.Replacement.ID, -req.Quantity); err != nil {
		return nil, false, fmt.Errorf("issue replacement item: %w", err)
	}

	return link, true, nil
}
