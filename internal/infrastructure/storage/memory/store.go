// Package memory is an in-process store used for local runs without
// Postgres and as the backing store in engine tests. It enforces the same
// constraints as the SQL schema: non-negative stock, returned quantity
// within what was sold and unique idempotency keys.
package memory

import (
	"context"
	"slices"
	"sync"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/numerator"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
)

// Sale is the slice of a sale the engine reads.
type Sale struct {
	ID         id.ID
	GSTPercent types.Percent
	Lines      []returns.SaleLineItem
}

// Store holds sales, inventory, the returns ledger and sequence reservations.
type Store struct {
	mu        sync.RWMutex
	sales     map[id.ID]*Sale
	lines     map[id.ID]*returns.SaleLineItem
	inventory map[id.ID]*returns.InventoryItem
	records   []returns.ReturnRecord
	links     []returns.ReplacementLink
	byKey     map[string]id.ID
	sequences map[string]map[int64]bool

	txMu sync.Mutex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sales:     make(map[id.ID]*Sale),
		lines:     make(map[id.ID]*returns.SaleLineItem),
		inventory: make(map[id.ID]*returns.InventoryItem),
		byKey:     make(map[string]id.ID),
		sequences: make(map[string]map[int64]bool),
	}
}

// PutInventory inserts or replaces an inventory item.
func (s *Store) PutInventory(items ...returns.InventoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.inventory[it.ID] = &it
	}
}

// PutSale inserts or replaces a sale and its lines. Line SaleIDs are set
// to the sale's id.
func (s *Store) PutSale(sale Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range sale.Lines {
		sale.Lines[i].SaleID = sale.ID
		li := sale.Lines[i]
		s.lines[li.ID] = &li
	}
	s.sales[sale.ID] = &sale
}

// Inventory returns a copy of an inventory row.
func (s *Store) Inventory(itemID id.ID) (returns.InventoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.inventory[itemID]
	if !ok {
		return returns.InventoryItem{}, false
	}
	return *it, true
}

// Line returns a copy of a sale line.
func (s *Store) Line(lineItemID id.ID) (returns.SaleLineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	li, ok := s.lines[lineItemID]
	if !ok {
		return returns.SaleLineItem{}, false
	}
	return *li, true
}

func (s *Store) GetSaleGSTPercentage(ctx context.Context, saleID id.ID) (types.Percent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return types.Zero(), apperror.NewNotFound("sale", saleID.String())
	}
	return sale.GSTPercent, nil
}

func (s *Store) GetSaleLineItems(ctx context.Context, saleID id.ID) ([]returns.SaleLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, apperror.NewNotFound("sale", saleID.String())
	}
	out := make([]returns.SaleLineItem, 0, len(sale.Lines))
	for _, li := range sale.Lines {
		out = append(out, *s.lines[li.ID])
	}
	return out, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, itemID id.ID) (*returns.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.inventory[itemID]
	if !ok {
		return nil, apperror.NewNotFound("inventory item", itemID.String())
	}
	cp := *it
	return &cp, nil
}

func (s *Store) AdjustInventoryQuantity(ctx context.Context, itemID id.ID, delta int64) (*returns.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.inventory[itemID]
	if !ok {
		return nil, apperror.NewNotFound("inventory item", itemID.String())
	}
	if it.OnHandQuantity+delta < 0 {
		return nil, apperror.NewInsufficientStock(itemID.String(), -delta, it.OnHandQuantity)
	}
	it.OnHandQuantity += delta
	undo(ctx, func() { it.OnHandQuantity -= delta })
	cp := *it
	return &cp, nil
}

func (s *Store) IncrementReturnedQuantity(ctx context.Context, lineItemID id.ID, delta int64) (*returns.SaleLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	li, ok := s.lines[lineItemID]
	if !ok {
		return nil, apperror.NewNotFound("sale line item", lineItemID.String())
	}
	next := li.ReturnedQuantity + delta
	if next < 0 || next > li.QuantitySold {
		return nil, apperror.NewValidation("returned quantity would exceed quantity sold").
			WithDetail("line_item_id", lineItemID.String()).
			WithDetail("quantity_sold", li.QuantitySold).
			WithDetail("returned_quantity", li.ReturnedQuantity).
			WithDetail("delta", delta)
	}
	li.ReturnedQuantity = next
	undo(ctx, func() { li.ReturnedQuantity -= delta })
	cp := *li
	return &cp, nil
}

func (s *Store) InsertReturnRecord(ctx context.Context, rec *returns.ReturnRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[rec.IdempotencyKey]; ok {
		rec.ID = existing
		return false, nil
	}
	s.records = append(s.records, *rec)
	s.byKey[rec.IdempotencyKey] = rec.ID
	key, recID := rec.IdempotencyKey, rec.ID
	undo(ctx, func() {
		s.records = slices.DeleteFunc(s.records, func(r returns.ReturnRecord) bool { return r.ID == recID })
		delete(s.byKey, key)
	})
	return true, nil
}

func (s *Store) InsertReplacementLink(ctx context.Context, link *returns.ReplacementLink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[link.IdempotencyKey]; ok {
		link.ID = existing
		return false, nil
	}
	s.links = append(s.links, *link)
	s.byKey[link.IdempotencyKey] = link.ID
	key, linkID := link.IdempotencyKey, link.ID
	undo(ctx, func() {
		s.links = slices.DeleteFunc(s.links, func(k returns.ReplacementLink) bool { return k.ID == linkID })
		delete(s.byKey, key)
	})
	return true, nil
}

func (s *Store) ListLedgerByCommitKey(ctx context.Context, commitKey string) (returns.Ledger, error) {
	return s.ledger(func(saleID id.ID, key string) bool { return key == commitKey }), nil
}

func (s *Store) ListLedgerBySale(ctx context.Context, saleID id.ID) (returns.Ledger, error) {
	return s.ledger(func(sid id.ID, key string) bool { return sid == saleID }), nil
}

func (s *Store) ledger(match func(saleID id.ID, commitKey string) bool) returns.Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var l returns.Ledger
	for _, r := range s.records {
		if match(r.SaleID, r.CommitKey) {
			l.Records = append(l.Records, r)
		}
	}
	for _, k := range s.links {
		if match(k.SaleID, k.CommitKey) {
			l.Links = append(l.Links, k)
		}
	}
	return l
}

// ResolveInventoryNames implements returns.NameResolver.
func (s *Store) ResolveInventoryNames(ctx context.Context, itemIDs []id.ID) (map[id.ID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.ID]string, len(itemIDs))
	for _, itemID := range itemIDs {
		if it, ok := s.inventory[itemID]; ok {
			out[itemID] = it.Name
		}
	}
	return out, nil
}

// FindMaxSequenceForScope implements numerator.Store.
func (s *Store) FindMaxSequenceForScope(ctx context.Context, scopeKey string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vals := s.sequences[scopeKey]
	if len(vals) == 0 {
		return nil, nil
	}
	var maxVal int64
	for v := range vals {
		maxVal = max(maxVal, v)
	}
	return &maxVal, nil
}

// ReserveSequenceValue implements numerator.Store.
func (s *Store) ReserveSequenceValue(ctx context.Context, scopeKey string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequences[scopeKey] == nil {
		s.sequences[scopeKey] = make(map[int64]bool)
	}
	if s.sequences[scopeKey][value] {
		return numerator.ErrConflict
	}
	s.sequences[scopeKey][value] = true
	return nil
}

var (
	_ returns.Repository   = (*Store)(nil)
	_ returns.NameResolver = (*Store)(nil)
	_ numerator.Store      = (*Store)(nil)
)
