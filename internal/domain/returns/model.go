// Package returns implements the returns and replacement reconciliation engine:
// selecting returnable sale lines, configuring a disposition per line,
// previewing the money involved and committing ledger records together with
// the matching inventory movements.
package returns

import (
	"time"

	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// Disposition is what happens to a returned quantity.
type Disposition string

const (
	DispositionReturnToStock Disposition = "return_to_stock"
	DispositionDispose       Disposition = "dispose"
	DispositionExchange      Disposition = "exchange"
)

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionReturnToStock, DispositionDispose, DispositionExchange:
		return true
	}
	return false
}

// commitRank orders single-item writes before dual-item exchange writes.
func (d Disposition) commitRank() int {
	if d == DispositionExchange {
		return 1
	}
	return 0
}

// SaleLineItem is one medicine sold within a sale.
type SaleLineItem struct {
	ID               id.ID       `db:"id" json:"id"`
	SaleID           id.ID       `db:"sale_id" json:"saleId"`
	InventoryItemID  id.ID       `db:"inventory_item_id" json:"inventoryItemId"`
	QuantitySold     int64       `db:"quantity_sold" json:"quantitySold"`
	UnitPrice        types.Money `db:"unit_price" json:"unitPrice"`
	ReturnedQuantity int64       `db:"returned_quantity" json:"returnedQuantity"`
}

// RemainingReturnable is quantity_sold - returned_quantity.
func (li SaleLineItem) RemainingReturnable() int64 {
	return li.QuantitySold - li.ReturnedQuantity
}

// InventoryItem is a stock record. OnHandQuantity never drops below zero.
type InventoryItem struct {
	ID             id.ID       `db:"id" json:"id"`
	Name           string      `db:"name" json:"name"`
	OnHandQuantity int64       `db:"on_hand_quantity" json:"onHandQuantity"`
	UnitCost       types.Money `db:"unit_cost" json:"unitCost"`
}

// ReturnRecord is an immutable ledger entry for a return-to-stock or dispose.
type ReturnRecord struct {
	ID              id.ID         `db:"id"`
	SaleID          id.ID         `db:"sale_id"`
	LineItemID      id.ID         `db:"line_item_id"`
	InventoryItemID id.ID         `db:"inventory_item_id"`
	ReturnNumber    string        `db:"return_number"`
	Quantity        int64         `db:"quantity"`
	Disposition     Disposition   `db:"disposition"`
	Reason          string        `db:"reason"`
	UnitPrice       types.Money   `db:"unit_price"`
	GSTPercent      types.Percent `db:"gst_percent"`
	Subtotal        types.Money   `db:"subtotal"`
	GSTAmount       types.Money   `db:"gst_amount"`
	Value           types.Money   `db:"value"`
	ActorID         string        `db:"actor_id"`
	CommitKey       string        `db:"commit_key"`
	IdempotencyKey  string        `db:"idempotency_key"`
	CreatedAt       time.Time     `db:"created_at"`
}

// ReplacementLink is an immutable ledger entry for an exchange.
// NetDelta is replacement total minus original total, GST inclusive.
type ReplacementLink struct {
	ID                         id.ID         `db:"id"`
	SaleID                     id.ID         `db:"sale_id"`
	OriginalLineItemID         id.ID         `db:"original_line_item_id"`
	OriginalInventoryItemID    id.ID         `db:"original_inventory_item_id"`
	ReplacementInventoryItemID id.ID         `db:"replacement_inventory_item_id"`
	ReturnNumber               string        `db:"return_number"`
	Quantity                   int64         `db:"quantity"`
	Reason                     string        `db:"reason"`
	GSTPercent                 types.Percent `db:"gst_percent"`
	OriginalTotal              types.Money   `db:"original_total"`
	ReplacementTotal           types.Money   `db:"replacement_total"`
	NetDelta                   types.Money   `db:"net_delta"`
	ActorID                    string        `db:"actor_id"`
	CommitKey                  string        `db:"commit_key"`
	IdempotencyKey             string        `db:"idempotency_key"`
	CreatedAt                  time.Time     `db:"created_at"`
}

// Ledger groups the records and links written for a sale or a commit.
type Ledger struct {
	Records []ReturnRecord
	Links   []ReplacementLink
}

// Empty reports whether the ledger holds nothing.
func (l Ledger) Empty() bool {
	return len(l.Records) == 0 && len(l.Links) == 0
}

// ReturnNumber returns the first return number found, or "".
func (l Ledger) ReturnNumber() string {
	for _, r := range l.Records {
		if r.ReturnNumber != "" {
			return r.ReturnNumber
		}
	}
	for _, k := range l.Links {
		if k.ReturnNumber != "" {
			return k.ReturnNumber
		}
	}
	return ""
}
