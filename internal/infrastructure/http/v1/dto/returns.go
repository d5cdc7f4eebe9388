package dto

import (
	"strconv"
	"time"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/returns"
)

// --- Requests ---

// ReturnItemRequest configures one sale line.
type ReturnItemRequest struct {
	LineItemID        string  `json:"lineItemId" binding:"required,uuid"`
	Quantity          int64   `json:"quantity"`
	Disposition       string  `json:"disposition" binding:"required"`
	Reason            string  `json:"reason"`
	ReplacementItemID *string `json:"replacementItemId" binding:"omitempty,uuid"`
}

// PreviewReturnRequest is the body of the preview endpoint.
type PreviewReturnRequest struct {
	Items []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CommitReturnRequest is the body of the commit endpoint. CommitKey falls
// back to the X-Idempotency-Key header, then to a fresh id.
type CommitReturnRequest struct {
	CommitKey string              `json:"commitKey"`
	Items     []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ToDomain converts validated request items. Binding has already checked the
// ids, so a parse failure here is reported as a field error.
func ToDomain(items []ReturnItemRequest) ([]returns.ItemRequest, error) {
	out := make([]returns.ItemRequest, len(items))
	var verr *apperror.AppError
	for i, it := range items {
		lineID, err := id.Parse(it.LineItemID)
		if err != nil {
			verr = fieldError(verr, i, "line_item_id", "must be a valid id")
			continue
		}
		out[i] = returns.ItemRequest{
			LineItemID:  lineID,
			Quantity:    it.Quantity,
			Disposition: returns.Disposition(it.Disposition),
			Reason:      it.Reason,
		}
		if it.ReplacementItemID != nil && *it.ReplacementItemID != "" {
			replID, err := id.Parse(*it.ReplacementItemID)
			if err != nil {
				verr = fieldError(verr, i, "replacement", "must be a valid id")
				continue
			}
			out[i].ReplacementItemID = &replID
		}
	}
	if verr != nil {
		return nil, verr
	}
	return out, nil
}

func fieldError(e *apperror.AppError, i int, field, msg string) *apperror.AppError {
	if e == nil {
		e = apperror.NewValidation("invalid return items")
	}
	return e.WithField(itemField(i, field), msg)
}

func itemField(i int, field string) string {
	return "items[" + strconv.Itoa(i) + "]." + field
}

// --- Responses ---

// ReturnableItemResponse is one returnable line.
type ReturnableItemResponse struct {
	LineItemID       string `json:"lineItemId"`
	InventoryItemID  string `json:"inventoryItemId"`
	Name             string `json:"name"`
	NameResolved     bool   `json:"nameResolved"`
	QuantitySold     int64  `json:"quantitySold"`
	ReturnedQuantity int64  `json:"returnedQuantity"`
	Remaining        int64  `json:"remaining"`
	UnitPrice        string `json:"unitPrice"`
}

// ReturnableResponse is the catalog of a sale.
type ReturnableResponse struct {
	SaleID     string                   `json:"saleId"`
	GSTPercent string                   `json:"gstPercent"`
	Items      []ReturnableItemResponse `json:"items"`
	Warnings   []Warning                `json:"warnings,omitempty"`
	LoadedAt   time.Time                `json:"loadedAt"`
}

func FromCatalog(c *returns.Catalog) ReturnableResponse {
	resp := ReturnableResponse{
		SaleID:     c.SaleID.String(),
		GSTPercent: c.GSTPercent.String(),
		Items:      make([]ReturnableItemResponse, len(c.Items)),
		LoadedAt:   c.LoadedAt,
	}
	for i, it := range c.Items {
		resp.Items[i] = ReturnableItemResponse{
			LineItemID:       it.ID.String(),
			InventoryItemID:  it.InventoryItemID.String(),
			Name:             it.Name,
			NameResolved:     it.NameResolved,
			QuantitySold:     it.QuantitySold,
			ReturnedQuantity: it.ReturnedQuantity,
			Remaining:        it.Remaining,
			UnitPrice:        Money(it.UnitPrice),
		}
	}
	for _, w := range c.Warnings {
		resp.Warnings = append(resp.Warnings, Warning{Code: w.Code, Message: w.Message})
	}
	return resp
}

// ValueResponse is a GST-inclusive amount.
type ValueResponse struct {
	Subtotal  string `json:"subtotal"`
	GSTAmount string `json:"gstAmount"`
	Total     string `json:"total"`
}

func fromValue(v returns.Value) ValueResponse {
	return ValueResponse{
		Subtotal:  Money(v.Subtotal),
		GSTAmount: Money(v.GSTAmount),
		Total:     Money(v.Total),
	}
}

// PreviewItemResponse is the projected outcome of one line.
type PreviewItemResponse struct {
	LineItemID      string         `json:"lineItemId"`
	InventoryItemID string         `json:"inventoryItemId"`
	Name            string         `json:"name"`
	Disposition     string         `json:"disposition"`
	Quantity        int64          `json:"quantity"`
	Reason          string         `json:"reason"`
	ReplacementID   string         `json:"replacementId,omitempty"`
	ReplacementName string         `json:"replacementName,omitempty"`
	Original        ValueResponse  `json:"original"`
	Replacement     *ValueResponse `json:"replacement,omitempty"`
	Owed            string         `json:"owed"`
}

// ClampWarningResponse reports a quantity that was reduced to what is left.
type ClampWarningResponse struct {
	LineItemID string `json:"lineItemId"`
	Requested  int64  `json:"requested"`
	Applied    int64  `json:"applied"`
	Message    string `json:"message"`
}

func FromClampWarnings(ws []returns.ClampWarning) []ClampWarningResponse {
	if len(ws) == 0 {
		return nil
	}
	out := make([]ClampWarningResponse, len(ws))
	for i, w := range ws {
		out[i] = ClampWarningResponse{
			LineItemID: w.LineItemID.String(),
			Requested:  w.Requested,
			Applied:    w.Applied,
			Message:    w.String(),
		}
	}
	return out
}

// TotalsResponse splits money owed in each direction.
type TotalsResponse struct {
	Refund string `json:"refund"`
	Charge string `json:"charge"`
	// Net is refund minus charge; negative means the customer pays.
	Net string `json:"net"`
}

func fromTotals(t returns.Totals) TotalsResponse {
	return TotalsResponse{Refund: Money(t.Refund), Charge: Money(t.Charge), Net: Money(t.Net())}
}

// PreviewResponse is the read-only projection of a commit.
type PreviewResponse struct {
	SaleID     string                 `json:"saleId"`
	GSTPercent string                 `json:"gstPercent"`
	Items      []PreviewItemResponse  `json:"items"`
	Totals     TotalsResponse         `json:"totals"`
	Total      string                 `json:"total"`
	ItemCount  int                    `json:"itemCount"`
	Warnings   []ClampWarningResponse `json:"warnings,omitempty"`
}

func FromPreview(p *returns.PreviewResult, warnings []returns.ClampWarning) PreviewResponse {
	resp := PreviewResponse{
		SaleID:     p.SaleID.String(),
		GSTPercent: p.GSTPercent.String(),
		Items:      make([]PreviewItemResponse, len(p.Items)),
		Totals:     fromTotals(p.Totals),
		Total:      Money(p.Total),
		ItemCount:  p.ItemCount,
		Warnings:   FromClampWarnings(warnings),
	}
	for i, it := range p.Items {
		item := PreviewItemResponse{
			LineItemID:      it.LineItemID.String(),
			InventoryItemID: it.InventoryItemID.String(),
			Name:            it.Name,
			Disposition:     string(it.Disposition),
			Quantity:        it.Quantity,
			Reason:          it.Reason,
			ReplacementName: it.ReplacementName,
			Original:        fromValue(it.Valuation.Original),
			Owed:            Money(it.Valuation.Owed),
		}
		if it.ReplacementID != nil {
			item.ReplacementID = it.ReplacementID.String()
		}
		if ex := it.Valuation.Exchange; ex != nil {
			repl := fromValue(ex.Replacement)
			item.Replacement = &repl
		}
		resp.Items[i] = item
	}
	return resp
}

// ItemOutcomeResponse reports one line of a commit.
type ItemOutcomeResponse struct {
	LineItemID     string `json:"lineItemId"`
	Disposition    string `json:"disposition"`
	Quantity       int64  `json:"quantity"`
	LedgerID       string `json:"ledgerId,omitempty"`
	Owed           string `json:"owed"`
	AlreadyApplied bool   `json:"alreadyApplied,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
}

func fromOutcomes(outcomes []returns.ItemOutcome) []ItemOutcomeResponse {
	out := make([]ItemOutcomeResponse, len(outcomes))
	for i, o := range outcomes {
		r := ItemOutcomeResponse{
			LineItemID:     o.LineItemID.String(),
			Disposition:    string(o.Disposition),
			Quantity:       o.Quantity,
			Owed:           Money(o.Owed),
			AlreadyApplied: o.AlreadyApplied,
		}
		if !id.IsNil(o.LedgerID) {
			r.LedgerID = o.LedgerID.String()
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
			if appErr, ok := apperror.AsAppError(o.Err); ok {
				r.ErrorCode = appErr.Code
				r.Error = appErr.Message
			}
		}
		out[i] = r
	}
	return out
}

// CommitResponse is returned when every line was written.
type CommitResponse struct {
	SaleID         string                 `json:"saleId"`
	CommitKey      string                 `json:"commitKey"`
	ReturnNumber   string                 `json:"returnNumber"`
	Items          []ItemOutcomeResponse  `json:"items"`
	Totals         TotalsResponse         `json:"totals"`
	TotalValue     string                 `json:"totalValue"`
	ItemsCommitted int                    `json:"itemsCommitted"`
	Summary        string                 `json:"summary"`
	CommittedAt    time.Time              `json:"committedAt"`
	Warnings       []ClampWarningResponse `json:"warnings,omitempty"`
}

func FromCommit(r *returns.CommitResult, warnings []returns.ClampWarning) CommitResponse {
	return CommitResponse{
		SaleID:         r.SaleID.String(),
		CommitKey:      r.CommitKey,
		ReturnNumber:   r.ReturnNumber,
		Items:          fromOutcomes(r.Items),
		Totals:         fromTotals(r.Totals),
		TotalValue:     Money(r.TotalValue),
		ItemsCommitted: r.ItemsCommitted,
		Summary:        r.Summary(),
		CommittedAt:    r.CommittedAt,
		Warnings:       FromClampWarnings(warnings),
	}
}

// PartialFailureResponse is returned with 207 when some lines were written.
type PartialFailureResponse struct {
	Code           string                `json:"code"`
	Message        string                `json:"message"`
	CommitKey      string                `json:"commitKey"`
	ReturnNumber   string                `json:"returnNumber"`
	Committed      []ItemOutcomeResponse `json:"committed"`
	Failed         []ItemOutcomeResponse `json:"failed"`
	CommittedValue string                `json:"committedValue"`
}

func FromPartialFailure(e *returns.PartialFailureError) PartialFailureResponse {
	return PartialFailureResponse{
		Code:           apperror.CodePartialFailure,
		Message:        e.Summary(),
		CommitKey:      e.CommitKey,
		ReturnNumber:   e.ReturnNumber,
		Committed:      fromOutcomes(e.Committed),
		Failed:         fromOutcomes(e.Failed),
		CommittedValue: Money(e.CommittedValue()),
	}
}

// ReturnRecordResponse is a return-to-stock or dispose ledger entry.
type ReturnRecordResponse struct {
	ID              string    `json:"id"`
	LineItemID      string    `json:"lineItemId"`
	InventoryItemID string    `json:"inventoryItemId"`
	ReturnNumber    string    `json:"returnNumber"`
	Quantity        int64     `json:"quantity"`
	Disposition     string    `json:"disposition"`
	Reason          string    `json:"reason"`
	Value           string    `json:"value"`
	ActorID         string    `json:"actorId"`
	CommitKey       string    `json:"commitKey"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ReplacementLinkResponse is an exchange ledger entry.
type ReplacementLinkResponse struct {
	ID                         string    `json:"id"`
	OriginalLineItemID         string    `json:"originalLineItemId"`
	ReplacementInventoryItemID string    `json:"replacementInventoryItemId"`
	ReturnNumber               string    `json:"returnNumber"`
	Quantity                   int64     `json:"quantity"`
	Reason                     string    `json:"reason"`
	NetDelta                   string    `json:"netDelta"`
	ActorID                    string    `json:"actorId"`
	CommitKey                  string    `json:"commitKey"`
	CreatedAt                  time.Time `json:"createdAt"`
}

// LedgerResponse lists everything committed against a sale.
type LedgerResponse struct {
	SaleID  string                    `json:"saleId"`
	Records []ReturnRecordResponse    `json:"records"`
	Links   []ReplacementLinkResponse `json:"links"`
}

func FromLedger(saleID id.ID, l returns.Ledger) LedgerResponse {
	resp := LedgerResponse{
		SaleID:  saleID.String(),
		Records: make([]ReturnRecordResponse, len(l.Records)),
		Links:   make([]ReplacementLinkResponse, len(l.Links)),
	}
	for i, r := range l.Records {
		resp.Records[i] = ReturnRecordResponse{
			ID:              r.ID.String(),
			LineItemID:      r.LineItemID.String(),
			InventoryItemID: r.InventoryItemID.String(),
			ReturnNumber:    r.ReturnNumber,
			Quantity:        r.Quantity,
			Disposition:     string(r.Disposition),
			Reason:          r.Reason,
			Value:           Money(r.Value),
			ActorID:         r.ActorID,
			CommitKey:       r.CommitKey,
			CreatedAt:       r.CreatedAt,
		}
	}
	for i, k := range l.Links {
		resp.Links[i] = ReplacementLinkResponse{
			ID:                         k.ID.String(),
			OriginalLineItemID:         k.OriginalLineItemID.String(),
			ReplacementInventoryItemID: k.ReplacementInventoryItemID.String(),
			ReturnNumber:               k.ReturnNumber,
			Quantity:                   k.Quantity,
			Reason:                     k.Reason,
			NetDelta:                   Money(k.NetDelta),
			ActorID:                    k.ActorID,
			CommitKey:                  k.CommitKey,
			CreatedAt:                  k.CreatedAt,
		}
	}
	return resp
}

// --- Sequences ---

// SequenceResponse is an allocated identifier.
type SequenceResponse struct {
	Identifier string `json:"identifier"`
	Value      int64  `json:"value"`
	Fallback   bool   `json:"fallback"`
}
