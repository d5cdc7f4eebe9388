package returns

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
)

// ItemOutcome describes what happened to one configured line during a commit.
type ItemOutcome struct {
	LineItemID  id.ID       `json:"lineItemId"`
	Disposition Disposition `json:"disposition"`
	Quantity    int64       `json:"quantity"`
	LedgerID    id.ID       `json:"ledgerId,omitempty"`
	Owed        types.Money `json:"owed"`
	// AlreadyApplied is true when an earlier attempt with the same commit key
	// had written this line.
	AlreadyApplied bool  `json:"alreadyApplied,omitempty"`
	Err            error `json:"-"`
}

// PartialFailureError is returned when some lines of a commit were written
// and others were not. Committed lines must not be re-applied; retrying the
// commit with the same key only touches the Failed lines.
type PartialFailureError struct {
	SaleID       id.ID
	CommitKey    string
	ReturnNumber string
	Committed    []ItemOutcome
	Failed       []ItemOutcome
}

// CommittedValue is the net amount owed to the customer for the lines that
// did go through.
func (e *PartialFailureError) CommittedValue() types.Money {
	total := decimal.Zero
	for _, o := range e.Committed {
		total = total.Add(o.Owed)
	}
	return total
}

// Summary phrases the outcome in quantities and money.
func (e *PartialFailureError) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d items returned, %s settled",
		len(e.Committed), len(e.Committed)+len(e.Failed), types.Display(e.CommittedValue()))
	if len(e.Failed) > 0 {
		b.WriteString("; not returned: ")
		for i, f := range e.Failed {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d x line %s (%s)", f.Quantity, f.LineItemID, failureReason(f.Err))
		}
	}
	return b.String()
}

func (e *PartialFailureError) Error() string {
	return "partial return: " + e.Summary()
}

// AppError renders the failure for API responses.
func (e *PartialFailureError) AppError() *apperror.AppError {
	failed := make([]map[string]any, 0, len(e.Failed))
	for _, f := range e.Failed {
		entry := map[string]any{
			"line_item_id": f.LineItemID.String(),
			"quantity":     f.Quantity,
			"reason":       failureReason(f.Err),
		}
		if appErr, ok := apperror.AsAppError(f.Err); ok {
			entry["code"] = appErr.Code
		}
		failed = append(failed, entry)
	}
	committed := make([]string, 0, len(e.Committed))
	for _, c := range e.Committed {
		committed = append(committed, c.LineItemID.String())
	}

	return apperror.NewPartialFailure(e.Summary()).
		WithDetail("commit_key", e.CommitKey).
		WithDetail("return_number", e.ReturnNumber).
		WithDetail("committed", committed).
		WithDetail("failed", failed).
		WithDetail("committed_value", types.Display(e.CommittedValue()))
}

// Unwrap exposes the API error first, then each line's cause.
func (e *PartialFailureError) Unwrap() []error {
	errs := []error{e.AppError()}
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

func failureReason(err error) string {
	if err == nil {
		return "not attempted"
	}
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Message
	}
	return "store unavailable"
}
