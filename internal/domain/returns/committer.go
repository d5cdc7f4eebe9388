package returns

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/numerator"
	"pharmapos/internal/core/retry"
	"pharmapos/internal/core/tx"
	"pharmapos/internal/core/types"
	"pharmapos/pkg/logger"
)

var tracer = otel.Tracer("pharmapos/returns")

// ReturnNumberPrefix prefixes return numbers, e.g. RET-00042.
const ReturnNumberPrefix = "RET"

// CommitRequest is a confirmed configuration ready to be written.
type CommitRequest struct {
	SaleID id.ID
	// CommitKey identifies the commit across retries. Lines already written
	// under this key are reported, not written again.
	CommitKey string
	ActorID   string
	Items     []ItemConfiguration
}

// CommitResult is the aggregate outcome of a successful commit.
type CommitResult struct {
	SaleID       id.ID         `json:"saleId"`
	CommitKey    string        `json:"commitKey"`
	ReturnNumber string        `json:"returnNumber"`
	Items        []ItemOutcome `json:"items"`
	Totals       Totals        `json:"totals"`
	// TotalValue is refunds minus charges; it matches PreviewResult.Total
	// for the same configuration.
	TotalValue     types.Money `json:"totalValue"`
	ItemsCommitted int         `json:"itemsCommitted"`
	LedgerIDs      []id.ID     `json:"ledgerIds"`
	CommittedAt    time.Time   `json:"committedAt"`
}

// Summary phrases the outcome in quantities and money.
func (r *CommitResult) Summary() string {
	var units int64
	for _, it := range r.Items {
		units += it.Quantity
	}
	net := r.TotalValue
	switch {
	case net.IsNegative():
		return fmt.Sprintf("%s: %d units across %d items, customer pays %s",
			r.ReturnNumber, units, r.ItemsCommitted, types.Display(net.Neg()))
	default:
		return fmt.Sprintf("%s: %d units across %d items, refund %s",
			r.ReturnNumber, units, r.ItemsCommitted, types.Display(net))
	}
}

// CommitterOptions tunes the committer.
type CommitterOptions struct {
	MinReasonLength int
	Retry           retry.Policy
	Numbering       numerator.Config
}

// DefaultCommitterOptions returns production defaults.
func DefaultCommitterOptions() CommitterOptions {
	return CommitterOptions{
		MinReasonLength: DefaultMinReasonLength,
		Retry:           retry.DefaultPolicy(),
		Numbering:       numerator.DefaultConfig(ReturnNumberPrefix),
	}
}

// Committer writes confirmed return configurations.
//
// Each line is written in its own transaction keyed by commit key and line,
// return-to-stock and dispose lines first, exchanges last. A line either
// lands completely (ledger entry, returned quantity, stock) or not at all.
type Committer struct {
	repo     Repository
	txm      tx.Manager
	numbers  numerator.Allocator
	matcher  *ReplacementMatcher
	observer Observer
	opts     CommitterOptions
	now      func() time.Time
}

// NewCommitter wires a committer. observer may be nil.
func NewCommitter(repo Repository, txm tx.Manager, numbers numerator.Allocator, observer Observer, opts CommitterOptions) *Committer {
	if observer == nil {
		observer = Observers(nil)
	}
	if opts.MinReasonLength < DefaultMinReasonLength {
		opts.MinReasonLength = DefaultMinReasonLength
	}
	if opts.Numbering.Prefix == "" {
		opts.Numbering = numerator.DefaultConfig(ReturnNumberPrefix)
	}
	return &Committer{
		repo:     repo,
		txm:      txm,
		numbers:  numbers,
		matcher:  NewReplacementMatcher(repo),
		observer: observer,
		opts:     opts,
		now:      time.Now,
	}
}

// persisted is the state the commit validates against and writes from.
type persisted struct {
	gst          types.Percent
	lines        map[id.ID]SaleLineItem
	replacements map[id.ID]InventoryItem
}

// Commit validates req against the store and writes it.
//
// A validation failure on any line aborts before the first write. A failure
// while writing yields *PartialFailureError listing what was and was not
// written, unless nothing was written at all, in which case the failing
// line's error is returned as is.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if req.CommitKey == "" {
		req.CommitKey = id.New().String()
	}

	ctx, span := tracer.Start(ctx, "returns.commit",
		trace.WithAttributes(
			attribute.String("sale.id", req.SaleID.String()),
			attribute.String("commit.key", req.CommitKey),
			attribute.Int("commit.items", len(req.Items)),
		))
	defer span.End()

	res, err := c.commit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
	}
	return res, err
}

func (c *Committer) commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, apperror.NewFieldValidation("actor_id", "operator is required to record a return")
	}

	var prior Ledger
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		prior, err = c.repo.ListLedgerByCommitKey(ctx, req.CommitKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load prior ledger for %s: %w", req.CommitKey, err)
	}

	applied := appliedOutcomes(prior)
	appliedLines := make(map[id.ID]bool, len(applied))
	for _, o := range applied {
		appliedLines[o.LineItemID] = true
	}

	pending := make([]ItemConfiguration, 0, len(req.Items))
	for _, it := range req.Items {
		if !appliedLines[it.LineItemID] {
			pending = append(pending, it)
		}
	}

	if len(pending) == 0 && len(applied) == 0 {
		return nil, apperror.NewFieldValidation("items", "select at least one item to return")
	}

	var state *persisted
	returnNumber := prior.ReturnNumber()
	if len(pending) > 0 {
		state, err = c.validate(ctx, req.SaleID, pending)
		if err != nil {
			return nil, err
		}

		if returnNumber == "" {
			seq, err := c.numbers.Allocate(ctx, c.opts.Numbering, numerator.Scope{
				Prefix: c.opts.Numbering.Prefix,
				UserID: req.ActorID,
			})
			if err != nil {
				return nil, fmt.Errorf("allocate return number: %w", err)
			}
			returnNumber = seq.Identifier
		}
	}

	committed := append([]ItemOutcome(nil), applied...)
	var failed []ItemOutcome
	halted := false

	for _, cfg := range orderForCommit(pending) {
		if halted {
			failed = append(failed, ItemOutcome{
				LineItemID:  cfg.LineItemID,
				Disposition: cfg.Disposition,
				Quantity:    cfg.Quantity,
			})
			continue
		}

		outcome, err := c.applyItem(ctx, req, returnNumber, state, cfg)
		if err != nil {
			outcome.Err = err
			failed = append(failed, outcome)
			logger.Warn(ctx, "return line not written",
				"commit_key", req.CommitKey,
				"line_item_id", cfg.LineItemID,
				"error", err,
			)
			// Infrastructure trouble: do not keep hammering the store.
			if retry.Retryable(err) {
				halted = true
			}
			continue
		}
		committed = append(committed, outcome)
	}

	if len(failed) > 0 {
		pf := &PartialFailureError{
			SaleID:       req.SaleID,
			CommitKey:    req.CommitKey,
			ReturnNumber: returnNumber,
			Committed:    committed,
			Failed:       failed,
		}
		c.observer.OnCommitFailed(ctx, pf)
		if len(committed) == 0 {
			return nil, fmt.Errorf("return line %s: %w", failed[0].LineItemID, failed[0].Err)
		}
		return nil, pf
	}

	res := buildResult(req, returnNumber, committed, c.now().UTC())
	c.observer.OnCommitSucceeded(ctx, res)

	logger.Info(ctx, "return commit applied",
		"sale_id", req.SaleID,
		"return_number", returnNumber,
		"items", res.ItemsCommitted,
		"already_applied", len(applied),
		"total", types.Display(res.TotalValue),
	)

	return res, nil
}

// validate re-reads the sale and checks every pending line against it.
// All problems are reported together.
func (c *Committer) validate(ctx context.Context, saleID id.ID, pending []ItemConfiguration) (*persisted, error) {
	state := &persisted{
		lines:        make(map[id.ID]SaleLineItem),
		replacements: make(map[id.ID]InventoryItem),
	}

	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		gst, err := c.repo.GetSaleGSTPercentage(ctx, saleID)
		if err != nil {
			return err
		}
		lines, err := c.repo.GetSaleLineItems(ctx, saleID)
		if err != nil {
			return err
		}
		state.gst = gst
		for _, li := range lines {
			state.lines[li.ID] = li
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load sale %s: %w", saleID, err)
	}

	var verr *apperror.AppError
	add := func(field, msg string) {
		if verr == nil {
			verr = apperror.NewValidation("return cannot be committed as configured")
		}
		verr.WithField(field, msg)
	}

	seen := make(map[id.ID]bool, len(pending))
	for i, cfg := range pending {
		prefix := fmt.Sprintf("items[%d].", i)
		line, ok := state.lines[cfg.LineItemID]
		if !ok {
			add(prefix+"line_item_id", "item is not part of this sale")
			continue
		}
		if seen[cfg.LineItemID] {
			add(prefix+"line_item_id", "item is listed more than once")
			continue
		}
		seen[cfg.LineItemID] = true

		if !cfg.Disposition.Valid() {
			add(prefix+"disposition", "unknown disposition")
		}
		if cfg.Quantity <= 0 {
			add(prefix+"quantity", "quantity must be a positive whole number")
		} else if remaining := line.RemainingReturnable(); cfg.Quantity > remaining {
			add(prefix+"quantity", fmt.Sprintf("only %d left to return", max(remaining, 0)))
		}
		if utf8.RuneCountInString(strings.TrimSpace(cfg.Reason)) < c.opts.MinReasonLength {
			add(prefix+"reason", fmt.Sprintf("reason must be at least %d characters", c.opts.MinReasonLength))
		}

		if cfg.Disposition != DispositionExchange {
			continue
		}
		if cfg.Replacement == nil || id.IsNil(cfg.Replacement.ID) {
			add(prefix+"replacement", "exchange requires a replacement item")
			continue
		}
		if cfg.Replacement.ID == line.InventoryItemID {
			add(prefix+"replacement", "replacement must differ from the returned item")
			continue
		}

		var repl *InventoryItem
		err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
			var err error
			repl, err = c.repo.GetInventoryItem(ctx, cfg.Replacement.ID)
			return err
		})
		if apperror.IsNotFound(err) {
			add(prefix+"replacement", "replacement item does not exist")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load replacement %s: %w", cfg.Replacement.ID, err)
		}
		state.replacements[repl.ID] = *repl
	}

	if verr != nil {
		return nil, verr
	}
	return state, nil
}

// applyItem writes one line in its own transaction, retried as a unit.
func (c *Committer) applyItem(ctx context.Context, req CommitRequest, returnNumber string, state *persisted, cfg ItemConfiguration) (ItemOutcome, error) {
	line := state.lines[cfg.LineItemID]
	itemKey := fmt.Sprintf("%s:%s", req.CommitKey, line.ID)
	at := c.now().UTC()

	var outcome ItemOutcome
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		outcome = ItemOutcome{
			LineItemID:  line.ID,
			Disposition: cfg.Disposition,
			Quantity:    cfg.Quantity,
		}
		return c.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if cfg.Disposition == DispositionExchange {
				// Value the exchange at the replacement price the operator confirmed.
				repl := state.replacements[cfg.Replacement.ID]
				repl.UnitCost = cfg.Replacement.UnitCost

				link, created, err := c.matcher.Apply(ctx, ExchangeRequest{
					Line:           line,
					Replacement:    repl,
					Quantity:       cfg.Quantity,
					Reason:         strings.TrimSpace(cfg.Reason),
					GSTPercent:     state.gst,
					ReturnNumber:   returnNumber,
					ActorID:        req.ActorID,
					CommitKey:      req.CommitKey,
					IdempotencyKey: itemKey,
					At:             at,
				})
				if err != nil {
					return err
				}
				outcome.LedgerID = link.ID
				outcome.Owed = link.NetDelta.Neg()
				outcome.AlreadyApplied = !created
				return nil
			}

			rec, created, err := c.applyReturn(ctx, req, returnNumber, state.gst, line, cfg, itemKey, at)
			if err != nil {
				return err
			}
			outcome.LedgerID = rec.ID
			outcome.Owed = rec.Value
			outcome.AlreadyApplied = !created
			return nil
		})
	})
	return outcome, err
}

// applyReturn handles return-to-stock and dispose lines.
func (c *Committer) applyReturn(
	ctx context.Context,
	req CommitRequest,
	returnNumber string,
	gst types.Percent,
	line SaleLineItem,
	cfg ItemConfiguration,
	itemKey string,
	at time.Time,
) (*ReturnRecord, bool, error) {
	val := Calculate(line.UnitPrice, cfg.Quantity, gst)
	rec := &ReturnRecord{
		ID:              id.New(),
		SaleID:          line.SaleID,
		LineItemID:      line.ID,
		InventoryItemID: line.InventoryItemID,
		ReturnNumber:    returnNumber,
		Quantity:        cfg.Quantity,
		Disposition:     cfg.Disposition,
		Reason:          strings.TrimSpace(cfg.Reason),
		UnitPrice:       line.UnitPrice,
		GSTPercent:      gst,
		Subtotal:        val.Subtotal,
		GSTAmount:       val.GSTAmount,
		Value:           val.Total,
		ActorID:         req.ActorID,
		CommitKey:       req.CommitKey,
		IdempotencyKey:  itemKey,
		CreatedAt:       at,
	}

	created, err := c.repo.InsertReturnRecord(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("insert return record: %w", err)
	}
	if !created {
		return rec, false, nil
	}

	if _, err := c.repo.IncrementReturnedQuantity(ctx, line.ID, cfg.Quantity); err != nil {
		return nil, false, fmt.Errorf("advance returned quantity: %w", err)
	}

	if cfg.Disposition == DispositionReturnToStock {
		if _, err := c.repo.AdjustInventoryQuantity(ctx, line.InventoryItemID, cfg.Quantity); err != nil {
			return nil, false, fmt.Errorf("restock item: %w", err)
		}
	}

	return rec, true, nil
}

// appliedOutcomes turns ledger entries written under a commit key into outcomes.
func appliedOutcomes(l Ledger) []ItemOutcome {
	out := make([]ItemOutcome, 0, len(l.Records)+len(l.Links))
	for _, r := range l.Records {
		out = append(out, ItemOutcome{
			LineItemID:     r.LineItemID,
			Disposition:    r.Disposition,
			Quantity:       r.Quantity,
			LedgerID:       r.ID,
			Owed:           r.Value,
			AlreadyApplied: true,
		})
	}
	for _, k := range l.Links {
		out = append(out, ItemOutcome{
			LineItemID:     k.OriginalLineItemID,
			Disposition:    DispositionExchange,
			Quantity:       k.Quantity,
			LedgerID:       k.ID,
			Owed:           k.NetDelta.Neg(),
			AlreadyApplied: true,
		})
	}
	return out
}

func buildResult(req CommitRequest, returnNumber string, committed []ItemOutcome, at time.Time) *CommitResult {
	res := &CommitResult{
		SaleID:       req.SaleID,
		CommitKey:    req.CommitKey,
		ReturnNumber: returnNumber,
		Items:        committed,
		LedgerIDs:    make([]id.ID, 0, len(committed)),
		CommittedAt:  at,
	}
	vals := make([]Valuation, 0, len(committed))
	for _, o := range committed {
		res.LedgerIDs = append(res.LedgerIDs, o.LedgerID)
		vals = append(vals, Valuation{Disposition: o.Disposition, Quantity: o.Quantity, Owed: o.Owed})
	}
	res.Totals = Aggregate(vals)
	res.TotalValue = res.Totals.Net()
	res.ItemsCommitted = len(committed)
	return res
}
