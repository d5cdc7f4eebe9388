package returns

import (
	"context"
	"fmt"

	"pharmapos/internal/core/apperror"
	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
)

// ItemRequest is one line of a stateless preview or commit call.
type ItemRequest struct {
	LineItemID        id.ID
	Quantity          int64
	Disposition       Disposition
	Reason            string
	ReplacementItemID *id.ID
}

// Service exposes the engine to request handlers that do not hold a
// Session between calls. Each call rebuilds the catalog from the store.
type Service struct {
	repo      Repository
	loader    *CatalogLoader
	committer *Committer
	observer  Observer
	opts      CommitterOptions
}

// NewService wires the engine. names and observer may be nil.
func NewService(repo Repository, names NameResolver, committer *Committer, observer Observer, opts CommitterOptions) *Service {
	if observer == nil {
		observer = Observers(nil)
	}
	return &Service{
		repo:      repo,
		loader:    NewCatalogLoader(repo, names),
		committer: committer,
		observer:  observer,
		opts:      opts,
	}
}

// ReturnableItems loads the sale's lines that still have something to return.
func (s *Service) ReturnableItems(ctx context.Context, saleID id.ID) (*Catalog, error) {
	return s.loader.Load(ctx, saleID)
}

// NewSession opens an interactive session for the operator in ctx.
func (s *Service) NewSession(ctx context.Context, saleID id.ID) (*Session, error) {
	cat, err := s.loader.Load(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return NewSession(cat, s.committer, s.observer, appctx.GetUserID(ctx), s.opts.MinReasonLength), nil
}

// Preview values the requested lines without writing anything.
func (s *Service) Preview(ctx context.Context, saleID id.ID, reqs []ItemRequest) (*PreviewResult, []ClampWarning, error) {
	cat, err := s.loader.Load(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}

	set, warnings, err := s.configure(ctx, cat, reqs)
	if err != nil {
		return nil, warnings, err
	}

	p, err := GeneratePreview(cat, set)
	if err != nil {
		return nil, warnings, err
	}
	s.observer.OnPreviewReady(ctx, p)
	return p, warnings, nil
}

// Commit configures and commits the requested lines in one call.
//
// Lines already written under commitKey are left out of configuration, so a
// client may resend the full request after a partial failure.
func (s *Service) Commit(ctx context.Context, saleID id.ID, commitKey string, reqs []ItemRequest) (*CommitResult, []ClampWarning, error) {
	actorID := appctx.GetUserID(ctx)
	if actorID == "" {
		return nil, nil, apperror.NewUnauthorized("operator is not signed in")
	}

	var pending []ItemRequest
	if commitKey != "" {
		prior, err := s.repo.ListLedgerByCommitKey(ctx, commitKey)
		if err != nil {
			return nil, nil, fmt.Errorf("load prior ledger: %w", err)
		}
		done := make(map[id.ID]bool)
		for _, o := range appliedOutcomes(prior) {
			done[o.LineItemID] = true
		}
		for _, r := range reqs {
			if !done[r.LineItemID] {
				pending = append(pending, r)
			}
		}
	} else {
		pending = reqs
	}

	var (
		items    []ItemConfiguration
		warnings []ClampWarning
	)
	if len(pending) > 0 || commitKey == "" {
		cat, err := s.loader.Load(ctx, saleID)
		if err != nil {
			return nil, nil, err
		}
		set, w, err := s.configure(ctx, cat, pending)
		warnings = w
		if err != nil {
			return nil, warnings, err
		}
		items = set.Selected()
	}

	res, err := s.committer.Commit(ctx, CommitRequest{
		SaleID:    saleID,
		CommitKey: commitKey,
		ActorID:   actorID,
		Items:     items,
	})
	return res, warnings, err
}

// Ledger lists every record and link written for a sale.
func (s *Service) Ledger(ctx context.Context, saleID id.ID) (Ledger, error) {
	if _, err := s.repo.GetSaleGSTPercentage(ctx, saleID); err != nil {
		return Ledger{}, err
	}
	return s.repo.ListLedgerBySale(ctx, saleID)
}

func (s *Service) configure(ctx context.Context, cat *Catalog, reqs []ItemRequest) (*ConfigurationSet, []ClampWarning, error) {
	set := NewConfigurationSet(cat, s.opts.MinReasonLength)
	var warnings []ClampWarning

	for i, r := range reqs {
		in := ConfigureInput{
			Quantity:    r.Quantity,
			Disposition: r.Disposition,
			Reason:      r.Reason,
		}
		if r.Disposition == DispositionExchange && r.ReplacementItemID != nil {
			repl, err := s.repo.GetInventoryItem(ctx, *r.ReplacementItemID)
			if apperror.IsNotFound(err) {
				return nil, warnings, apperror.NewFieldValidation(
					fmt.Sprintf("items[%d].replacement", i), "replacement item does not exist")
			}
			if err != nil {
				return nil, warnings, fmt.Errorf("load replacement: %w", err)
			}
			in.Replacement = repl
		}

		w, err := set.Configure(r.LineItemID, in)
		if err != nil {
			return nil, warnings, prefixFields(err, i)
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	if err := set.Validate(); err != nil {
		return nil, warnings, err
	}
	return set, warnings, nil
}

// prefixFields rewrites single-line field keys to items[i].field.
func prefixFields(err error, i int) error {
	appErr, ok := apperror.AsAppError(err)
	if !ok || len(appErr.Fields()) == 0 {
		return err
	}
	fields := make(map[string]string, len(appErr.Fields()))
	for k, v := range appErr.Fields() {
		fields[fmt.Sprintf("items[%d].%s", i, k)] = v
	}
	appErr.Details["fields"] = fields
	return err
}
