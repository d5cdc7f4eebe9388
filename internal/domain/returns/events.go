package returns

import (
	"context"

	"pharmapos/internal/core/types"
	"pharmapos/pkg/logger"
)

// Observer is notified after the engine has produced a typed result.
// Callers still receive the result or error directly; observers are for
// side channels such as audit trails and logs.
type Observer interface {
	OnPreviewReady(ctx context.Context, preview *PreviewResult)
	OnCommitSucceeded(ctx context.Context, result *CommitResult)
	OnCommitFailed(ctx context.Context, failure *PartialFailureError)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) OnPreviewReady(ctx context.Context, preview *PreviewResult) {
	for _, obs := range o {
		obs.OnPreviewReady(ctx, preview)
	}
}

func (o Observers) OnCommitSucceeded(ctx context.Context, result *CommitResult) {
	for _, obs := range o {
		obs.OnCommitSucceeded(ctx, result)
	}
}

func (o Observers) OnCommitFailed(ctx context.Context, failure *PartialFailureError) {
	for _, obs := range o {
		obs.OnCommitFailed(ctx, failure)
	}
}

// LogObserver writes one line per event.
type LogObserver struct{}

func (LogObserver) OnPreviewReady(ctx context.Context, preview *PreviewResult) {
	logger.Debug(ctx, "return preview ready",
		"sale_id", preview.SaleID,
		"items", preview.ItemCount,
		"total", types.Display(preview.Total),
	)
}

func (LogObserver) OnCommitSucceeded(ctx context.Context, result *CommitResult) {
	logger.Info(ctx, "return committed",
		"sale_id", result.SaleID,
		"return_number", result.ReturnNumber,
		"items", result.ItemsCommitted,
		"total", types.Display(result.TotalValue),
	)
}

func (LogObserver) OnCommitFailed(ctx context.Context, failure *PartialFailureError) {
	logger.Error(ctx, "return commit failed",
		"commit_key", failure.CommitKey,
		"committed", len(failure.Committed),
		"failed", len(failure.Failed),
		"summary", failure.Summary(),
	)
}

var (
	_ Observer = Observers(nil)
	_ Observer = LogObserver{}
)
