package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/returns"
	"pharmapos/pkg/logger"
)

// AuditOutcome is how a commit attempt ended.
type AuditOutcome string

const (
	AuditOutcomeCommitted      AuditOutcome = "committed"
	AuditOutcomePartialFailure AuditOutcome = "partial_failure"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the payload size above which payloads are stored zstd-compressed.
const DefaultCompressThreshold = 10 * 1024

// CommitAuditEntry is one row of sys_commit_audit.
type CommitAuditEntry struct {
	ID                id.ID           `db:"id"`
	CommitKey         string          `db:"commit_key"`
	SaleID            *id.ID          `db:"sale_id"`
	ReturnNumber      string          `db:"return_number"`
	Outcome           AuditOutcome    `db:"outcome"`
	ActorID           string          `db:"actor_id"`
	Summary           string          `db:"summary"`
	Payload           json.RawMessage `db:"payload"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

// CommitAudit keeps an append-only trail of every commit attempt.
// It is a returns.Observer; a failed audit write is logged and never fails the commit.
type CommitAudit struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ returns.Observer = (*CommitAudit)(nil)

// NewCommitAudit creates the audit observer. threshold <= 0 selects DefaultCompressThreshold.
func NewCommitAudit(txManager *TxManager, threshold int) (*CommitAudit, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}

	return &CommitAudit{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: threshold,
	}, nil
}

func (a *CommitAudit) OnPreviewReady(context.Context, *returns.PreviewResult) {}

func (a *CommitAudit) OnCommitSucceeded(ctx context.Context, result *returns.CommitResult) {
	saleID := result.SaleID
	a.record(ctx, CommitAuditEntry{
		CommitKey:    result.CommitKey,
		SaleID:       &saleID,
		ReturnNumber: result.ReturnNumber,
		Outcome:      AuditOutcomeCommitted,
		Summary:      result.Summary(),
	}, result)
}

// failedItem carries the error text that ItemOutcome leaves out of its JSON form.
type failedItem struct {
	returns.ItemOutcome
	Error string `json:"error,omitempty"`
}

func (a *CommitAudit) OnCommitFailed(ctx context.Context, failure *returns.PartialFailureError) {
	failed := make([]failedItem, len(failure.Failed))
	for i, o := range failure.Failed {
		failed[i] = failedItem{ItemOutcome: o}
		if o.Err != nil {
			failed[i].Error = o.Err.Error()
		} else {
			failed[i].Error = "not attempted"
		}
	}

	var saleID *id.ID
	if !id.IsNil(failure.SaleID) {
		s := failure.SaleID
		saleID = &s
	}

	a.record(ctx, CommitAuditEntry{
		CommitKey:    failure.CommitKey,
		SaleID:       saleID,
		ReturnNumber: failure.ReturnNumber,
		Outcome:      AuditOutcomePartialFailure,
		Summary:      failure.Summary(),
	}, map[string]any{
		"committed": failure.Committed,
		"failed":    failed,
	})
}

func (a *CommitAudit) record(ctx context.Context, entry CommitAuditEntry, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error(ctx, "marshal commit audit payload", "commit_key", entry.CommitKey, "error", err)
		return
	}
	entry.Payload = body

	if err := a.Log(ctx, entry); err != nil {
		logger.Error(ctx, "write commit audit", "commit_key", entry.CommitKey, "error", err)
	}
}

// Log inserts entry, filling id, actor, timestamp and compression.
func (a *CommitAudit) Log(ctx context.Context, entry CommitAuditEntry) error {
	if entry.ActorID == "" {
		entry.ActorID = appctx.GetUserID(ctx)
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	a.compress(&entry)

	sql := `
		INSERT INTO sys_commit_audit (
			id, commit_key, sale_id, return_number, outcome, actor_id,
			summary, payload, payload_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := a.txManager.GetQuerier(ctx).Exec(ctx, sql,
		entry.ID, entry.CommitKey, entry.SaleID, entry.ReturnNumber, entry.Outcome, entry.ActorID,
		entry.Summary, entry.Payload, entry.PayloadCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return TranslateError(fmt.Errorf("insert commit audit: %w", err))
	}
	return nil
}

// History returns every audit row for a commit key, oldest first, with payloads decompressed.
func (a *CommitAudit) History(ctx context.Context, commitKey string) ([]CommitAuditEntry, error) {
	sql := `
		SELECT id, commit_key, sale_id, return_number, outcome, actor_id,
			   summary, payload, payload_compressed, compression_algo, created_at
		FROM sys_commit_audit
		WHERE commit_key = $1
		ORDER BY created_at, id
	`

	rows, err := a.txManager.GetQuerier(ctx).Query(ctx, sql, commitKey)
	if err != nil {
		return nil, TranslateError(fmt.Errorf("query commit audit: %w", err))
	}
	defer rows.Close()

	var entries []CommitAuditEntry
	for rows.Next() {
		var e CommitAuditEntry
		err := rows.Scan(
			&e.ID, &e.CommitKey, &e.SaleID, &e.ReturnNumber, &e.Outcome, &e.ActorID,
			&e.Summary, &e.Payload, &e.PayloadCompressed, &e.CompressionAlgo, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan commit audit: %w", err)
		}
		if err := a.decompress(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Purge deletes audit rows created before cutoff.
func (a *CommitAudit) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_commit_audit WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, TranslateError(fmt.Errorf("purge commit audit: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (a *CommitAudit) compress(entry *CommitAuditEntry) {
	entry.CompressionAlgo = CompressionNone
	if len(entry.Payload) > a.compressThreshold {
		entry.PayloadCompressed = a.encoder.EncodeAll(entry.Payload, nil)
		entry.Payload = nil
		entry.CompressionAlgo = CompressionZstd
	}
}

func (a *CommitAudit) decompress(entry *CommitAuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.PayloadCompressed) == 0 {
		return nil
	}
	payload, err := a.decoder.DecodeAll(entry.PayloadCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress commit audit payload: %w", err)
	}
	entry.Payload = payload
	entry.PayloadCompressed = nil
	return nil
}
