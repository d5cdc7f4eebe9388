// Package returns_repo is the PostgreSQL implementation of returns.Repository.
//
// Stock and returned-quantity changes are single conditional UPDATEs that
// apply a delta to the current row, so concurrent commits cannot overwrite
// each other and the CHECK constraints are never the first line of defence.
package returns_repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/storage/postgres"
)

const (
	salesTable            = "sales"
	lineItemsTable        = "sale_line_items"
	inventoryTable        = "inventory_items"
	returnRecordsTable    = "return_records"
	replacementLinksTable = "replacement_links"
)

var (
	lineItemCols        = postgres.ExtractDBColumns[returns.SaleLineItem]()
	inventoryCols       = postgres.ExtractDBColumns[returns.InventoryItem]()
	returnRecordCols    = postgres.ExtractDBColumns[returns.ReturnRecord]()
	replacementLinkCols = postgres.ExtractDBColumns[returns.ReplacementLink]()
)

// querierSource hands out the transaction bound to ctx, or the pool.
// *postgres.TxManager is the production implementation.
type querierSource interface {
	GetQuerier(ctx context.Context) postgres.Querier
}

// Repo implements returns.Repository and returns.NameResolver.
type Repo struct {
	txm     querierSource
	builder squirrel.StatementBuilderType
}

var (
	_ returns.Repository   = (*Repo)(nil)
	_ returns.NameResolver = (*Repo)(nil)
)

// New creates a repository. Calls join the transaction in ctx when there is one.
func New(txm *postgres.TxManager) *Repo {
	return newRepo(txm)
}

func newRepo(txm querierSource) *Repo {
	return &Repo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *Repo) GetSaleGSTPercentage(ctx context.Context, saleID id.ID) (types.Percent, error) {
	sql, args, err := r.builder.Select("gst_percentage").
		From(salesTable).
		Where(squirrel.Eq{"id": saleID}).
		ToSql()
	if err != nil {
		return types.Zero(), fmt.Errorf("build query: %w", err)
	}

	var gst types.Percent
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&gst); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Zero(), apperror.NewNotFound("sale", saleID.String())
		}
		return types.Zero(), postgres.TranslateError(fmt.Errorf("get sale gst: %w", err))
	}
	return gst, nil
}

func (r *Repo) GetSaleLineItems(ctx context.Context, saleID id.ID) ([]returns.SaleLineItem, error) {
	sql, args, err := r.builder.Select(lineItemCols...).
		From(lineItemsTable).
		Where(squirrel.Eq{"sale_id": saleID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []returns.SaleLineItem
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, postgres.TranslateError(fmt.Errorf("select line items: %w", err))
	}
	return items, nil
}

func (r *Repo) GetInventoryItem(ctx context.Context, itemID id.ID) (*returns.InventoryItem, error) {
	sql, args, err := r.builder.Select(inventoryCols...).
		From(inventoryTable).
		Where(squirrel.Eq{"id": itemID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var item returns.InventoryItem
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &item, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("inventory item", itemID.String())
		}
		return nil, postgres.TranslateError(fmt.Errorf("get inventory item: %w", err))
	}
	return &item, nil
}

// AdjustInventoryQuantity applies delta only if the result stays non-negative.
func (r *Repo) AdjustInventoryQuantity(ctx context.Context, itemID id.ID, delta int64) (*returns.InventoryItem, error) {
	sql, args, err := r.builder.Update(inventoryTable).
		Set("on_hand_quantity", squirrel.Expr("on_hand_quantity + ?", delta)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": itemID}).
		Where(squirrel.Expr("on_hand_quantity + ? >= 0", delta)).
		Suffix("RETURNING " + joinCols(inventoryCols)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var item returns.InventoryItem
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &item, sql, args...)
	switch {
	case err == nil:
		return &item, nil
	case pgxscan.NotFound(err):
		current, getErr := r.GetInventoryItem(ctx, itemID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperror.NewInsufficientStock(itemID.String(), -delta, current.OnHandQuantity)
	case postgres.IsCheckViolation(err):
		return nil, apperror.NewInsufficientStock(itemID.String(), -delta, 0).WithCause(err)
	default:
		return nil, postgres.TranslateError(fmt.Errorf("adjust inventory: %w", err))
	}
}

// IncrementReturnedQuantity adds delta only if the result stays within what was sold.
func (r *Repo) IncrementReturnedQuantity(ctx context.Context, lineItemID id.ID, delta int64) (*returns.SaleLineItem, error) {
	sql, args, err := r.builder.Update(lineItemsTable).
		Set("returned_quantity", squirrel.Expr("returned_quantity + ?", delta)).
		Where(squirrel.Eq{"id": lineItemID}).
		Where(squirrel.Expr("returned_quantity + ? BETWEEN 0 AND quantity_sold", delta)).
		Suffix("RETURNING " + joinCols(lineItemCols)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var line returns.SaleLineItem
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &line, sql, args...)
	switch {
	case err == nil:
		return &line, nil
	case pgxscan.NotFound(err) || postgres.IsCheckViolation(err):
		exists, existsErr := r.lineExists(ctx, lineItemID)
		if existsErr != nil {
			return nil, existsErr
		}
		if !exists {
			return nil, apperror.NewNotFound("sale line item", lineItemID.String())
		}
		return nil, apperror.NewValidation("returned quantity would exceed quantity sold").
			WithDetail("line_item_id", lineItemID.String()).
			WithDetail("delta", delta)
	default:
		return nil, postgres.TranslateError(fmt.Errorf("increment returned quantity: %w", err))
	}
}

func (r *Repo) lineExists(ctx context.Context, lineItemID id.ID) (bool, error) {
	var exists bool
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sale_line_items WHERE id = $1)`, lineItemID).Scan(&exists)
	if err != nil {
		return false, postgres.TranslateError(fmt.Errorf("check line item: %w", err))
	}
	return exists, nil
}

// InsertReturnRecord inserts rec; a record already stored under the same
// idempotency key wins and its id is copied into rec.
func (r *Repo) InsertReturnRecord(ctx context.Context, rec *returns.ReturnRecord) (bool, error) {
	return r.insertOnce(ctx, returnRecordsTable, rec, rec.IdempotencyKey, &rec.ID)
}

// InsertReplacementLink has the same contract as InsertReturnRecord.
func (r *Repo) InsertReplacementLink(ctx context.Context, link *returns.ReplacementLink) (bool, error) {
	return r.insertOnce(ctx, replacementLinksTable, link, link.IdempotencyKey, &link.ID)
}

func (r *Repo) insertOnce(ctx context.Context, table string, row any, idempotencyKey string, rowID *id.ID) (bool, error) {
	sql, args, err := r.builder.Insert(table).
		SetMap(postgres.StructToMap(row)).
		Suffix("ON CONFLICT (idempotency_key) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	q := r.txm.GetQuerier(ctx)
	var inserted id.ID
	err = q.QueryRow(ctx, sql, args...).Scan(&inserted)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, postgres.TranslateError(fmt.Errorf("insert into %s: %w", table, err))
	}

	var existing id.ID
	err = q.QueryRow(ctx,
		"SELECT id FROM "+table+" WHERE idempotency_key = $1", idempotencyKey).Scan(&existing)
	if err != nil {
		return false, postgres.TranslateError(fmt.Errorf("find existing %s row: %w", table, err))
	}
	*rowID = existing
	return false, nil
}

func (r *Repo) ListLedgerByCommitKey(ctx context.Context, commitKey string) (returns.Ledger, error) {
	return r.ledger(ctx, squirrel.Eq{"commit_key": commitKey})
}

func (r *Repo) ListLedgerBySale(ctx context.Context, saleID id.ID) (returns.Ledger, error) {
	return r.ledger(ctx, squirrel.Eq{"sale_id": saleID})
}

func (r *Repo) ledger(ctx context.Context, where squirrel.Eq) (returns.Ledger, error) {
	var l returns.Ledger
	q := r.txm.GetQuerier(ctx)

	sql, args, err := r.builder.Select(returnRecordCols...).
		From(returnRecordsTable).Where(where).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return l, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, q, &l.Records, sql, args...); err != nil {
		return l, postgres.TranslateError(fmt.Errorf("select return records: %w", err))
	}

	sql, args, err = r.builder.Select(replacementLinkCols...).
		From(replacementLinksTable).Where(where).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return l, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, q, &l.Links, sql, args...); err != nil {
		return l, postgres.TranslateError(fmt.Errorf("select replacement links: %w", err))
	}

	return l, nil
}

// ResolveInventoryNames implements returns.NameResolver.
func (r *Repo) ResolveInventoryNames(ctx context.Context, itemIDs []id.ID) (map[id.ID]string, error) {
	out := make(map[id.ID]string, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	sql, args, err := r.builder.Select("id", "name").
		From(inventoryTable).
		Where(squirrel.Eq{"id": itemIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []struct {
		ID   id.ID  `db:"id"`
		Name string `db:"name"`
	}
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, postgres.TranslateError(fmt.Errorf("select inventory names: %w", err))
	}
	for _, row := range rows {
		out[row.ID] = row.Name
	}
	return out, nil
}

func joinCols(cols []string) string {
	return strings.Join(cols, ", ")
}
