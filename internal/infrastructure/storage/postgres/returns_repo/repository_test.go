package returns_repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/storage/postgres"
)

// reply is one canned answer, consumed in call order.
type reply struct {
	cols []string
	rows [][]any
	err  error
}

type call struct {
	sql  string
	args []any
}

// scriptedQuerier answers Query and QueryRow from a script and records
// what it was asked.
type scriptedQuerier struct {
	t       *testing.T
	replies []reply
	calls   []call
}

func script(t *testing.T, replies ...reply) *scriptedQuerier {
	return &scriptedQuerier{t: t, replies: replies}
}

func (q *scriptedQuerier) GetQuerier(ctx context.Context) postgres.Querier { return q }

func (q *scriptedQuerier) next(sql string, args []any) reply {
	q.calls = append(q.calls, call{sql: sql, args: args})
	if len(q.replies) == 0 {
		q.t.Fatalf("unexpected query: %s", sql)
	}
	r := q.replies[0]
	q.replies = q.replies[1:]
	return r
}

func (q *scriptedQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r := q.next(sql, args)
	return pgconn.NewCommandTag("UPDATE 1"), r.err
}

func (q *scriptedQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := q.next(sql, args)
	if r.err != nil {
		return nil, r.err
	}
	return &scriptedRows{reply: r}, nil
}

func (q *scriptedQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &scriptedRow{reply: q.next(sql, args)}
}

type scriptedRow struct{ reply reply }

func (r *scriptedRow) Scan(dest ...any) error {
	if r.reply.err != nil {
		return r.reply.err
	}
	if len(r.reply.rows) == 0 {
		return pgx.ErrNoRows
	}
	return assign(r.reply.rows[0], dest)
}

type scriptedRows struct {
	reply reply
	pos   int
}

func (r *scriptedRows) Close()                        {}
func (r *scriptedRows) Err() error                    { return nil }
func (r *scriptedRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *scriptedRows) RawValues() [][]byte           { return nil }
func (r *scriptedRows) Conn() *pgx.Conn               { return nil }

func (r *scriptedRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.reply.cols))
	for i, c := range r.reply.cols {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

func (r *scriptedRows) Next() bool {
	if r.pos >= len(r.reply.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *scriptedRows) Scan(dest ...any) error { return assign(r.reply.rows[r.pos-1], dest) }

func (r *scriptedRows) Values() ([]any, error) { return r.reply.rows[r.pos-1], nil }

func assign(row []any, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(row), len(dest))
	}
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

var inventoryRowCols = []string{"id", "name", "on_hand_quantity", "unit_cost"}

func inventoryRow(itemID id.ID, onHand int64) reply {
	return reply{
		cols: inventoryRowCols,
		rows: [][]any{{itemID, "Paracetamol 500mg", onHand, types.MustMoney("35")}},
	}
}

func TestAdjustInventoryQuantity_Applied(t *testing.T) {
	itemID := id.New()
	q := script(t, inventoryRow(itemID, 3))

	item, err := newRepo(q).AdjustInventoryQuantity(context.Background(), itemID, -2)

	require.NoError(t, err)
	assert.Equal(t, int64(3), item.OnHandQuantity)
	require.Len(t, q.calls, 1)
	assert.Contains(t, q.calls[0].sql, "on_hand_quantity + $")
	assert.Contains(t, q.calls[0].sql, ">= 0")
	assert.Equal(t, int64(-2), q.calls[0].args[0])
}

func TestAdjustInventoryQuantity_InsufficientStock(t *testing.T) {
	itemID := id.New()
	q := script(t,
		reply{cols: inventoryRowCols},
		inventoryRow(itemID, 2),
	)

	_, err := newRepo(q).AdjustInventoryQuantity(context.Background(), itemID, -5)

	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, int64(5), appErr.Details["requested"])
	assert.Equal(t, int64(2), appErr.Details["available"])
	assert.Len(t, q.calls, 2)
}

func TestAdjustInventoryQuantity_CheckViolation(t *testing.T) {
	q := script(t, reply{err: &pgconn.PgError{Code: "23514", ConstraintName: "inventory_items_on_hand_check"}})

	_, err := newRepo(q).AdjustInventoryQuantity(context.Background(), id.New(), -1)

	assert.True(t, apperror.IsInsufficientStock(err))
}

func TestAdjustInventoryQuantity_ConnectionError(t *testing.T) {
	q := script(t, reply{err: errors.New("connection reset by peer")})

	_, err := newRepo(q).AdjustInventoryQuantity(context.Background(), id.New(), -1)

	assert.True(t, apperror.HasCode(err, apperror.CodeDatabase))
}

func TestIncrementReturnedQuantity_OverReturn(t *testing.T) {
	lineID := id.New()
	q := script(t,
		reply{cols: []string{"id"}},
		reply{rows: [][]any{{true}}},
	)

	_, err := newRepo(q).IncrementReturnedQuantity(context.Background(), lineID, 4)

	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	require.Len(t, q.calls, 2)
	assert.Contains(t, q.calls[0].sql, "BETWEEN 0 AND quantity_sold")
	assert.Equal(t, lineID, q.calls[1].args[0])
}

func TestIncrementReturnedQuantity_UnknownLine(t *testing.T) {
	q := script(t,
		reply{cols: []string{"id"}},
		reply{rows: [][]any{{false}}},
	)

	_, err := newRepo(q).IncrementReturnedQuantity(context.Background(), id.New(), 1)

	assert.True(t, apperror.IsNotFound(err))
}

func TestIncrementReturnedQuantity_CheckViolationOnExistingLine(t *testing.T) {
	q := script(t,
		reply{err: &pgconn.PgError{Code: "23514"}},
		reply{rows: [][]any{{true}}},
	)

	_, err := newRepo(q).IncrementReturnedQuantity(context.Background(), id.New(), 1)

	assert.True(t, apperror.IsValidation(err))
}

func TestInsertReturnRecord_New(t *testing.T) {
	rec := &returns.ReturnRecord{ID: id.New(), IdempotencyKey: "c1:line"}
	q := script(t, reply{rows: [][]any{{rec.ID}}})
	original := rec.ID

	created, err := newRepo(q).InsertReturnRecord(context.Background(), rec)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, original, rec.ID)
	require.Len(t, q.calls, 1)
	assert.Contains(t, q.calls[0].sql, "ON CONFLICT (idempotency_key) DO NOTHING")
}

func TestInsertReturnRecord_AlreadyInserted(t *testing.T) {
	existing := id.New()
	rec := &returns.ReturnRecord{ID: id.New(), IdempotencyKey: "c1:line"}
	q := script(t,
		reply{},
		reply{rows: [][]any{{existing}}},
	)

	created, err := newRepo(q).InsertReturnRecord(context.Background(), rec)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, rec.ID)
	require.Len(t, q.calls, 2)
	assert.Contains(t, q.calls[1].sql, "FROM return_records WHERE idempotency_key = $1")
	assert.Equal(t, "c1:line", q.calls[1].args[0])
}

func TestInsertReplacementLink_AlreadyInserted(t *testing.T) {
	existing := id.New()
	link := &returns.ReplacementLink{ID: id.New(), IdempotencyKey: "c1:line"}
	q := script(t,
		reply{},
		reply{rows: [][]any{{existing}}},
	)

	created, err := newRepo(q).InsertReplacementLink(context.Background(), link)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, link.ID)
	assert.Contains(t, q.calls[1].sql, "FROM replacement_links")
}
