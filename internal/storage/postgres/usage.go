package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

var _ usage.Repository = (*UsageRepository)(nil)

// UsageRepository stores usage records in the usage_records table.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// List returns the records inside scope in insertion order.
func (r *UsageRepository) List(ctx context.Context, scope usage.Scope) ([]usage.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if scope.PartnerID != "" {
		add("partner_id = $%d", scope.PartnerID)
	}
	if scope.VoucherID != "" {
		add("voucher_id = $%d", scope.VoucherID)
	}
	if !scope.From.IsZero() {
		add("used_at >= $%d", scope.From)
	}
	if !scope.To.IsZero() {
		add("used_at < $%d", scope.To)
	}

	var sb strings.Builder
	sb.WriteString(`
SELECT id, voucher_id, customer_id, partner_id, service_ids, order_price, total_discount, used_at
FROM usage_records`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY seq")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "select usage records")
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, errors.Wrap(err, "scan usage records")
	}
	return records, nil
}

// Insert stores records, skipping ids that already exist. It returns the
// number of rows actually written.
func (r *UsageRepository) Insert(ctx context.Context, records []usage.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			queueRecord(batch, rec).Exec(func(tag pgconn.CommandTag) error {
				inserted += tag.RowsAffected()
				return nil
			})
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert usage records")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Exists reports whether a record with the given id is stored.
func (r *UsageRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM usage_records WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check usage record %q", id)
	}
	return exists, nil
}

// EachID calls fn for every stored record id.
func (r *UsageRepository) EachID(ctx context.Context, fn func(id string) error) error {
	rows, err := r.pool.Query(ctx, `SELECT id FROM usage_records`)
	if err != nil {
		return errors.Wrap(err, "select usage ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "scan usage id")
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate usage ids")
	}
	return nil
}

const insertUsage = `
INSERT INTO usage_records (id, voucher_id, customer_id, partner_id, service_ids,
                           order_price, total_discount, used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

func queueRecord(batch *pgx.Batch, rec usage.Record) *pgx.QueuedQuery {
	return batch.Queue(insertUsage, recordArgs(rec)...)
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec usage.Record) (int64, error) {
	tag, err := tx.Exec(ctx, insertUsage, recordArgs(rec)...)
	if err != nil {
		return 0, errors.Wrapf(err, "insert usage record %q", rec.ID)
	}
	return tag.RowsAffected(), nil
}

func recordArgs(rec usage.Record) []any {
	var usedAt *time.Time
	if rec.HasDate() {
		t := rec.Date.UTC()
		usedAt = &t
	}
	return []any{
		rec.ID, rec.VoucherID, rec.CustomerID, rec.PartnerID, serviceIDs(rec.ServiceIDs),
		rec.OrderPrice, rec.TotalDiscount, usedAt,
	}
}

func scanRecord(row pgx.CollectableRow) (usage.Record, error) {
	var (
		rec    usage.Record
		usedAt *time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.VoucherID, &rec.CustomerID, &rec.PartnerID, &rec.ServiceIDs,
		&rec.OrderPrice, &rec.TotalDiscount, &usedAt,
	); err != nil {
		return usage.Record{}, err
	}
	if usedAt != nil {
		rec.Date = usedAt.UTC()
	}
	if len(rec.ServiceIDs) == 0 {
		rec.ServiceIDs = nil
	}
	return rec, nil
}
