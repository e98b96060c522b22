package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

const selectVoucher = `
SELECT id, partner_id, name, description, percent_discount, release_time,
       expired_time, remain_quantity, state, service_ids
FROM vouchers`

// Create inserts the voucher and its conditions in one transaction.
func (r *VoucherRepository) Create(ctx context.Context, v *voucher.Voucher) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO vouchers (id, partner_id, name, description, percent_discount,
                      release_time, expired_time, remain_quantity, state, service_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.ID, v.PartnerID, v.Name, v.Description, v.PercentDiscount,
			v.ReleaseTime, v.ExpiredTime, v.RemainQuantity, string(v.State), serviceIDs(v.ServiceIDs),
		); err != nil {
			return errors.Wrapf(err, "insert voucher %q", v.ID)
		}
		return insertConditions(ctx, tx, v)
	})
}

// Get loads a voucher with its conditions in their stored order.
func (r *VoucherRepository) Get(ctx context.Context, id string) (*voucher.Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx, selectVoucher+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, errors.Wrapf(err, "select voucher %q", id)
	}

	rows, err := r.pool.Query(ctx, `
SELECT voucher_id, id, min_value, max_value
FROM voucher_conditions WHERE voucher_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "select conditions of %q", id)
	}
	byVoucher, err := collectConditions(rows)
	if err != nil {
		return nil, err
	}
	v.Conditions = byVoucher[id]
	return v, nil
}

// List returns every voucher ordered by creation time.
func (r *VoucherRepository) List(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := r.pool.Query(ctx, selectVoucher+` ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "select vouchers")
	}
	vouchers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (voucher.Voucher, error) {
		v, err := scanVoucher(row)
		if err != nil {
			return voucher.Voucher{}, err
		}
		return *v, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan vouchers")
	}

	rows, err = r.pool.Query(ctx, `
SELECT voucher_id, id, min_value, max_value
FROM voucher_conditions ORDER BY voucher_id, position`)
	if err != nil {
		return nil, errors.Wrap(err, "select conditions")
	}
	byVoucher, err := collectConditions(rows)
	if err != nil {
		return nil, err
	}
	for i := range vouchers {
		vouchers[i].Conditions = byVoucher[vouchers[i].ID]
	}
	return vouchers, nil
}

// Update overwrites the voucher row and replaces its conditions.
func (r *VoucherRepository) Update(ctx context.Context, v *voucher.Voucher) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE vouchers
SET name = $2, description = $3, percent_discount = $4, release_time = $5,
    expired_time = $6, remain_quantity = $7, state = $8, service_ids = $9,
    updated_at = $10
WHERE id = $1`,
			v.ID, v.Name, v.Description, v.PercentDiscount, v.ReleaseTime,
			v.ExpiredTime, v.RemainQuantity, string(v.State), serviceIDs(v.ServiceIDs), time.Now(),
		)
		if err != nil {
			return errors.Wrapf(err, "update voucher %q", v.ID)
		}
		if tag.RowsAffected() == 0 {
			return voucher.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM voucher_conditions WHERE voucher_id = $1`, v.ID); err != nil {
			return errors.Wrapf(err, "delete conditions of %q", v.ID)
		}
		return insertConditions(ctx, tx, v)
	})
}

// Redeem decrements the remaining quantity and appends the usage record.
// The decrement only succeeds while the voucher is enabled, inside its
// window at rec.Date and has quantity left, so neither concurrent
// redemptions nor a concurrent update can let a stale read through.
func (r *VoucherRepository) Redeem(ctx context.Context, voucherID string, rec usage.Record) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE vouchers SET remain_quantity = remain_quantity - 1, updated_at = now()
WHERE id = $1 AND remain_quantity > 0 AND state = 'enabled'
  AND release_time <= $2 AND $2 < expired_time`, voucherID, rec.Date)
		if err != nil {
			return errors.Wrapf(err, "decrement voucher %q", voucherID)
		}
		if tag.RowsAffected() == 0 {
			return redeemRejection(ctx, tx, voucherID, rec.Date)
		}
		if _, err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return nil
	})
}

// redeemRejection explains why the conditional decrement changed no row.
func redeemRejection(ctx context.Context, tx pgx.Tx, voucherID string, at time.Time) error {
	var (
		v     voucher.Voucher
		state string
	)
	err := tx.QueryRow(ctx, `
SELECT state, release_time, expired_time, remain_quantity FROM vouchers WHERE id = $1`, voucherID).
		Scan(&state, &v.ReleaseTime, &v.ExpiredTime, &v.RemainQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return voucher.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "check voucher %q", voucherID)
	}
	v.State = voucher.State(state)
	if err := v.Redeemable(at); err != nil {
		return err
	}
	return errors.Errorf("voucher %q changed during redemption", voucherID)
}

func insertConditions(ctx context.Context, tx pgx.Tx, v *voucher.Voucher) error {
	batch := &pgx.Batch{}
	for i, c := range v.Conditions {
		batch.Queue(`
INSERT INTO voucher_conditions (voucher_id, id, position, min_value, max_value)
VALUES ($1, $2, $3, $4, $5)`, v.ID, c.ID, i, c.MinValue, c.MaxValue)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "insert conditions of %q", v.ID)
	}
	return nil
}

func scanVoucher(row pgx.Row) (*voucher.Voucher, error) {
	var (
		v     voucher.Voucher
		state string
	)
	if err := row.Scan(
		&v.ID, &v.PartnerID, &v.Name, &v.Description, &v.PercentDiscount, &v.ReleaseTime,
		&v.ExpiredTime, &v.RemainQuantity, &state, &v.ServiceIDs,
	); err != nil {
		return nil, err
	}
	v.State = voucher.State(state)
	if len(v.ServiceIDs) == 0 {
		v.ServiceIDs = nil
	}
	return &v, nil
}

func collectConditions(rows pgx.Rows) (map[string][]voucher.Condition, error) {
	defer rows.Close()

	out := make(map[string][]voucher.Condition)
	for rows.Next() {
		var (
			voucherID string
			c         voucher.Condition
		)
		if err := rows.Scan(&voucherID, &c.ID, &c.MinValue, &c.MaxValue); err != nil {
			return nil, errors.Wrap(err, "scan condition")
		}
		out[voucherID] = append(out[voucherID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate conditions")
	}
	return out, nil
}

// serviceIDs maps a nil scope to an empty array for the NOT NULL column.
func serviceIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
