package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
)

const payoutColumns = `id, tg_id, amount_minor, phone, status, created_at, paid_at, rejected_at`

// CreatePayoutRequest debits the balance and records a pending request in one
// transaction. The conditional debit keeps the balance non-negative under
// concurrent requests.
func (r *LedgerRepo) CreatePayoutRequest(ctx context.Context, userID, amountMinor int64, phone string, now time.Time) (model.PayoutRequest, error) {
	if r.pool == nil {
		return model.PayoutRequest{}, fmt.Errorf("postgres pool is nil")
	}
	if amountMinor <= 0 {
		return model.PayoutRequest{}, model.ErrInvalidAmount
	}

	var out model.PayoutRequest
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(txCtx, `
UPDATE users
SET balance_minor = balance_minor - $2
WHERE tg_id = $1
  AND balance_minor >= $2
`, userID, amountMinor)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM users WHERE tg_id = $1)`, userID).Scan(&exists); err != nil {
				return fmt.Errorf("check user: %w", err)
			}
			if !exists {
				return model.ErrUserNotFound
			}
			return model.ErrInsufficientBalance
		}

		out, err = scanPayout(tx.QueryRow(txCtx, `
INSERT INTO payouts (tg_id, amount_minor, phone, status, created_at)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING `+payoutColumns+`
`, userID, amountMinor, strings.TrimSpace(phone), now.UTC()))
		if err != nil {
			return fmt.Errorf("insert payout request: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.PayoutRequest{}, err
	}
	return out, nil
}

func (r *LedgerRepo) GetPayout(ctx context.Context, id int64) (model.PayoutRequest, error) {
	if r.pool == nil {
		return model.PayoutRequest{}, fmt.Errorf("postgres pool is nil")
	}

	payout, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PayoutRequest{}, model.ErrPayoutNotFound
		}
		return model.PayoutRequest{}, fmt.Errorf("get payout request: %w", err)
	}
	return payout, nil
}

func (r *LedgerRepo) ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	limit = clampLimit(limit)

	rows, err := r.pool.Query(ctx, `
SELECT `+payoutColumns+`
FROM payouts
WHERE status = 'pending'
ORDER BY id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payouts: %w", err)
	}
	defer rows.Close()

	out := make([]model.PayoutRequest, 0, limit)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout request: %w", err)
		}
		out = append(out, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout requests: %w", err)
	}
	return out, nil
}

// MarkPayoutPaid is idempotent for an already paid request. The bool reports
// whether this call changed the status.
func (r *LedgerRepo) MarkPayoutPaid(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error) {
	if r.pool == nil {
		return model.PayoutRequest{}, false, fmt.Errorf("postgres pool is nil")
	}

	payout, err := scanPayout(r.pool.QueryRow(ctx, `
UPDATE payouts
SET status = 'paid', paid_at = $2
WHERE id = $1
  AND status = 'pending'
RETURNING `+payoutColumns+`
`, id, now.UTC()))
	if err == nil {
		return payout, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.PayoutRequest{}, false, fmt.Errorf("mark payout paid: %w", err)
	}

	current, err := r.GetPayout(ctx, id)
	if err != nil {
		return model.PayoutRequest{}, false, err
	}
	if current.Status != enums.PayoutStatusPaid {
		return current, false, model.ErrPayoutNotPending
	}
	return current, false, nil
}

// RejectPayout closes a pending request and refunds its amount to the user.
func (r *LedgerRepo) RejectPayout(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error) {
	if r.pool == nil {
		return model.PayoutRequest{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		out     model.PayoutRequest
		changed bool
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		payout, err := scanPayout(tx.QueryRow(txCtx, `
UPDATE payouts
SET status = 'rejected', rejected_at = $2
WHERE id = $1
  AND status = 'pending'
RETURNING `+payoutColumns+`
`, id, now.UTC()))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("reject payout: %w", err)
			}
			current, err := scanPayout(tx.QueryRow(txCtx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrPayoutNotFound
				}
				return fmt.Errorf("load payout request: %w", err)
			}
			out = current
			if current.Status != enums.PayoutStatusRejected {
				return model.ErrPayoutNotPending
			}
			return nil
		}

		if _, err := tx.Exec(txCtx, `
UPDATE users SET balance_minor = balance_minor + $2 WHERE tg_id = $1
`, payout.UserID, payout.AmountMinor); err != nil {
			return fmt.Errorf("refund payout: %w", err)
		}
		out = payout
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrPayoutNotPending) {
			return out, false, err
		}
		return model.PayoutRequest{}, false, err
	}
	return out, changed, nil
}

func scanPayout(row pgx.Row) (model.PayoutRequest, error) {
	var payout model.PayoutRequest
	if err := row.Scan(
		&payout.ID,
		&payout.UserID,
		&payout.AmountMinor,
		&payout.Phone,
		&payout.Status,
		&payout.CreatedAt,
		&payout.PaidAt,
		&payout.RejectedAt,
	); err != nil {
		return model.PayoutRequest{}, err
	}
	payout.CreatedAt = payout.CreatedAt.UTC()
	payout.PaidAt = utcPtr(payout.PaidAt)
	payout.RejectedAt = utcPtr(payout.RejectedAt)
	return payout, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
