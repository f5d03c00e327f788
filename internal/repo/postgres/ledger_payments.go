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
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
)

const paymentColumns = `tx_ref, tg_id, amount_minor, status, provider_txn_id, created_at, settled_at`

func (r *LedgerRepo) RecordPaymentAttempt(ctx context.Context, txRef string, userID, amountMinor int64, now time.Time) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" || userID <= 0 {
		return false, fmt.Errorf("invalid payment attempt payload")
	}
	if amountMinor <= 0 {
		return false, model.ErrInvalidAmount
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO payments (tx_ref, tg_id, amount_minor, status, created_at)
VALUES ($1, $2, $3, 'pending', $4)
ON CONFLICT (tx_ref) DO NOTHING
`, txRef, userID, amountMinor, now.UTC())
	if err != nil {
		return false, fmt.Errorf("record payment attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepo) GetPayment(ctx context.Context, txRef string) (model.Payment, error) {
	if r.pool == nil {
		return model.Payment{}, fmt.Errorf("postgres pool is nil")
	}

	payment, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tx_ref = $1`, strings.TrimSpace(txRef)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, model.ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// MarkPaymentSuccess moves a pending payment to success. The returned bool
// is true only for the call that performed the transition.
func (r *LedgerRepo) MarkPaymentSuccess(ctx context.Context, txRef, providerTxnID string, now time.Time) (model.Payment, bool, error) {
	if r.pool == nil {
		return model.Payment{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		out          model.Payment
		transitioned bool
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		var err error
		out, transitioned, err = markPaymentSuccessTx(txCtx, tx, strings.TrimSpace(txRef), providerTxnID, now.UTC())
		return err
	})
	if err != nil {
		return model.Payment{}, false, err
	}
	return out, transitioned, nil
}

func (r *LedgerRepo) ApplySubscriptionAndReferral(ctx context.Context, userID int64, planDays int, bonusMinor int64, now time.Time) (model.Grant, error) {
	if r.pool == nil {
		return model.Grant{}, fmt.Errorf("postgres pool is nil")
	}

	var grant model.Grant
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		var err error
		grant, err = applyGrantTx(txCtx, tx, userID, planDays, bonusMinor, "", now.UTC())
		return err
	})
	if err != nil {
		return model.Grant{}, err
	}
	return grant, nil
}

// SettlePayment records the payment if needed, transitions it to success and
// applies the grant in one transaction. A payment that is already successful
// yields AlreadySettled and no changes.
func (r *LedgerRepo) SettlePayment(ctx context.Context, in model.SettleInput, now time.Time) (model.SettleOutcome, error) {
	if r.pool == nil {
		return model.SettleOutcome{}, fmt.Errorf("postgres pool is nil")
	}
	in.TxRef = strings.TrimSpace(in.TxRef)
	if in.TxRef == "" || in.UserID <= 0 {
		return model.SettleOutcome{}, fmt.Errorf("invalid settle payload")
	}
	if in.AmountMinor <= 0 {
		return model.SettleOutcome{}, model.ErrInvalidAmount
	}
	now = now.UTC()

	var out model.SettleOutcome
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		out = model.SettleOutcome{}
		if _, err := tx.Exec(txCtx, `
INSERT INTO payments (tx_ref, tg_id, amount_minor, status, created_at)
VALUES ($1, $2, $3, 'pending', $4)
ON CONFLICT (tx_ref) DO NOTHING
`, in.TxRef, in.UserID, in.AmountMinor, now); err != nil {
			if isForeignKeyViolation(err) {
				return model.ErrUserNotFound
			}
			return fmt.Errorf("insert payment on settle: %w", err)
		}

		payment, transitioned, err := markPaymentSuccessTx(txCtx, tx, in.TxRef, in.ProviderTxnID, now)
		if err != nil {
			return err
		}
		out.Payment = payment
		if !transitioned {
			out.AlreadySettled = true
			return nil
		}
		if payment.UserID != in.UserID {
			return model.ErrPaymentOwnerMismatch
		}

		grant, err := applyGrantTx(txCtx, tx, in.UserID, in.PlanDays, in.BonusMinor, in.TxRef, now)
		if err != nil {
			return err
		}
		out.Grant = grant
		return nil
	})
	if err != nil {
		return model.SettleOutcome{}, err
	}
	return out, nil
}

func (r *LedgerRepo) ListStalePendingPayments(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]model.Payment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	limit = clampLimit(limit)

	rows, err := r.pool.Query(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE status = 'pending'
  AND created_at < $1
  AND created_at > $2
ORDER BY created_at ASC
LIMIT $3
`, createdBefore.UTC(), createdAfter.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	out := make([]model.Payment, 0, limit)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func (r *LedgerRepo) ListReferralCredits(ctx context.Context, referrerID int64, limit int) ([]model.ReferralCredit, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	limit = clampLimit(limit)

	rows, err := r.pool.Query(ctx, `
SELECT id, referrer_tg_id, referee_tg_id, amount_minor, status, COALESCE(payment_tx_ref, ''), created_at
FROM referrals
WHERE referrer_tg_id = $1
ORDER BY id DESC
LIMIT $2
`, referrerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list referral credits: %w", err)
	}
	defer rows.Close()

	out := make([]model.ReferralCredit, 0)
	for rows.Next() {
		var credit model.ReferralCredit
		if err := rows.Scan(
			&credit.ID,
			&credit.ReferrerID,
			&credit.RefereeID,
			&credit.AmountMinor,
			&credit.Status,
			&credit.PaymentTxRef,
			&credit.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan referral credit: %w", err)
		}
		credit.CreatedAt = credit.CreatedAt.UTC()
		out = append(out, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral credits: %w", err)
	}
	return out, nil
}

func markPaymentSuccessTx(ctx context.Context, tx pgx.Tx, txRef, providerTxnID string, now time.Time) (model.Payment, bool, error) {
	payment, err := scanPayment(tx.QueryRow(ctx, `
UPDATE payments
SET status = 'success',
	provider_txn_id = $2,
	settled_at = $3
WHERE tx_ref = $1
  AND status = 'pending'
RETURNING `+paymentColumns+`
`, txRef, strings.TrimSpace(providerTxnID), now))
	if err == nil {
		return payment, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Payment{}, false, fmt.Errorf("mark payment success: %w", err)
	}

	payment, err = scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tx_ref = $1`, txRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, false, model.ErrPaymentNotFound
		}
		return model.Payment{}, false, fmt.Errorf("load payment: %w", err)
	}
	return payment, false, nil
}

// applyGrantTx extends the user's subscription and credits the referrer, if
// any. paymentTxRef ties the credit to a payment; the unique index on it
// rejects a second credit for the same payment.
func applyGrantTx(ctx context.Context, tx pgx.Tx, userID int64, planDays int, bonusMinor int64, paymentTxRef string, now time.Time) (model.Grant, error) {
	var (
		until      *time.Time
		referredBy string
	)
	err := tx.QueryRow(ctx, `
SELECT subscription_until, referred_by
FROM users
WHERE tg_id = $1
FOR UPDATE
`, userID).Scan(&until, &referredBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Grant{}, model.ErrUserNotFound
		}
		return model.Grant{}, fmt.Errorf("lock user: %w", err)
	}

	current := time.Time{}
	if until != nil {
		current = *until
	}
	next := rules.ExtendSubscription(current, now, planDays)
	if _, err := tx.Exec(ctx, `UPDATE users SET subscription_until = $2 WHERE tg_id = $1`, userID, next); err != nil {
		return model.Grant{}, fmt.Errorf("extend subscription: %w", err)
	}

	grant := model.Grant{UserID: userID, SubscriptionUntil: next.UTC()}
	if referredBy == "" || bonusMinor <= 0 {
		return grant, nil
	}

	var referrerID int64
	err = tx.QueryRow(ctx, `
UPDATE users
SET balance_minor = balance_minor + $2
WHERE ref_code = $1
  AND tg_id <> $3
RETURNING tg_id
`, referredBy, bonusMinor, userID).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return grant, nil
		}
		return model.Grant{}, fmt.Errorf("credit referrer: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO referrals (referrer_tg_id, referee_tg_id, amount_minor, status, payment_tx_ref, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`, referrerID, userID, bonusMinor, enums.ReferralStatusEarned, paymentTxRef, now); err != nil {
		return model.Grant{}, fmt.Errorf("insert referral credit: %w", err)
	}

	grant.ReferrerID = referrerID
	grant.BonusMinor = bonusMinor
	return grant, nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var payment model.Payment
	if err := row.Scan(
		&payment.TxRef,
		&payment.UserID,
		&payment.AmountMinor,
		&payment.Status,
		&payment.ProviderTxnID,
		&payment.CreatedAt,
		&payment.SettledAt,
	); err != nil {
		return model.Payment{}, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	if payment.SettledAt != nil {
		settled := payment.SettledAt.UTC()
		payment.SettledAt = &settled
	}
	return payment, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 200:
		return 200
	default:
		return limit
	}
}

// ReferralSummary returns how many credits a referrer earned and their total.
func (r *LedgerRepo) ReferralSummary(ctx context.Context, referrerID int64) (int64, int64, error) {
	if r.pool == nil {
		return 0, 0, fmt.Errorf("postgres pool is nil")
	}

	var count, total int64
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(amount_minor), 0)::BIGINT
FROM referrals
WHERE referrer_tg_id = $1
`, referrerID).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("referral summary: %w", err)
	}
	return count, total, nil
}
