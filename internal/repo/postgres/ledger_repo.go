package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
)

// LedgerRepo is the PostgreSQL ledger. Balance and subscription mutations
// run inside one transaction each and lock the affected user rows.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func (r *LedgerRepo) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

const userColumns = `tg_id, phone, ref_code, referred_by, balance_minor, subscription_until, created_at`

func (r *LedgerRepo) EnsureUser(ctx context.Context, userID int64, now time.Time) (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return "", fmt.Errorf("invalid user id")
	}

	for attempt := 0; attempt < rules.MaxReferralCodeTries; attempt++ {
		code, err := rules.NewReferralCode(userID)
		if err != nil {
			return "", err
		}

		var stored string
		err = r.pool.QueryRow(ctx, `
INSERT INTO users (tg_id, ref_code, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (tg_id) DO NOTHING
RETURNING ref_code
`, userID, code, now.UTC()).Scan(&stored)
		switch {
		case err == nil:
			return stored, nil
		case errors.Is(err, pgx.ErrNoRows):
			if err := r.pool.QueryRow(ctx, `SELECT ref_code FROM users WHERE tg_id = $1`, userID).Scan(&stored); err != nil {
				return "", fmt.Errorf("load existing referral code: %w", err)
			}
			return stored, nil
		case isUniqueViolation(err, "users_ref_code_key"):
			continue
		default:
			return "", fmt.Errorf("insert user: %w", err)
		}
	}

	return "", fmt.Errorf("ensure user %d: %w", userID, model.ErrDuplicateReferralCode)
}

func (r *LedgerRepo) SetReferredBy(ctx context.Context, userID int64, code string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	code = rules.NormalizeReferralCode(code)
	if code == "" {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE users AS u
SET referred_by = r.ref_code
FROM users AS r
WHERE u.tg_id = $1
  AND r.ref_code = $2
  AND r.tg_id <> u.tg_id
  AND u.referred_by = ''
`, userID, code)
	if err != nil {
		return false, fmt.Errorf("set referred_by: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepo) SetPhone(ctx context.Context, userID int64, phone string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `UPDATE users SET phone = $2 WHERE tg_id = $1`, userID, strings.TrimSpace(phone))
	if err != nil {
		return fmt.Errorf("set phone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *LedgerRepo) GetUser(ctx context.Context, userID int64) (model.User, error) {
	if r.pool == nil {
		return model.User{}, fmt.Errorf("postgres pool is nil")
	}

	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *LedgerRepo) GetUserByReferralCode(ctx context.Context, code string) (model.User, error) {
	if r.pool == nil {
		return model.User{}, fmt.Errorf("postgres pool is nil")
	}

	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE ref_code = $1`, rules.NormalizeReferralCode(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user by referral code: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var (
		user  model.User
		until *time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.ReferralCode,
		&user.ReferredBy,
		&user.BalanceMinor,
		&until,
		&user.CreatedAt,
	); err != nil {
		return model.User{}, err
	}
	if until != nil {
		user.SubscriptionUntil = until.UTC()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}
