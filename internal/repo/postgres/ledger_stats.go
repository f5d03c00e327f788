package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
)

func (r *LedgerRepo) Stats(ctx context.Context, now time.Time) (model.LedgerStats, error) {
	if r.pool == nil {
		return model.LedgerStats{}, fmt.Errorf("postgres pool is nil")
	}

	var stats model.LedgerStats
	err := r.pool.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM users),
	(SELECT COUNT(*) FROM users WHERE subscription_until > $1),
	(SELECT COUNT(*) FROM payments WHERE status = 'success'),
	(SELECT COUNT(*) FROM referrals),
	(SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM referrals),
	(SELECT COUNT(*) FROM payouts WHERE status = 'pending'),
	(SELECT COALESCE(SUM(amount_minor), 0)::BIGINT FROM payouts WHERE status = 'pending')
`, now.UTC()).Scan(
		&stats.Users,
		&stats.ActiveSubscriptions,
		&stats.SuccessfulPayments,
		&stats.ReferralCredits,
		&stats.ReferralMinor,
		&stats.PendingPayouts,
		&stats.PendingPayoutMinor,
	)
	if err != nil {
		return model.LedgerStats{}, fmt.Errorf("ledger stats: %w", err)
	}
	return stats, nil
}
