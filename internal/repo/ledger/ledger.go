package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
	pgrepo "github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/postgres"
)

// Store is the full ledger surface. Both backends implement it with the same
// transactional guarantees.
type Store interface {
	EnsureUser(ctx context.Context, userID int64, now time.Time) (string, error)
	SetReferredBy(ctx context.Context, userID int64, code string) (bool, error)
	SetPhone(ctx context.Context, userID int64, phone string) error
	GetUser(ctx context.Context, userID int64) (model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (model.User, error)

	RecordPaymentAttempt(ctx context.Context, txRef string, userID, amountMinor int64, now time.Time) (bool, error)
	GetPayment(ctx context.Context, txRef string) (model.Payment, error)
	MarkPaymentSuccess(ctx context.Context, txRef, providerTxnID string, now time.Time) (model.Payment, bool, error)
	ApplySubscriptionAndReferral(ctx context.Context, userID int64, planDays int, bonusMinor int64, now time.Time) (model.Grant, error)
	SettlePayment(ctx context.Context, in model.SettleInput, now time.Time) (model.SettleOutcome, error)
	ListStalePendingPayments(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]model.Payment, error)
	ListReferralCredits(ctx context.Context, referrerID int64, limit int) ([]model.ReferralCredit, error)
	ReferralSummary(ctx context.Context, referrerID int64) (int64, int64, error)

	CreatePayoutRequest(ctx context.Context, userID, amountMinor int64, phone string, now time.Time) (model.PayoutRequest, error)
	GetPayout(ctx context.Context, id int64) (model.PayoutRequest, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error)
	MarkPayoutPaid(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error)
	RejectPayout(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error)

	Stats(ctx context.Context, now time.Time) (model.LedgerStats, error)
	Close() error
}

var (
	_ Store = (*pgrepo.LedgerRepo)(nil)
	_ Store = (*boltstore.Store)(nil)
)

// Open connects the backend selected by cfg.Ledger.Driver. The Postgres
// schema is expected to be applied by cmd/migrate.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerDriverPostgres:
		pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return pgrepo.NewLedgerRepo(pool), nil
	case config.LedgerDriverBolt:
		store, err := boltstore.Open(cfg.Ledger.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Ledger.Driver)
	}
}
