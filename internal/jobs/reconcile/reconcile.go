package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
)

type PendingLister interface {
	ListStalePendingPayments(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]model.Payment, error)
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, txRef string) (paymentsvc.CallbackResult, error)
}

type Observer interface {
	ObserveReconcileCheck()
}

// Job re-verifies pending payments whose webhook never arrived.
type Job struct {
	payments  PendingLister
	callbacks CallbackHandler
	observer  Observer
	grace     time.Duration
	maxAge    time.Duration
	batch     int
	now       func() time.Time
	logger    *zap.Logger
}

type Report struct {
	Checked int
	Settled int
	Skipped int
}

func New(payments PendingLister, callbacks CallbackHandler, grace, maxAge time.Duration, batch int, logger *zap.Logger) *Job {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	if maxAge <= grace {
		maxAge = 72 * time.Hour
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		payments:  payments,
		callbacks: callbacks,
		grace:     grace,
		maxAge:    maxAge,
		batch:     batch,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) AttachObserver(observer Observer) {
	j.observer = observer
}

func (j *Job) Run(ctx context.Context) (Report, error) {
	var report Report
	if j.payments == nil || j.callbacks == nil {
		return report, nil
	}

	now := j.now().UTC()
	pending, err := j.payments.ListStalePendingPayments(ctx, now.Add(-j.grace), now.Add(-j.maxAge), j.batch)
	if err != nil {
		return report, fmt.Errorf("list stale pending payments: %w", err)
	}

	for _, payment := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if j.observer != nil {
			j.observer.ObserveReconcileCheck()
		}

		result, err := j.callbacks.HandleCallback(ctx, payment.TxRef)
		switch {
		case err == nil:
			if !result.Idempotent {
				report.Settled++
			}
		case errors.Is(err, paymentsvc.ErrVerificationFailed), errors.Is(err, settlement.ErrInvalidPaymentEvent):
			// Unpaid or abandoned checkouts stay pending until they age out.
			report.Skipped++
			j.logger.Debug("reconcile left payment pending", zap.String("tx_ref", payment.TxRef), zap.Error(err))
		default:
			report.Skipped++
			j.logger.Warn("reconcile payment failed", zap.String("tx_ref", payment.TxRef), zap.Error(err))
		}
	}

	if report.Settled > 0 {
		j.logger.Info("reconcile settled lost webhooks",
			zap.Int("checked", report.Checked),
			zap.Int("settled", report.Settled),
		)
	}
	return report, nil
}
