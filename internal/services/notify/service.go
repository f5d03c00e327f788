package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
)

const currency = "ETB"

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Notifier tells users about ledger changes over Telegram. Private chat IDs
// equal user IDs, so no lookup is needed.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

func New(sender Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, logger: logger}
}

// PaymentSettled confirms the subscription to the payer and, when a bonus was
// credited, tells the referrer.
func (n *Notifier) PaymentSettled(ctx context.Context, outcome model.SettleOutcome) error {
	if n == nil || n.sender == nil || outcome.AlreadySettled {
		return nil
	}

	grant := outcome.Grant
	var errs []error
	if grant.UserID > 0 {
		text := fmt.Sprintf(
			"✅ <b>Payment received.</b>\nYour subscription is active until <b>%s</b>.",
			grant.SubscriptionUntil.UTC().Format(time.DateOnly),
		)
		errs = append(errs, n.send(ctx, grant.UserID, text))
	}
	if grant.Credited() {
		text := fmt.Sprintf(
			"🎉 A friend you invited subscribed. You earned <b>%s %s</b>.\nUse /balance to see your earnings.",
			chapa.FormatMinor(grant.BonusMinor), currency,
		)
		errs = append(errs, n.send(ctx, grant.ReferrerID, text))
	}
	return errors.Join(errs...)
}

func (n *Notifier) PayoutPaid(ctx context.Context, payout model.PayoutRequest) error {
	if n == nil || n.sender == nil {
		return nil
	}
	text := fmt.Sprintf(
		"💸 Payout #%d of <b>%s %s</b> was sent to %s.",
		payout.ID, chapa.FormatMinor(payout.AmountMinor), currency, payout.Phone,
	)
	return n.send(ctx, payout.UserID, text)
}

func (n *Notifier) PayoutRejected(ctx context.Context, payout model.PayoutRequest) error {
	if n == nil || n.sender == nil {
		return nil
	}
	text := fmt.Sprintf(
		"Payout #%d was rejected. <b>%s %s</b> was returned to your balance.",
		payout.ID, chapa.FormatMinor(payout.AmountMinor), currency,
	)
	return n.send(ctx, payout.UserID, text)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if err := n.sender.SendText(ctx, chatID, text); err != nil {
		n.logger.Warn("telegram notification failed", zap.Error(err), zap.Int64("chat_id", chatID))
		return fmt.Errorf("notify %d: %w", chatID, err)
	}
	return nil
}
