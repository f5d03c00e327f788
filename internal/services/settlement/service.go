package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/metrics"
)

var ErrInvalidPaymentEvent = errors.New("invalid payment event")

const statusSuccess = "success"

type Store interface {
	SettlePayment(ctx context.Context, in model.SettleInput, now time.Time) (model.SettleOutcome, error)
}

type Observer interface {
	ObserveSettlement(outcome string, bonusMinor int64)
}

type Config struct {
	PlanPriceMinor int64
	BonusMinor     int64
	PlanDays       int
}

// VerifiedPayment is what the gateway reported for TxRef after an explicit
// verification call.
type VerifiedPayment struct {
	TxRef         string
	VerifiedTxRef string
	Status        string
	AmountMinor   int64
	ProviderTxnID string
	UserID        int64
}

type Service struct {
	store    Store
	cfg      Config
	observer Observer
	now      func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (s *Service) AttachObserver(observer Observer) {
	s.observer = observer
}

// Apply converts a verified successful payment into subscription time and a
// referral credit. The store applies the effects only on the first
// pending to success transition, so redelivery is harmless.
func (s *Service) Apply(ctx context.Context, p VerifiedPayment) (model.SettleOutcome, error) {
	if err := s.validate(p); err != nil {
		s.observe(metrics.OutcomeInvalid, 0)
		return model.SettleOutcome{}, err
	}

	outcome, err := s.store.SettlePayment(ctx, model.SettleInput{
		TxRef:         strings.TrimSpace(p.TxRef),
		ProviderTxnID: strings.TrimSpace(p.ProviderTxnID),
		UserID:        p.UserID,
		AmountMinor:   p.AmountMinor,
		PlanDays:      s.cfg.PlanDays,
		BonusMinor:    s.cfg.BonusMinor,
	}, s.now().UTC())
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) || errors.Is(err, model.ErrPaymentOwnerMismatch) {
			s.observe(metrics.OutcomeInvalid, 0)
			return model.SettleOutcome{}, fmt.Errorf("%w: %w", ErrInvalidPaymentEvent, err)
		}
		s.observe(metrics.OutcomeError, 0)
		return model.SettleOutcome{}, fmt.Errorf("settle payment %s: %w", p.TxRef, err)
	}

	if outcome.AlreadySettled {
		s.observe(metrics.OutcomeAlreadySettled, 0)
	} else {
		s.observe(metrics.OutcomeApplied, outcome.Grant.BonusMinor)
	}
	return outcome, nil
}

func (s *Service) validate(p VerifiedPayment) error {
	txRef := strings.TrimSpace(p.TxRef)
	switch {
	case !strings.EqualFold(strings.TrimSpace(p.Status), statusSuccess):
		return fmt.Errorf("%w: status %q", ErrInvalidPaymentEvent, p.Status)
	case txRef == "" || txRef != strings.TrimSpace(p.VerifiedTxRef):
		return fmt.Errorf("%w: tx_ref mismatch", ErrInvalidPaymentEvent)
	case p.AmountMinor < s.cfg.PlanPriceMinor:
		return fmt.Errorf("%w: amount %d below plan price %d", ErrInvalidPaymentEvent, p.AmountMinor, s.cfg.PlanPriceMinor)
	case p.UserID <= 0:
		return fmt.Errorf("%w: missing user id", ErrInvalidPaymentEvent)
	}
	return nil
}

func (s *Service) observe(outcome string, bonusMinor int64) {
	if s.observer != nil {
		s.observer.ObserveSettlement(outcome, bonusMinor)
	}
}
