package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/pkg/validate"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
)

var (
	ErrBelowMinimum  = errors.New("amount is below the minimum withdrawal")
	ErrNoPhoneOnFile = errors.New("no payout phone on file")
	ErrInvalidPhone  = errors.New("invalid phone number")
)

const (
	outcomeCreated      = "created"
	outcomeBelowMinimum = "below_minimum"
	outcomeNoPhone      = "no_phone"
	outcomeInsufficient = "insufficient_balance"
	outcomeLimited      = "rate_limited"
	outcomeError        = "error"
)

type Store interface {
	GetUser(ctx context.Context, userID int64) (model.User, error)
	SetPhone(ctx context.Context, userID int64, phone string) error
	CreatePayoutRequest(ctx context.Context, userID, amountMinor int64, phone string, now time.Time) (model.PayoutRequest, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error)
	MarkPayoutPaid(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error)
	RejectPayout(ctx context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error)
}

type Limiter interface {
	Allow(ctx context.Context, action ratesvc.Action, userID int64) (int64, bool, error)
}

type Notifier interface {
	PayoutPaid(ctx context.Context, payout model.PayoutRequest) error
	PayoutRejected(ctx context.Context, payout model.PayoutRequest) error
}

type Observer interface {
	ObservePayoutRequest(outcome string)
}

type Config struct {
	MinWithdrawMinor int64
}

type Service struct {
	store    Store
	cfg      Config
	limiter  Limiter
	notifier Notifier
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	return &Service{
		store: store,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

func (s *Service) AttachLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) AttachLimiter(limiter Limiter) {
	s.limiter = limiter
}

func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) AttachObserver(observer Observer) {
	s.observer = observer
}

// RequestPayout checks the minimum, the phone on file and the balance, in
// that order, then debits the balance into a pending request.
func (s *Service) RequestPayout(ctx context.Context, userID, amountMinor int64) (model.PayoutRequest, error) {
	if amountMinor < s.cfg.MinWithdrawMinor || amountMinor <= 0 {
		s.observe(outcomeBelowMinimum)
		return model.PayoutRequest{}, ErrBelowMinimum
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.Allow(ctx, ratesvc.ActionWithdraw, userID)
		if err != nil {
			return model.PayoutRequest{}, fmt.Errorf("check withdraw rate: %w", err)
		}
		if !allowed {
			s.observe(outcomeLimited)
			return model.PayoutRequest{}, &ratesvc.LimitedError{Action: ratesvc.ActionWithdraw, RetryAfter: retryAfter}
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.observe(outcomeError)
		return model.PayoutRequest{}, fmt.Errorf("get user: %w", err)
	}
	if !user.HasPhone() {
		s.observe(outcomeNoPhone)
		return model.PayoutRequest{}, ErrNoPhoneOnFile
	}
	if user.BalanceMinor < amountMinor {
		s.observe(outcomeInsufficient)
		return model.PayoutRequest{}, model.ErrInsufficientBalance
	}

	payout, err := s.store.CreatePayoutRequest(ctx, userID, amountMinor, user.Phone, s.now().UTC())
	if err != nil {
		if errors.Is(err, model.ErrInsufficientBalance) {
			s.observe(outcomeInsufficient)
			return model.PayoutRequest{}, err
		}
		s.observe(outcomeError)
		return model.PayoutRequest{}, fmt.Errorf("create payout request: %w", err)
	}

	s.observe(outcomeCreated)
	return payout, nil
}

// SetPhone validates and stores the payout phone, returning its normalized
// form.
func (s *Service) SetPhone(ctx context.Context, userID int64, raw string) (string, error) {
	phone, ok := validate.NormalizePhone(raw)
	if !ok {
		return "", ErrInvalidPhone
	}
	if err := s.store.SetPhone(ctx, userID, phone); err != nil {
		return "", fmt.Errorf("set phone: %w", err)
	}
	return phone, nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]model.PayoutRequest, error) {
	items, err := s.store.ListPendingPayouts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payouts: %w", err)
	}
	return items, nil
}

func (s *Service) MarkPaid(ctx context.Context, id int64) (model.PayoutRequest, bool, error) {
	payout, changed, err := s.store.MarkPayoutPaid(ctx, id, s.now().UTC())
	if err != nil {
		return payout, false, err
	}
	if changed && s.notifier != nil {
		if err := s.notifier.PayoutPaid(ctx, payout); err != nil {
			s.logger.Warn("payout paid notification failed", zap.Error(err), zap.Int64("payout_id", payout.ID))
		}
	}
	return payout, changed, nil
}

// Reject closes a pending request and returns its amount to the balance.
func (s *Service) Reject(ctx context.Context, id int64) (model.PayoutRequest, bool, error) {
	payout, changed, err := s.store.RejectPayout(ctx, id, s.now().UTC())
	if err != nil {
		return payout, false, err
	}
	if changed && s.notifier != nil {
		if err := s.notifier.PayoutRejected(ctx, payout); err != nil {
			s.logger.Warn("payout rejected notification failed", zap.Error(err), zap.Int64("payout_id", payout.ID))
		}
	}
	return payout, changed, nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObservePayoutRequest(outcome)
	}
}
