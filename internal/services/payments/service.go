package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
)

var (
	ErrMissingTxRef       = errors.New("missing tx_ref")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrCheckoutFailed     = errors.New("checkout initialization failed")
)

type Ledger interface {
	EnsureUser(ctx context.Context, userID int64, now time.Time) (string, error)
	RecordPaymentAttempt(ctx context.Context, txRef string, userID, amountMinor int64, now time.Time) (bool, error)
	GetPayment(ctx context.Context, txRef string) (model.Payment, error)
}

type Gateway interface {
	InitializeCheckout(ctx context.Context, req chapa.CheckoutRequest) (string, error)
	Verify(ctx context.Context, txRef string) (chapa.Verification, error)
}

type Settler interface {
	Apply(ctx context.Context, p settlement.VerifiedPayment) (model.SettleOutcome, error)
}

type SettledCache interface {
	IsSettled(ctx context.Context, txRef string) (bool, error)
	MarkSettled(ctx context.Context, txRef string) error
}

type Limiter interface {
	Allow(ctx context.Context, action ratesvc.Action, userID int64) (int64, bool, error)
}

type Notifier interface {
	PaymentSettled(ctx context.Context, outcome model.SettleOutcome) error
}

type Config struct {
	PlanPriceMinor int64
	PlanDays       int
	Currency       string
	// BaseURL is the public address of the API process; the gateway calls
	// BaseURL + "/webhook/chapa" after payment.
	BaseURL string
}

type CheckoutInput struct {
	UserID      int64
	FirstName   string
	BotUsername string
}

type Checkout struct {
	TxRef       string
	CheckoutURL string
	AmountMinor int64
}

type CallbackResult struct {
	TxRef      string
	Idempotent bool
	Outcome    model.SettleOutcome
}

type Service struct {
	ledger   Ledger
	gateway  Gateway
	settler  Settler
	cfg      Config
	cache    SettledCache
	limiter  Limiter
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Dependencies struct {
	Ledger  Ledger
	Gateway Gateway
	Settler Settler
	Logger  *zap.Logger
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = "ETB"
	}
	return &Service{
		ledger:  deps.Ledger,
		gateway: deps.Gateway,
		settler: deps.Settler,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) AttachSettledCache(cache SettledCache) {
	s.cache = cache
}

func (s *Service) AttachLimiter(limiter Limiter) {
	s.limiter = limiter
}

func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

// StartCheckout records a pending payment for a new tx ref and returns the
// hosted checkout URL for it.
func (s *Service) StartCheckout(ctx context.Context, in CheckoutInput) (Checkout, error) {
	if in.UserID <= 0 {
		return Checkout{}, fmt.Errorf("invalid user id %d", in.UserID)
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.Allow(ctx, ratesvc.ActionCheckout, in.UserID)
		if err != nil {
			return Checkout{}, fmt.Errorf("check checkout rate: %w", err)
		}
		if !allowed {
			return Checkout{}, &ratesvc.LimitedError{Action: ratesvc.ActionCheckout, RetryAfter: retryAfter}
		}
	}

	now := s.now().UTC()
	if _, err := s.ledger.EnsureUser(ctx, in.UserID, now); err != nil {
		return Checkout{}, fmt.Errorf("ensure user: %w", err)
	}

	txRef := rules.NewTxRef(in.UserID, now)
	if _, err := s.ledger.RecordPaymentAttempt(ctx, txRef, in.UserID, s.cfg.PlanPriceMinor, now); err != nil {
		return Checkout{}, fmt.Errorf("record payment attempt: %w", err)
	}

	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		firstName = "TG"
	}
	userID := strconv.FormatInt(in.UserID, 10)

	checkoutURL, err := s.gateway.InitializeCheckout(ctx, chapa.CheckoutRequest{
		AmountMinor: s.cfg.PlanPriceMinor,
		Currency:    s.cfg.Currency,
		Email:       "user" + userID + "@example.com",
		FirstName:   firstName,
		LastName:    userID,
		TxRef:       txRef,
		CallbackURL: s.callbackURL(),
		ReturnURL:   returnURL(in.BotUsername),
		Customization: chapa.Customization{
			Title:       "Premium Subscription",
			Description: fmt.Sprintf("%s %s / %d days", chapa.FormatMinor(s.cfg.PlanPriceMinor), s.cfg.Currency, s.cfg.PlanDays),
		},
		UserID: in.UserID,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	return Checkout{TxRef: txRef, CheckoutURL: checkoutURL, AmountMinor: s.cfg.PlanPriceMinor}, nil
}

// HandleCallback verifies txRef with the gateway and settles it. Callbacks
// for payments already known to be settled return early with Idempotent set.
func (s *Service) HandleCallback(ctx context.Context, txRef string) (CallbackResult, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return CallbackResult{}, ErrMissingTxRef
	}
	result := CallbackResult{TxRef: txRef}

	if s.cache != nil {
		settled, err := s.cache.IsSettled(ctx, txRef)
		if err != nil {
			s.logger.Warn("settled cache lookup failed", zap.Error(err), zap.String("tx_ref", txRef))
		} else if settled {
			result.Idempotent = true
			return result, nil
		}
	}

	var recordedUserID int64
	payment, err := s.ledger.GetPayment(ctx, txRef)
	switch {
	case err == nil:
		recordedUserID = payment.UserID
		if payment.Status == enums.PaymentStatusSuccess {
			s.markSettled(ctx, txRef)
			result.Idempotent = true
			return result, nil
		}
	case errors.Is(err, model.ErrPaymentNotFound):
	default:
		return CallbackResult{}, fmt.Errorf("get payment: %w", err)
	}

	verification, err := s.gateway.Verify(ctx, txRef)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	if err := checkOwner(verification.UserID, recordedUserID, txRef); err != nil {
		return CallbackResult{}, err
	}

	outcome, err := s.settler.Apply(ctx, settlement.VerifiedPayment{
		TxRef:         txRef,
		VerifiedTxRef: verification.TxRef,
		Status:        verification.Status,
		AmountMinor:   verification.AmountMinor,
		ProviderTxnID: verification.Reference,
		UserID:        verification.UserID,
	})
	if err != nil {
		return CallbackResult{}, err
	}

	s.markSettled(ctx, txRef)
	result.Outcome = outcome
	result.Idempotent = outcome.AlreadySettled

	if !outcome.AlreadySettled {
		s.logger.Info("payment settled",
			zap.String("tx_ref", txRef),
			zap.Int64("user_id", outcome.Grant.UserID),
			zap.Int64("referrer_id", outcome.Grant.ReferrerID),
			zap.Int64("bonus_minor", outcome.Grant.BonusMinor),
		)
		if s.notifier != nil {
			if err := s.notifier.PaymentSettled(ctx, outcome); err != nil {
				s.logger.Warn("settlement notification failed", zap.Error(err), zap.String("tx_ref", txRef))
			}
		}
	}
	return result, nil
}

func (s *Service) markSettled(ctx context.Context, txRef string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkSettled(ctx, txRef); err != nil {
		s.logger.Warn("settled cache write failed", zap.Error(err), zap.String("tx_ref", txRef))
	}
}

func (s *Service) callbackURL() string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhook/chapa"
}

func returnURL(botUsername string) string {
	botUsername = strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	if botUsername == "" {
		return ""
	}
	return "https://t.me/" + botUsername
}

// checkOwner rejects a verified payment whose metadata user differs from the
// recorded attempt's owner or from the user encoded in the tx ref. Missing
// metadata is left to settlement validation.
func checkOwner(metaUserID, recordedUserID int64, txRef string) error {
	if metaUserID <= 0 {
		return nil
	}
	if recordedUserID > 0 && recordedUserID != metaUserID {
		return fmt.Errorf("%w: metadata user %d does not own %s", settlement.ErrInvalidPaymentEvent, metaUserID, txRef)
	}
	if id, ok := rules.UserIDFromTxRef(txRef); ok && id != metaUserID {
		return fmt.Errorf("%w: metadata user %d does not match tx_ref %s", settlement.ErrInvalidPaymentEvent, metaUserID, txRef)
	}
	return nil
}
