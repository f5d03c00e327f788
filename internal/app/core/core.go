package core

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/metrics"
	s3infra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/s3"
	tginfra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/telegram"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/ledger"
	redrepo "github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/redis"
	exportsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/export"
	notifysvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/notify"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	payoutsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payouts"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
	userssvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/users"
)

// Core holds the ledger, infrastructure clients and services shared by the
// bot and API processes.
type Core struct {
	Config  config.Config
	Logger  *zap.Logger
	Ledger  ledger.Store
	Redis   *goredis.Client
	Metrics *metrics.Metrics
	Bot     *tginfra.Bot

	Users      *userssvc.Service
	Settlement *settlement.Service
	Payments   *paymentsvc.Service
	Payouts    *payoutsvc.Service
	Export     *exportsvc.Service
	Notifier   *notifysvc.Notifier
}

type Options struct {
	// RequireBot fails construction when the Telegram client cannot be
	// created. Otherwise a missing bot only disables notifications.
	RequireBot bool
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts Options) (*Core, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	store, err := ledger.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	gateway, err := chapa.NewClient(cfg.Chapa.APIURL, cfg.Chapa.SecretKey, cfg.Chapa.Timeout)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create chapa client: %w", err)
	}

	bot, err := newBot(cfg, log, opts.RequireBot)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateLimiter := ratesvc.NewLimiter(
		redrepo.NewRateRepo(redisClient),
		cfg.Limits.CheckoutPerMinute,
		cfg.Limits.WithdrawPerMinute,
	)
	appMetrics := metrics.New()

	var notifier *notifysvc.Notifier
	if bot != nil {
		notifier = notifysvc.New(bot, log)
	}

	settlementService := settlement.NewService(store, settlement.Config{
		PlanPriceMinor: cfg.Billing.PlanPriceMinor(),
		BonusMinor:     cfg.Billing.ReferralBonusMinor(),
		PlanDays:       cfg.Billing.SubscriptionDays,
	})
	settlementService.AttachObserver(appMetrics)

	paymentService := paymentsvc.NewService(paymentsvc.Dependencies{
		Ledger:  store,
		Gateway: gateway,
		Settler: settlementService,
		Logger:  log,
	}, paymentsvc.Config{
		PlanPriceMinor: cfg.Billing.PlanPriceMinor(),
		PlanDays:       cfg.Billing.SubscriptionDays,
		Currency:       cfg.Billing.Currency,
		BaseURL:        cfg.Chapa.BaseURL,
	})
	paymentService.AttachSettledCache(redrepo.NewSettledCache(redisClient, cfg.Limits.SettledCacheTTL))
	paymentService.AttachLimiter(rateLimiter)

	payoutService := payoutsvc.NewService(store, payoutsvc.Config{
		MinWithdrawMinor: cfg.Billing.MinWithdrawMinor(),
	})
	payoutService.AttachLimiter(rateLimiter)
	payoutService.AttachLogger(log)
	payoutService.AttachObserver(appMetrics)

	if notifier != nil {
		paymentService.AttachNotifier(notifier)
		payoutService.AttachNotifier(notifier)
	}

	var exportService *exportsvc.Service
	if s3Client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, payout export disabled", zap.Error(err))
	} else {
		exportService = exportsvc.NewService(store, s3infra.NewStorage(s3Client, cfg.S3.Bucket), cfg.S3.LinkTTL)
	}

	return &Core{
		Config:     cfg,
		Logger:     log,
		Ledger:     store,
		Redis:      redisClient,
		Metrics:    appMetrics,
		Bot:        bot,
		Users:      userssvc.NewService(store),
		Settlement: settlementService,
		Payments:   paymentService,
		Payouts:    payoutService,
		Export:     exportService,
		Notifier:   notifier,
	}, nil
}

func newBot(cfg config.Config, log *zap.Logger, required bool) (*tginfra.Bot, error) {
	if cfg.Bot.Token == "" {
		if required {
			return nil, fmt.Errorf("bot token is required")
		}
		log.Info("bot token not set, telegram notifications disabled")
		return nil, nil
	}

	bot, err := tginfra.NewBot(cfg.Bot.Token)
	if err != nil {
		if required {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		log.Warn("telegram bot init failed, notifications disabled", zap.Error(err))
		return nil, nil
	}
	return bot, nil
}

func (c *Core) Close() error {
	var closeErr error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
