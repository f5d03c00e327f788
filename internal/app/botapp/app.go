package botapp

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/app/core"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	tginfra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/telegram"
)

type App struct {
	cfg      config.Config
	logger   *zap.Logger
	core     *core.Core
	commands *Commands
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if cfg.Bot.Embedded {
		return nil, fmt.Errorf("bot.embedded is set, the command listener runs inside the api process")
	}

	c, err := core.New(ctx, cfg, logger, core.Options{RequireBot: true})
	if err != nil {
		return nil, fmt.Errorf("init bot app: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		core:     c,
		commands: NewCommandsFromCore(c),
	}, nil
}

// NewCommandsFromCore wires the chat commands to the shared services. The
// API process uses it when it hosts the listener itself.
func NewCommandsFromCore(c *core.Core) *Commands {
	deps := CommandDeps{
		Messenger: c.Bot,
		Users:     c.Users,
		Checkout:  c.Payments,
		Payouts:   c.Payouts,
		Stats:     c.Ledger,
		Billing: Billing{
			Currency:         c.Config.Billing.Currency,
			PlanPriceMinor:   c.Config.Billing.PlanPriceMinor(),
			BonusMinor:       c.Config.Billing.ReferralBonusMinor(),
			MinWithdrawMinor: c.Config.Billing.MinWithdrawMinor(),
			SubscriptionDays: c.Config.Billing.SubscriptionDays,
		},
		AdminID: c.Config.Admin.TelegramID,
		Logger:  c.Logger,
	}
	if c.Bot == nil {
		deps.Messenger = nil
	}
	if c.Export != nil {
		deps.Exporter = c.Export
	}
	return NewCommands(deps)
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started", zap.String("bot", a.core.Bot.Username()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.core.Bot.Listen(ctx, tginfra.Handlers{
			OnCommand: a.commands.Handle,
		})
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("bot app stopped")
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func (a *App) Close() error {
	if a.core == nil {
		return nil
	}
	return a.core.Close()
}
