package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/app/botapp"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/app/core"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	tginfra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/telegram"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/jobs/reconcile"
)

type App struct {
	cfg          config.Config
	logger       *zap.Logger
	server       *http.Server
	core         *core.Core
	reconcileJob *reconcile.Job
	commands     *botapp.Commands
	httpRouter   http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	c, err := core.New(ctx, cfg, log, core.Options{RequireBot: cfg.Bot.Embedded})
	if err != nil {
		return nil, fmt.Errorf("init api app: %w", err)
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log, c.Metrics)

	deps := Dependencies{
		Callbacks: c.Payments,
		Payouts:   c.Payouts,
		Stats:     c.Ledger,
		Metrics:   c.Metrics,
		Logger:    log,
		Config:    cfg,
	}
	if c.Export != nil {
		deps.Exporter = c.Export
	}
	RegisterRoutes(r, deps)

	reconcileJob := reconcile.New(
		c.Ledger,
		c.Payments,
		cfg.Reconcile.GraceAge,
		cfg.Reconcile.MaxAge,
		cfg.Reconcile.BatchSize,
		log,
	)
	reconcileJob.AttachObserver(c.Metrics)

	var commands *botapp.Commands
	if cfg.Bot.Embedded {
		commands = botapp.NewCommandsFromCore(c)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:          cfg,
		logger:       log,
		server:       server,
		core:         c,
		reconcileJob: reconcileJob,
		commands:     commands,
		httpRouter:   r,
	}, nil
}

// Run serves HTTP until Shutdown and runs the reconcile loop, plus the bot
// listener when it is embedded, until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.runReconcileLoop(ctx)

	if a.commands != nil && a.core.Bot != nil {
		go func() {
			err := a.core.Bot.Listen(ctx, tginfra.Handlers{OnCommand: a.commands.Handle})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("embedded bot listener stopped", zap.Error(err))
			}
		}()
		a.logger.Info("embedded bot listener started", zap.String("bot", a.core.Bot.Username()))
	}

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) runReconcileLoop(ctx context.Context) {
	interval := a.cfg.Reconcile.Interval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.reconcileJob.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("reconcile run failed", zap.Error(err))
			}
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if err := a.core.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
