package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/metrics"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/handlers"
	httperrors "github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/errors"
)

type Dependencies struct {
	Callbacks handlers.CallbackHandler
	Payouts   handlers.PayoutService
	Exporter  handlers.PayoutExporter
	Stats     handlers.StatsReader
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Config    config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	webhookHandler := handlers.NewWebhookHandler(deps.Callbacks, deps.Config.Chapa.WebhookSecret, deps.Logger)
	if deps.Metrics != nil {
		webhookHandler.AttachObserver(deps.Metrics)
	}

	adminHandler := handlers.NewAdminHandler(deps.Payouts)
	if deps.Exporter != nil {
		adminHandler.AttachExporter(deps.Exporter)
	}
	if deps.Stats != nil {
		adminHandler.AttachStats(deps.Stats)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httperrors.Write(w, http.StatusOK, map[string]bool{"ok": true})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Post("/webhook/chapa", webhookHandler.Chapa)
	r.Get("/webhook/chapa", webhookHandler.Chapa)

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(AdminTokenMiddleware(deps.Config.Admin.APIToken, deps.Logger))
		admin.Get("/payouts", adminHandler.ListPayouts)
		admin.Post("/payouts/export", adminHandler.Export)
		admin.Post("/payouts/{id}/paid", adminHandler.MarkPaid)
		admin.Post("/payouts/{id}/reject", adminHandler.Reject)
		admin.Get("/stats", adminHandler.Stats)
	})
}
