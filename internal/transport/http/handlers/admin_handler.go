package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	exportsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/export"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/dto"
	httperrors "github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/errors"
)

const defaultPayoutListLimit = 50

type PayoutService interface {
	ListPending(ctx context.Context, limit int) ([]model.PayoutRequest, error)
	MarkPaid(ctx context.Context, id int64) (model.PayoutRequest, bool, error)
	Reject(ctx context.Context, id int64) (model.PayoutRequest, bool, error)
}

type PayoutExporter interface {
	PendingPayouts(ctx context.Context) (exportsvc.Result, error)
}

type StatsReader interface {
	Stats(ctx context.Context, now time.Time) (model.LedgerStats, error)
}

type AdminHandler struct {
	payouts  PayoutService
	exporter PayoutExporter
	stats    StatsReader
	now      func() time.Time
}

func NewAdminHandler(payouts PayoutService) *AdminHandler {
	return &AdminHandler{
		payouts: payouts,
		now:     time.Now,
	}
}

func (h *AdminHandler) AttachExporter(exporter PayoutExporter) {
	h.exporter = exporter
}

func (h *AdminHandler) AttachStats(stats StatsReader) {
	h.stats = stats
}

func (h *AdminHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	if h.payouts == nil {
		writeInternal(w, "PAYOUTS_SERVICE_UNAVAILABLE", "payouts service is unavailable")
		return
	}

	limit := parseIntOrDefault(r.URL.Query().Get("limit"), defaultPayoutListLimit)
	items, err := h.payouts.ListPending(r.Context(), limit)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to list payouts")
		return
	}

	response := dto.PayoutListResponse{Items: make([]dto.PayoutItem, 0, len(items))}
	for _, item := range items {
		response.Items = append(response.Items, dto.NewPayoutItem(item))
	}
	httperrors.Write(w, http.StatusOK, response)
}

func (h *AdminHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id int64) (model.PayoutRequest, bool, error) {
		return h.payouts.MarkPaid(ctx, id)
	})
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id int64) (model.PayoutRequest, bool, error) {
		return h.payouts.Reject(ctx, id)
	})
}

func (h *AdminHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id int64) (model.PayoutRequest, bool, error),
) {
	if h.payouts == nil {
		writeInternal(w, "PAYOUTS_SERVICE_UNAVAILABLE", "payouts service is unavailable")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid payout id")
		return
	}

	payout, changed, err := apply(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrPayoutNotFound):
			writeNotFound(w, "PAYOUT_NOT_FOUND", "payout request not found")
		case errors.Is(err, model.ErrPayoutNotPending):
			writeConflict(w, "PAYOUT_NOT_PENDING", "payout request is already closed")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to update payout")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PayoutActionResponse{
		Payout:  dto.NewPayoutItem(payout),
		Changed: changed,
	})
}

func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeInternal(w, "EXPORT_UNAVAILABLE", "payout export is not configured")
		return
	}

	result, err := h.exporter.PendingPayouts(r.Context())
	if err != nil {
		if errors.Is(err, exportsvc.ErrNothingToExport) {
			writeNotFound(w, "NOTHING_TO_EXPORT", "no pending payouts")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to export payouts")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ExportResponse{Key: result.Key, URL: result.URL, Rows: result.Rows})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeInternal(w, "STATS_UNAVAILABLE", "ledger stats are unavailable")
		return
	}

	stats, err := h.stats.Stats(r.Context(), h.now().UTC())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load stats")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.NewStatsResponse(stats))
}
