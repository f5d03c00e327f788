package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/dto"
	httperrors "github.com/mikiyas9815-glitch/Telegram-bot/internal/transport/http/errors"
)

const maxWebhookBody = 1 << 20

var signatureHeaders = []string{"x-chapa-signature", "Chapa-Signature"}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, txRef string) (paymentsvc.CallbackResult, error)
}

type WebhookObserver interface {
	ObserveWebhook(status int)
}

type WebhookHandler struct {
	callbacks CallbackHandler
	secret    string
	observer  WebhookObserver
	logger    *zap.Logger
}

// NewWebhookHandler builds the gateway callback endpoint. When secret is set,
// POST bodies must carry a valid HMAC signature header.
func NewWebhookHandler(callbacks CallbackHandler, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		callbacks: callbacks,
		secret:    strings.TrimSpace(secret),
		logger:    logger,
	}
}

func (h *WebhookHandler) AttachObserver(observer WebhookObserver) {
	h.observer = observer
}

func (h *WebhookHandler) Chapa(w http.ResponseWriter, r *http.Request) {
	status := h.handle(w, r)
	if h.observer != nil {
		h.observer.ObserveWebhook(status)
	}
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) int {
	if h.callbacks == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return http.StatusInternalServerError
	}

	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "failed to read request body")
			return http.StatusBadRequest
		}
		body = raw
	}

	if r.Method == http.MethodPost && h.secret != "" && !h.validSignature(r, body) {
		writeUnauthorized(w, "INVALID_SIGNATURE", "webhook signature mismatch")
		return http.StatusUnauthorized
	}

	txRef := txRefFromRequest(r, body)
	result, err := h.callbacks.HandleCallback(r.Context(), txRef)
	if err != nil {
		switch {
		case errors.Is(err, paymentsvc.ErrMissingTxRef):
			writeBadRequest(w, "MISSING_TX_REF", "missing tx_ref")
		case errors.Is(err, paymentsvc.ErrVerificationFailed):
			h.logger.Warn("webhook verification failed", zap.String("tx_ref", txRef), zap.Error(err))
			writeBadRequest(w, "VERIFY_FAILED", "payment verification failed")
		case errors.Is(err, settlement.ErrInvalidPaymentEvent):
			h.logger.Info("webhook rejected", zap.String("tx_ref", txRef), zap.Error(err))
			writeBadRequest(w, "INVALID_PAYMENT_EVENT", "payment not successful or invalid amount")
		default:
			h.logger.Error("webhook processing failed", zap.String("tx_ref", txRef), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to process webhook")
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	}

	httperrors.Write(w, http.StatusOK, dto.WebhookResponse{
		OK:         true,
		TxRef:      result.TxRef,
		Idempotent: result.Idempotent,
	})
	return http.StatusOK
}

func (h *WebhookHandler) validSignature(r *http.Request, body []byte) bool {
	for _, header := range signatureHeaders {
		if sig := strings.TrimSpace(r.Header.Get(header)); sig != "" && chapa.VerifySignature(h.secret, body, sig) {
			return true
		}
	}
	return false
}

// txRefFromRequest looks in the JSON body first, then the query string. The
// hosted checkout redirect uses trx_ref.
func txRefFromRequest(r *http.Request, body []byte) string {
	if len(body) > 0 {
		var req dto.ChapaWebhookRequest
		if err := json.Unmarshal(body, &req); err == nil {
			if txRef := strings.TrimSpace(req.TxRef); txRef != "" {
				return txRef
			}
			if req.Data != nil {
				if txRef := strings.TrimSpace(req.Data.TxRef); txRef != "" {
					return txRef
				}
			}
		}
	}

	query := r.URL.Query()
	for _, key := range []string{"tx_ref", "trx_ref"} {
		if txRef := strings.TrimSpace(query.Get(key)); txRef != "" {
			return txRef
		}
	}
	return ""
}
