package dto

import (
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
)

type PayoutItem struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	AmountMinor int64      `json:"amount_minor"`
	Amount      string     `json:"amount"`
	Phone       string     `json:"phone"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
}

type PayoutListResponse struct {
	Items []PayoutItem `json:"items"`
}

type PayoutActionResponse struct {
	Payout  PayoutItem `json:"payout"`
	Changed bool       `json:"changed"`
}

type ExportResponse struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Rows int    `json:"rows"`
}

type StatsResponse struct {
	Users               int64 `json:"users"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	SuccessfulPayments  int64 `json:"successful_payments"`
	ReferralCredits     int64 `json:"referral_credits"`
	ReferralMinor       int64 `json:"referral_minor"`
	PendingPayouts      int64 `json:"pending_payouts"`
	PendingPayoutMinor  int64 `json:"pending_payout_minor"`
}

func NewPayoutItem(p model.PayoutRequest) PayoutItem {
	return PayoutItem{
		ID:          p.ID,
		UserID:      p.UserID,
		AmountMinor: p.AmountMinor,
		Amount:      chapa.FormatMinor(p.AmountMinor),
		Phone:       p.Phone,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		PaidAt:      p.PaidAt,
		RejectedAt:  p.RejectedAt,
	}
}

func NewStatsResponse(s model.LedgerStats) StatsResponse {
	return StatsResponse(s)
}
