package model

import (
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
)

type PayoutRequest struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"user_id"`
	AmountMinor int64              `json:"amount_minor"`
	Phone       string             `json:"phone"`
	Status      enums.PayoutStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	PaidAt      *time.Time         `json:"paid_at,omitempty"`
	RejectedAt  *time.Time         `json:"rejected_at,omitempty"`
}
