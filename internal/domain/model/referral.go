package model

import (
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
)

type ReferralCredit struct {
	ID           int64                `json:"id"`
	ReferrerID   int64                `json:"referrer_id"`
	RefereeID    int64                `json:"referee_id"`
	AmountMinor  int64                `json:"amount_minor"`
	Status       enums.ReferralStatus `json:"status"`
	PaymentTxRef string               `json:"payment_tx_ref,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}
