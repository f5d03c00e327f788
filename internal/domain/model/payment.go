package model

import (
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
)

type Payment struct {
	TxRef         string              `json:"tx_ref"`
	UserID        int64               `json:"user_id"`
	AmountMinor   int64               `json:"amount_minor"`
	Status        enums.PaymentStatus `json:"status"`
	ProviderTxnID string              `json:"provider_txn_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	SettledAt     *time.Time          `json:"settled_at,omitempty"`
}
