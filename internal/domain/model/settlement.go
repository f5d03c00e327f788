package model

import "time"

// SettleInput describes a verified payment to be converted into subscription
// time and, when the payer was referred, a referral credit.
type SettleInput struct {
	TxRef         string
	ProviderTxnID string
	UserID        int64
	AmountMinor   int64
	PlanDays      int
	BonusMinor    int64
}

// Grant is the effect of one subscription/referral application.
type Grant struct {
	UserID            int64
	SubscriptionUntil time.Time
	ReferrerID        int64
	BonusMinor        int64
}

func (g Grant) Credited() bool {
	return g.ReferrerID > 0 && g.BonusMinor > 0
}

type SettleOutcome struct {
	Payment Payment
	Grant   Grant
	// AlreadySettled is true when the payment had reached success before
	// this call; Grant is empty in that case.
	AlreadySettled bool
}

type LedgerStats struct {
	Users               int64 `json:"users"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	SuccessfulPayments  int64 `json:"successful_payments"`
	ReferralCredits     int64 `json:"referral_credits"`
	ReferralMinor       int64 `json:"referral_minor"`
	PendingPayouts      int64 `json:"pending_payouts"`
	PendingPayoutMinor  int64 `json:"pending_payout_minor"`
}
