package model

import "time"

type User struct {
	ID                int64     `json:"id"`
	Phone             string    `json:"phone,omitempty"`
	ReferralCode      string    `json:"referral_code"`
	ReferredBy        string    `json:"referred_by,omitempty"`
	BalanceMinor      int64     `json:"balance_minor"`
	SubscriptionUntil time.Time `json:"subscription_until"`
	CreatedAt         time.Time `json:"created_at"`
}

// SubscriptionActive reports whether the subscription expires after now.
// A zero expiry means the user never subscribed.
func (u User) SubscriptionActive(now time.Time) bool {
	return !u.SubscriptionUntil.IsZero() && u.SubscriptionUntil.After(now)
}

func (u User) HasPhone() bool {
	return u.Phone != ""
}
