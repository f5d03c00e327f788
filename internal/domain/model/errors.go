package model

import "errors"

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPayoutNotFound        = errors.New("payout request not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateReferralCode = errors.New("duplicate referral code")
	ErrPayoutNotPending      = errors.New("payout request is not pending")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrPaymentOwnerMismatch  = errors.New("payment belongs to another user")
)
