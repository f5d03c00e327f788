package boltstore

import (
	"context"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
)

func (s *Store) CreatePayoutRequest(_ context.Context, userID, amountMinor int64, phone string, now time.Time) (model.PayoutRequest, error) {
	if amountMinor <= 0 {
		return model.PayoutRequest{}, model.ErrInvalidAmount
	}

	var out model.PayoutRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var user model.User
		found, err := getJSON(users, itob(userID), &user)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		if user.BalanceMinor < amountMinor {
			return model.ErrInsufficientBalance
		}

		user.BalanceMinor -= amountMinor
		if err := putJSON(users, itob(userID), user); err != nil {
			return err
		}

		payouts := tx.Bucket(bucketPayouts)
		seq, err := payouts.NextSequence()
		if err != nil {
			return err
		}
		out = model.PayoutRequest{
			ID:          int64(seq),
			UserID:      userID,
			AmountMinor: amountMinor,
			Phone:       strings.TrimSpace(phone),
			Status:      enums.PayoutStatusPending,
			CreatedAt:   now.UTC(),
		}
		return putJSON(payouts, itob(out.ID), out)
	})
	if err != nil {
		return model.PayoutRequest{}, err
	}
	return out, nil
}

func (s *Store) GetPayout(_ context.Context, id int64) (model.PayoutRequest, error) {
	var payout model.PayoutRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketPayouts), itob(id), &payout)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrPayoutNotFound
		}
		return nil
	})
	if err != nil {
		return model.PayoutRequest{}, err
	}
	return payout, nil
}

// ListPendingPayouts returns pending requests, newest first.
func (s *Store) ListPendingPayouts(_ context.Context, limit int) ([]model.PayoutRequest, error) {
	limit = clampLimit(limit)

	out := make([]model.PayoutRequest, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPayouts).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var payout model.PayoutRequest
			if err := jsonUnmarshal(v, &payout); err != nil {
				return err
			}
			if payout.Status == enums.PayoutStatusPending {
				out = append(out, payout)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkPayoutPaid(_ context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error) {
	var (
		out     model.PayoutRequest
		changed bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		payouts := tx.Bucket(bucketPayouts)
		found, err := getJSON(payouts, itob(id), &out)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrPayoutNotFound
		}

		switch out.Status {
		case enums.PayoutStatusPaid:
			return nil
		case enums.PayoutStatusRejected:
			return model.ErrPayoutNotPending
		}

		paidAt := now.UTC()
		out.Status = enums.PayoutStatusPaid
		out.PaidAt = &paidAt
		changed = true
		return putJSON(payouts, itob(id), out)
	})
	if err != nil {
		return out, false, err
	}
	return out, changed, nil
}

// RejectPayout closes a pending request and refunds its amount to the user.
func (s *Store) RejectPayout(_ context.Context, id int64, now time.Time) (model.PayoutRequest, bool, error) {
	var (
		out     model.PayoutRequest
		changed bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		payouts := tx.Bucket(bucketPayouts)
		found, err := getJSON(payouts, itob(id), &out)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrPayoutNotFound
		}

		switch out.Status {
		case enums.PayoutStatusRejected:
			return nil
		case enums.PayoutStatusPaid:
			return model.ErrPayoutNotPending
		}

		users := tx.Bucket(bucketUsers)
		var user model.User
		if _, err := getJSON(users, itob(out.UserID), &user); err != nil {
			return err
		}
		user.BalanceMinor += out.AmountMinor
		if err := putJSON(users, itob(out.UserID), user); err != nil {
			return err
		}

		rejectedAt := now.UTC()
		out.Status = enums.PayoutStatusRejected
		out.RejectedAt = &rejectedAt
		changed = true
		return putJSON(payouts, itob(id), out)
	})
	if err != nil {
		return out, false, err
	}
	return out, changed, nil
}
