package boltstore

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
)

func (s *Store) Stats(_ context.Context, now time.Time) (model.LedgerStats, error) {
	var stats model.LedgerStats
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var user model.User
			if err := jsonUnmarshal(v, &user); err != nil {
				return err
			}
			stats.Users++
			if user.SubscriptionActive(now) {
				stats.ActiveSubscriptions++
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketPayments).ForEach(func(_, v []byte) error {
			var payment model.Payment
			if err := jsonUnmarshal(v, &payment); err != nil {
				return err
			}
			if payment.Status == enums.PaymentStatusSuccess {
				stats.SuccessfulPayments++
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketReferrals).ForEach(func(_, v []byte) error {
			var credit model.ReferralCredit
			if err := jsonUnmarshal(v, &credit); err != nil {
				return err
			}
			stats.ReferralCredits++
			stats.ReferralMinor += credit.AmountMinor
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketPayouts).ForEach(func(_, v []byte) error {
			var payout model.PayoutRequest
			if err := jsonUnmarshal(v, &payout); err != nil {
				return err
			}
			if payout.Status == enums.PayoutStatusPending {
				stats.PendingPayouts++
				stats.PendingPayoutMinor += payout.AmountMinor
			}
			return nil
		})
	})
	if err != nil {
		return model.LedgerStats{}, err
	}
	return stats, nil
}
