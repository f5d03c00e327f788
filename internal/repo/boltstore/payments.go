package boltstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
)

func (s *Store) RecordPaymentAttempt(_ context.Context, txRef string, userID, amountMinor int64, now time.Time) (bool, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" || userID <= 0 {
		return false, fmt.Errorf("invalid payment attempt payload")
	}
	if amountMinor <= 0 {
		return false, model.ErrInvalidAmount
	}

	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUsers).Get(itob(userID)) == nil {
			return model.ErrUserNotFound
		}
		payments := tx.Bucket(bucketPayments)
		if payments.Get([]byte(txRef)) != nil {
			return nil
		}
		created = true
		return putJSON(payments, []byte(txRef), model.Payment{
			TxRef:       txRef,
			UserID:      userID,
			AmountMinor: amountMinor,
			Status:      enums.PaymentStatusPending,
			CreatedAt:   now.UTC(),
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) GetPayment(_ context.Context, txRef string) (model.Payment, error) {
	var payment model.Payment
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketPayments), []byte(strings.TrimSpace(txRef)), &payment)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrPaymentNotFound
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}
	return payment, nil
}

// MarkPaymentSuccess moves a pending payment to success. The returned bool
// is true only for the call that performed the transition.
func (s *Store) MarkPaymentSuccess(_ context.Context, txRef, providerTxnID string, now time.Time) (model.Payment, bool, error) {
	var (
		out          model.Payment
		transitioned bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		out, transitioned, err = markPaymentSuccessTx(tx, strings.TrimSpace(txRef), providerTxnID, now.UTC())
		return err
	})
	if err != nil {
		return model.Payment{}, false, err
	}
	return out, transitioned, nil
}

func (s *Store) ApplySubscriptionAndReferral(_ context.Context, userID int64, planDays int, bonusMinor int64, now time.Time) (model.Grant, error) {
	var grant model.Grant
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		grant, err = applyGrantTx(tx, userID, planDays, bonusMinor, "", now.UTC())
		return err
	})
	if err != nil {
		return model.Grant{}, err
	}
	return grant, nil
}

// SettlePayment records the payment if needed, transitions it to success and
// applies the grant in one transaction. Any error discards every change.
func (s *Store) SettlePayment(_ context.Context, in model.SettleInput, now time.Time) (model.SettleOutcome, error) {
	in.TxRef = strings.TrimSpace(in.TxRef)
	if in.TxRef == "" || in.UserID <= 0 {
		return model.SettleOutcome{}, fmt.Errorf("invalid settle payload")
	}
	if in.AmountMinor <= 0 {
		return model.SettleOutcome{}, model.ErrInvalidAmount
	}
	now = now.UTC()

	var out model.SettleOutcome
	err := s.db.Update(func(tx *bolt.Tx) error {
		payments := tx.Bucket(bucketPayments)
		if payments.Get([]byte(in.TxRef)) == nil {
			if err := putJSON(payments, []byte(in.TxRef), model.Payment{
				TxRef:       in.TxRef,
				UserID:      in.UserID,
				AmountMinor: in.AmountMinor,
				Status:      enums.PaymentStatusPending,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		payment, transitioned, err := markPaymentSuccessTx(tx, in.TxRef, in.ProviderTxnID, now)
		if err != nil {
			return err
		}
		out.Payment = payment
		if !transitioned {
			out.AlreadySettled = true
			return nil
		}
		if payment.UserID != in.UserID {
			return model.ErrPaymentOwnerMismatch
		}

		grant, err := applyGrantTx(tx, in.UserID, in.PlanDays, in.BonusMinor, in.TxRef, now)
		if err != nil {
			return err
		}
		out.Grant = grant
		return nil
	})
	if err != nil {
		return model.SettleOutcome{}, err
	}
	return out, nil
}

func (s *Store) ListStalePendingPayments(_ context.Context, createdBefore, createdAfter time.Time, limit int) ([]model.Payment, error) {
	limit = clampLimit(limit)

	out := make([]model.Payment, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPayments).ForEach(func(_, v []byte) error {
			var payment model.Payment
			if err := jsonUnmarshal(v, &payment); err != nil {
				return err
			}
			if payment.Status == enums.PaymentStatusPending &&
				payment.CreatedAt.Before(createdBefore) &&
				payment.CreatedAt.After(createdAfter) {
				out = append(out, payment)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListReferralCredits(_ context.Context, referrerID int64, limit int) ([]model.ReferralCredit, error) {
	limit = clampLimit(limit)

	out := make([]model.ReferralCredit, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReferrals).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var credit model.ReferralCredit
			if err := jsonUnmarshal(v, &credit); err != nil {
				return err
			}
			if credit.ReferrerID == referrerID {
				out = append(out, credit)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func markPaymentSuccessTx(tx *bolt.Tx, txRef, providerTxnID string, now time.Time) (model.Payment, bool, error) {
	payments := tx.Bucket(bucketPayments)
	var payment model.Payment
	found, err := getJSON(payments, []byte(txRef), &payment)
	if err != nil {
		return model.Payment{}, false, err
	}
	if !found {
		return model.Payment{}, false, model.ErrPaymentNotFound
	}
	if payment.Status == enums.PaymentStatusSuccess {
		return payment, false, nil
	}

	settledAt := now
	payment.Status = enums.PaymentStatusSuccess
	payment.ProviderTxnID = strings.TrimSpace(providerTxnID)
	payment.SettledAt = &settledAt
	if err := putJSON(payments, []byte(txRef), payment); err != nil {
		return model.Payment{}, false, err
	}
	return payment, true, nil
}

// applyGrantTx extends the user's subscription and credits the referrer, if
// any. A non-empty paymentTxRef may back at most one credit.
func applyGrantTx(tx *bolt.Tx, userID int64, planDays int, bonusMinor int64, paymentTxRef string, now time.Time) (model.Grant, error) {
	users := tx.Bucket(bucketUsers)
	var user model.User
	found, err := getJSON(users, itob(userID), &user)
	if err != nil {
		return model.Grant{}, err
	}
	if !found {
		return model.Grant{}, model.ErrUserNotFound
	}

	user.SubscriptionUntil = rules.ExtendSubscription(user.SubscriptionUntil, now, planDays).UTC()
	if err := putJSON(users, itob(userID), user); err != nil {
		return model.Grant{}, err
	}

	grant := model.Grant{UserID: userID, SubscriptionUntil: user.SubscriptionUntil}
	if user.ReferredBy == "" || bonusMinor <= 0 {
		return grant, nil
	}

	referrerKey := tx.Bucket(bucketReferralCodes).Get([]byte(user.ReferredBy))
	if referrerKey == nil || btoi(referrerKey) == userID {
		return grant, nil
	}
	referrerID := btoi(referrerKey)

	byPayment := tx.Bucket(bucketReferralPayments)
	if paymentTxRef != "" && byPayment.Get([]byte(paymentTxRef)) != nil {
		return model.Grant{}, fmt.Errorf("referral credit for %s already exists", paymentTxRef)
	}

	var referrer model.User
	if _, err := getJSON(users, itob(referrerID), &referrer); err != nil {
		return model.Grant{}, err
	}
	referrer.BalanceMinor += bonusMinor
	if err := putJSON(users, itob(referrerID), referrer); err != nil {
		return model.Grant{}, err
	}

	referrals := tx.Bucket(bucketReferrals)
	seq, err := referrals.NextSequence()
	if err != nil {
		return model.Grant{}, err
	}
	credit := model.ReferralCredit{
		ID:           int64(seq),
		ReferrerID:   referrerID,
		RefereeID:    userID,
		AmountMinor:  bonusMinor,
		Status:       enums.ReferralStatusEarned,
		PaymentTxRef: paymentTxRef,
		CreatedAt:    now,
	}
	if err := putJSON(referrals, itob(credit.ID), credit); err != nil {
		return model.Grant{}, err
	}
	if paymentTxRef != "" {
		if err := byPayment.Put([]byte(paymentTxRef), itob(credit.ID)); err != nil {
			return model.Grant{}, err
		}
	}

	grant.ReferrerID = referrerID
	grant.BonusMinor = bonusMinor
	return grant, nil
}

// ReferralSummary returns how many credits a referrer earned and their total.
func (s *Store) ReferralSummary(_ context.Context, referrerID int64) (int64, int64, error) {
	var count, total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReferrals).ForEach(func(_, v []byte) error {
			var credit model.ReferralCredit
			if err := jsonUnmarshal(v, &credit); err != nil {
				return err
			}
			if credit.ReferrerID == referrerID {
				count++
				total += credit.AmountMinor
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}
	return count, total, nil
}
