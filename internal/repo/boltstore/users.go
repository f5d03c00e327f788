package boltstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
)

func (s *Store) EnsureUser(_ context.Context, userID int64, now time.Time) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("invalid user id")
	}

	var code string
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var existing model.User
		found, err := getJSON(users, itob(userID), &existing)
		if err != nil {
			return err
		}
		if found {
			code = existing.ReferralCode
			return nil
		}

		codes := tx.Bucket(bucketReferralCodes)
		for attempt := 0; attempt < rules.MaxReferralCodeTries; attempt++ {
			candidate, err := rules.NewReferralCode(userID)
			if err != nil {
				return err
			}
			if codes.Get([]byte(candidate)) != nil {
				continue
			}

			user := model.User{ID: userID, ReferralCode: candidate, CreatedAt: now.UTC()}
			if err := putJSON(users, itob(userID), user); err != nil {
				return err
			}
			if err := codes.Put([]byte(candidate), itob(userID)); err != nil {
				return err
			}
			code = candidate
			return nil
		}
		return fmt.Errorf("ensure user %d: %w", userID, model.ErrDuplicateReferralCode)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Store) SetReferredBy(_ context.Context, userID int64, code string) (bool, error) {
	code = rules.NormalizeReferralCode(code)
	if code == "" {
		return false, nil
	}

	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		referrerKey := tx.Bucket(bucketReferralCodes).Get([]byte(code))
		if referrerKey == nil || btoi(referrerKey) == userID {
			return nil
		}

		users := tx.Bucket(bucketUsers)
		var user model.User
		found, err := getJSON(users, itob(userID), &user)
		if err != nil || !found || user.ReferredBy != "" {
			return err
		}

		user.ReferredBy = code
		applied = true
		return putJSON(users, itob(userID), user)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) SetPhone(_ context.Context, userID int64, phone string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var user model.User
		found, err := getJSON(users, itob(userID), &user)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		user.Phone = strings.TrimSpace(phone)
		return putJSON(users, itob(userID), user)
	})
}

func (s *Store) GetUser(_ context.Context, userID int64) (model.User, error) {
	var user model.User
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketUsers), itob(userID), &user)
		if err != nil {
			return err
		}
		if !found {
			return model.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (model.User, error) {
	var userID int64
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketReferralCodes).Get([]byte(rules.NormalizeReferralCode(code)))
		if key == nil {
			return model.ErrUserNotFound
		}
		userID = btoi(key)
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return s.GetUser(ctx, userID)
}
