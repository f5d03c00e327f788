package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/rules"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	EnsureUser(ctx context.Context, userID int64, now time.Time) (string, error)
	SetReferredBy(ctx context.Context, userID int64, code string) (bool, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
	ReferralSummary(ctx context.Context, referrerID int64) (int64, int64, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

type StartResult struct {
	ReferralCode string
	// Referred is true when this call linked the user to a referrer.
	Referred bool
}

type Profile struct {
	User               model.User
	SubscriptionActive bool
	DaysLeft           int
	ReferralCount      int64
	ReferralEarned     int64
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

func (s *Service) Ensure(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", ErrValidation
	}
	code, err := s.store.EnsureUser(ctx, userID, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	return code, nil
}

// Start registers the user and, when startArg carries a referral code,
// records the referrer. An invalid or late code is silently ignored.
func (s *Service) Start(ctx context.Context, userID int64, startArg string) (StartResult, error) {
	code, err := s.Ensure(ctx, userID)
	if err != nil {
		return StartResult{}, err
	}

	result := StartResult{ReferralCode: code}
	startArg = rules.NormalizeReferralCode(startArg)
	if startArg == "" {
		return result, nil
	}

	referred, err := s.store.SetReferredBy(ctx, userID, startArg)
	if err != nil {
		return StartResult{}, fmt.Errorf("set referred by: %w", err)
	}
	result.Referred = referred
	return result, nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	if _, err := s.Ensure(ctx, userID); err != nil {
		return Profile{}, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("get user: %w", err)
	}
	count, earned, err := s.store.ReferralSummary(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("referral summary: %w", err)
	}

	now := s.now().UTC()
	return Profile{
		User:               user,
		SubscriptionActive: user.SubscriptionActive(now),
		DaysLeft:           rules.DaysLeft(user.SubscriptionUntil, now),
		ReferralCount:      count,
		ReferralEarned:     earned,
	}, nil
}

// ReferralLink builds the bot deep link that carries code as the start
// parameter.
func ReferralLink(botUsername, code string) string {
	botUsername = strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	return "https://t.me/" + botUsername + "?start=" + url.QueryEscape(code)
}
