package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
)

func newTestService(t *testing.T, now time.Time) (*Service, *boltstore.Store) {
	t.Helper()

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(store)
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestStartLinksReferrerOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	referrer, err := svc.Start(ctx, 100, "")
	if err != nil {
		t.Fatalf("start referrer: %v", err)
	}
	other, err := svc.Start(ctx, 300, "")
	if err != nil {
		t.Fatalf("start other: %v", err)
	}

	first, err := svc.Start(ctx, 200, " "+referrer.ReferralCode+" ")
	if err != nil {
		t.Fatalf("start referee: %v", err)
	}
	if !first.Referred {
		t.Fatalf("expected referral to be recorded")
	}

	second, err := svc.Start(ctx, 200, other.ReferralCode)
	if err != nil {
		t.Fatalf("restart referee: %v", err)
	}
	if second.Referred || second.ReferralCode != first.ReferralCode {
		t.Fatalf("expected stable code and ignored second referral: %+v", second)
	}

	self, err := svc.Start(ctx, 100, referrer.ReferralCode)
	if err != nil {
		t.Fatalf("self start: %v", err)
	}
	if self.Referred {
		t.Fatalf("self referral must be ignored")
	}
}

func TestProfile(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	referrer, err := svc.Start(ctx, 1, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, 2, referrer.ReferralCode); err != nil {
		t.Fatalf("start referee: %v", err)
	}
	if _, err := store.SettlePayment(ctx, model.SettleInput{TxRef: "sub-2-1", UserID: 2, AmountMinor: 20000, PlanDays: 30, BonusMinor: 1500}, now); err != nil {
		t.Fatalf("settle: %v", err)
	}

	payee, err := svc.Profile(ctx, 2)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !payee.SubscriptionActive || payee.DaysLeft != 30 {
		t.Fatalf("unexpected payee profile: %+v", payee)
	}

	ref, err := svc.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if ref.SubscriptionActive || ref.ReferralCount != 1 || ref.ReferralEarned != 1500 || ref.User.BalanceMinor != 1500 {
		t.Fatalf("unexpected referrer profile: %+v", ref)
	}
}

func TestEnsureRejectsInvalidID(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	if _, err := svc.Ensure(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReferralLink(t *testing.T) {
	if got := ReferralLink("@refbot", "123ABC"); got != "https://t.me/refbot?start=123ABC" {
		t.Fatalf("unexpected link %q", got)
	}
}
