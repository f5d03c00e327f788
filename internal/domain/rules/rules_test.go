package rules

import (
	"strings"
	"testing"
	"time"
)

func TestNewReferralCodeShape(t *testing.T) {
	code, err := NewReferralCode(987654123)
	if err != nil {
		t.Fatalf("new referral code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("unexpected code length: %q", code)
	}
	if !strings.HasPrefix(code, "123") {
		t.Fatalf("code must start with last three id digits: %q", code)
	}
	if strings.ToUpper(code) != code {
		t.Fatalf("code must be upper-case: %q", code)
	}
}

func TestNewReferralCodeShortID(t *testing.T) {
	code, err := NewReferralCode(7)
	if err != nil {
		t.Fatalf("new referral code: %v", err)
	}
	if !strings.HasPrefix(code, "7") || len(code) != 4 {
		t.Fatalf("unexpected code for short id: %q", code)
	}
}

func TestExtendSubscription(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		current time.Time
		want    time.Time
	}{
		{name: "never subscribed", current: time.Time{}, want: now.Add(30 * Day)},
		{name: "expired", current: now.Add(-time.Hour), want: now.Add(30 * Day)},
		{name: "active", current: now.Add(5 * Day), want: now.Add(35 * Day)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtendSubscription(tc.current, now, 30)
			if !got.Equal(tc.want) {
				t.Fatalf("unexpected expiry: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := DaysLeft(now.Add(49*time.Hour), now); got != 2 {
		t.Fatalf("unexpected days left: %d", got)
	}
	if got := DaysLeft(now.Add(-time.Hour), now); got != 0 {
		t.Fatalf("expired subscription must report 0, got %d", got)
	}
}

func TestTxRefRoundTrip(t *testing.T) {
	ref := NewTxRef(42, time.Unix(1700000000, 0))
	if ref != "sub-42-1700000000" {
		t.Fatalf("unexpected tx ref: %s", ref)
	}
	id, ok := UserIDFromTxRef(ref)
	if !ok || id != 42 {
		t.Fatalf("unexpected user id from tx ref: %d %v", id, ok)
	}
	if _, ok := UserIDFromTxRef("order-1"); ok {
		t.Fatalf("foreign tx ref must not parse")
	}
}
