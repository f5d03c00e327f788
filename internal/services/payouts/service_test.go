package payouts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type notifierStub struct {
	mu       sync.Mutex
	paid     []int64
	rejected []int64
	err      error
}

func (n *notifierStub) PayoutPaid(_ context.Context, p model.PayoutRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, p.ID)
	return n.err
}

func (n *notifierStub) PayoutRejected(_ context.Context, p model.PayoutRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, p.ID)
	return n.err
}

type observerStub struct {
	outcomes map[string]int
}

func (o *observerStub) ObservePayoutRequest(outcome string) {
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

type limiterStub struct {
	allowed bool
}

func (l limiterStub) Allow(context.Context, ratesvc.Action, int64) (int64, bool, error) {
	if l.allowed {
		return 0, true, nil
	}
	return 42, false, nil
}

// newFundedStore opens a ledger where user 2 earned one 15 ETB referral
// credit from user 1's payment.
func newFundedStore(t *testing.T) *boltstore.Store {
	t.Helper()
	ctx := context.Background()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	code, err := store.EnsureUser(ctx, 2, testNow)
	if err != nil {
		t.Fatalf("ensure referrer: %v", err)
	}
	if _, err := store.EnsureUser(ctx, 1, testNow); err != nil {
		t.Fatalf("ensure payer: %v", err)
	}
	if ok, err := store.SetReferredBy(ctx, 1, code); err != nil || !ok {
		t.Fatalf("set referred by: ok=%v err=%v", ok, err)
	}
	if _, err := store.SettlePayment(ctx, model.SettleInput{
		TxRef:       "sub-1-1",
		UserID:      1,
		AmountMinor: 20000,
		PlanDays:    30,
		BonusMinor:  1500,
	}, testNow); err != nil {
		t.Fatalf("settle payment: %v", err)
	}
	return store
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc := NewService(store, Config{MinWithdrawMinor: 1000})
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestRequestPayoutCheckOrder(t *testing.T) {
	ctx := context.Background()
	store := newFundedStore(t)
	svc := newTestService(t, store)
	observer := &observerStub{}
	svc.AttachObserver(observer)

	if _, err := svc.RequestPayout(ctx, 2, 999); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := svc.RequestPayout(ctx, 2, 1000); !errors.Is(err, ErrNoPhoneOnFile) {
		t.Fatalf("expected ErrNoPhoneOnFile, got %v", err)
	}

	if _, err := svc.SetPhone(ctx, 2, "+251 911 223 344"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	if _, err := svc.RequestPayout(ctx, 2, 1600); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	payout, err := svc.RequestPayout(ctx, 2, 1500)
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if payout.Status != enums.PayoutStatusPending || payout.Phone != "0911223344" || payout.AmountMinor != 1500 {
		t.Fatalf("unexpected payout: %+v", payout)
	}

	user, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.BalanceMinor != 0 {
		t.Fatalf("expected balance debited to 0, got %d", user.BalanceMinor)
	}

	want := map[string]int{
		outcomeBelowMinimum: 1,
		outcomeNoPhone:      1,
		outcomeInsufficient: 1,
		outcomeCreated:      1,
	}
	for outcome, count := range want {
		if observer.outcomes[outcome] != count {
			t.Fatalf("outcome %s: expected %d, got %d", outcome, count, observer.outcomes[outcome])
		}
	}
}

func TestRequestPayoutRateLimited(t *testing.T) {
	ctx := context.Background()
	store := newFundedStore(t)
	svc := newTestService(t, store)
	svc.AttachLimiter(limiterStub{allowed: false})

	_, err := svc.RequestPayout(ctx, 2, 1500)
	if !errors.Is(err, ratesvc.ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	var limited *ratesvc.LimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != 42 {
		t.Fatalf("expected retry after 42, got %v", err)
	}
}

func TestSetPhoneRejectsInvalidNumbers(t *testing.T) {
	ctx := context.Background()
	store := newFundedStore(t)
	svc := newTestService(t, store)

	for _, raw := range []string{"", "12345", "0811223344", "09112233445"} {
		if _, err := svc.SetPhone(ctx, 2, raw); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("phone %q: expected ErrInvalidPhone, got %v", raw, err)
		}
	}

	user, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.HasPhone() {
		t.Fatalf("expected no phone stored, got %q", user.Phone)
	}
}

func TestMarkPaidAndRejectNotify(t *testing.T) {
	ctx := context.Background()
	store := newFundedStore(t)
	svc := newTestService(t, store)
	notifier := &notifierStub{}
	svc.AttachNotifier(notifier)

	if _, err := svc.SetPhone(ctx, 2, "0711223344"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	first, err := svc.RequestPayout(ctx, 2, 1000)
	if err != nil {
		t.Fatalf("request first payout: %v", err)
	}

	pending, err := svc.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	paid, changed, err := svc.MarkPaid(ctx, first.ID)
	if err != nil || !changed {
		t.Fatalf("mark paid: changed=%v err=%v", changed, err)
	}
	if paid.Status != enums.PayoutStatusPaid {
		t.Fatalf("expected paid status, got %s", paid.Status)
	}
	if _, changed, err := svc.MarkPaid(ctx, first.ID); err != nil || changed {
		t.Fatalf("second mark paid: changed=%v err=%v", changed, err)
	}
	if _, _, err := svc.Reject(ctx, first.ID); !errors.Is(err, model.ErrPayoutNotPending) {
		t.Fatalf("expected ErrPayoutNotPending rejecting a paid payout, got %v", err)
	}

	if _, err := svc.RequestPayout(ctx, 2, 1000); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on remaining 5 ETB, got %v", err)
	}

	svc.cfg.MinWithdrawMinor = 500
	second, err := svc.RequestPayout(ctx, 2, 500)
	if err != nil {
		t.Fatalf("request second payout: %v", err)
	}
	if _, changed, err := svc.Reject(ctx, second.ID); err != nil || !changed {
		t.Fatalf("reject: changed=%v err=%v", changed, err)
	}

	user, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.BalanceMinor != 500 {
		t.Fatalf("expected refunded balance 500, got %d", user.BalanceMinor)
	}

	if len(notifier.paid) != 1 || notifier.paid[0] != first.ID {
		t.Fatalf("unexpected paid notifications: %v", notifier.paid)
	}
	if len(notifier.rejected) != 1 || notifier.rejected[0] != second.ID {
		t.Fatalf("unexpected rejected notifications: %v", notifier.rejected)
	}
}

func TestNotificationFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	store := newFundedStore(t)
	svc := newTestService(t, store)
	svc.cfg.MinWithdrawMinor = 500
	core, logs := zapobserver.New(zap.WarnLevel)
	svc.AttachLogger(zap.New(core))
	svc.AttachNotifier(&notifierStub{err: errors.New("telegram down")})

	if _, err := svc.SetPhone(ctx, 2, "0911223344"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	first, err := svc.RequestPayout(ctx, 2, 500)
	if err != nil {
		t.Fatalf("request first payout: %v", err)
	}
	second, err := svc.RequestPayout(ctx, 2, 500)
	if err != nil {
		t.Fatalf("request second payout: %v", err)
	}

	if _, changed, err := svc.MarkPaid(ctx, first.ID); err != nil || !changed {
		t.Fatalf("mark paid should succeed despite notifier: changed=%v err=%v", changed, err)
	}
	if _, changed, err := svc.Reject(ctx, second.ID); err != nil || !changed {
		t.Fatalf("reject should succeed despite notifier: changed=%v err=%v", changed, err)
	}

	if got := logs.FilterMessage("payout paid notification failed").Len(); got != 1 {
		t.Fatalf("expected one paid warning, got %d", got)
	}
	entries := logs.FilterMessage("payout rejected notification failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one rejected warning, got %d", len(entries))
	}
	if id, ok := entries[0].ContextMap()["payout_id"].(int64); !ok || id != second.ID {
		t.Fatalf("expected payout_id %d in log context, got %v", second.ID, entries[0].ContextMap()["payout_id"])
	}
}
