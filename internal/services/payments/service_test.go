package payments

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/enums"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
	redisrepo "github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/redis"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var testConfig = Config{
	PlanPriceMinor: 20000,
	PlanDays:       30,
	Currency:       "ETB",
	BaseURL:        "https://api.example.com/",
}

type gatewayStub struct {
	mu            sync.Mutex
	checkouts     []chapa.CheckoutRequest
	verifications map[string]chapa.Verification
	verifyErr     error
	verifyCalls   int
}

func (g *gatewayStub) InitializeCheckout(_ context.Context, req chapa.CheckoutRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	return "https://checkout.chapa.co/" + req.TxRef, nil
}

func (g *gatewayStub) Verify(_ context.Context, txRef string) (chapa.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return chapa.Verification{}, g.verifyErr
	}
	v, ok := g.verifications[txRef]
	if !ok {
		return chapa.Verification{}, &chapa.RequestError{Op: "verify transaction", StatusCode: 404, Err: errors.New("not found")}
	}
	return v, nil
}

func (g *gatewayStub) succeed(txRef string, userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifications == nil {
		g.verifications = make(map[string]chapa.Verification)
	}
	g.verifications[txRef] = chapa.Verification{
		Status:      "success",
		TxRef:       txRef,
		Reference:   "APx" + txRef,
		AmountMinor: 20000,
		Currency:    "ETB",
		UserID:      userID,
	}
}

type notifierStub struct {
	mu       sync.Mutex
	outcomes []model.SettleOutcome
}

func (n *notifierStub) PaymentSettled(_ context.Context, outcome model.SettleOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome)
	return nil
}

type fixture struct {
	svc      *Service
	store    *boltstore.Store
	gateway  *gatewayStub
	notifier *notifierStub
	redis    *miniredis.Miniredis
	client   *goredis.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	gateway := &gatewayStub{}
	notifier := &notifierStub{}
	settler := settlement.NewService(store, settlement.Config{PlanPriceMinor: 20000, BonusMinor: 1500, PlanDays: 30})

	svc := NewService(Dependencies{Ledger: store, Gateway: gateway, Settler: settler}, testConfig)
	svc.now = func() time.Time { return testNow }
	svc.AttachSettledCache(redisrepo.NewSettledCache(client, time.Hour))
	svc.AttachNotifier(notifier)

	return fixture{svc: svc, store: store, gateway: gateway, notifier: notifier, redis: mr, client: client}
}

func TestStartCheckoutRecordsPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: 42, BotUsername: "@refbot"})
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if checkout.TxRef != "sub-42-1709294400" {
		t.Fatalf("unexpected tx ref %q", checkout.TxRef)
	}
	if !strings.HasSuffix(checkout.CheckoutURL, checkout.TxRef) {
		t.Fatalf("unexpected checkout url %q", checkout.CheckoutURL)
	}

	payment, err := f.store.GetPayment(ctx, checkout.TxRef)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending || payment.AmountMinor != 20000 || payment.UserID != 42 {
		t.Fatalf("unexpected payment: %+v", payment)
	}

	if len(f.gateway.checkouts) != 1 {
		t.Fatalf("expected one checkout call, got %d", len(f.gateway.checkouts))
	}
	req := f.gateway.checkouts[0]
	if req.CallbackURL != "https://api.example.com/webhook/chapa" {
		t.Fatalf("unexpected callback url %q", req.CallbackURL)
	}
	if req.ReturnURL != "https://t.me/refbot" {
		t.Fatalf("unexpected return url %q", req.ReturnURL)
	}
	if req.Email != "user42@example.com" || req.FirstName != "TG" || req.LastName != "42" {
		t.Fatalf("unexpected customer fields: %+v", req)
	}
	if req.Customization.Description != "200 ETB / 30 days" {
		t.Fatalf("unexpected description %q", req.Customization.Description)
	}
}

func TestStartCheckoutRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.AttachLimiter(ratesvc.NewLimiter(redisrepo.NewRateRepo(f.client), 1, 0))

	if _, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: 42}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	_, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: 42})
	if !errors.Is(err, ratesvc.ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	if len(f.gateway.checkouts) != 1 {
		t.Fatalf("expected limited attempt to skip the gateway, got %d calls", len(f.gateway.checkouts))
	}
}

func TestHandleCallbackSettlesOnceAndCreditsReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.store.EnsureUser(ctx, 2, testNow)
	if err != nil {
		t.Fatalf("ensure referrer: %v", err)
	}
	if _, err := f.store.EnsureUser(ctx, 1, testNow); err != nil {
		t.Fatalf("ensure payer: %v", err)
	}
	if _, err := f.store.SetReferredBy(ctx, 1, code); err != nil {
		t.Fatalf("set referred by: %v", err)
	}

	checkout, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: 1})
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	f.gateway.succeed(checkout.TxRef, 1)

	first, err := f.svc.HandleCallback(ctx, checkout.TxRef)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if first.Idempotent || first.Outcome.Grant.ReferrerID != 2 || first.Outcome.Grant.BonusMinor != 1500 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := f.svc.HandleCallback(ctx, checkout.TxRef)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if !second.Idempotent {
		t.Fatalf("expected idempotent redelivery")
	}
	if f.gateway.verifyCalls != 1 {
		t.Fatalf("expected cached redelivery to skip verification, got %d calls", f.gateway.verifyCalls)
	}

	// Without the cache the ledger still short-circuits.
	f.redis.FlushAll()
	third, err := f.svc.HandleCallback(ctx, checkout.TxRef)
	if err != nil {
		t.Fatalf("third callback: %v", err)
	}
	if !third.Idempotent || f.gateway.verifyCalls != 1 {
		t.Fatalf("expected ledger short-circuit, idempotent=%v verify calls=%d", third.Idempotent, f.gateway.verifyCalls)
	}

	referrer, err := f.store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	if referrer.BalanceMinor != 1500 {
		t.Fatalf("expected referrer balance 1500, got %d", referrer.BalanceMinor)
	}
	if len(f.notifier.outcomes) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.outcomes))
	}
}

func TestHandleCallbackUnrecordedTxRefUsesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.EnsureUser(ctx, 7, testNow); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	f.gateway.succeed("sub-7-1700000000", 7)

	result, err := f.svc.HandleCallback(ctx, " sub-7-1700000000 ")
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if result.Idempotent {
		t.Fatalf("expected first application")
	}

	payment, err := f.store.GetPayment(ctx, "sub-7-1700000000")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusSuccess || payment.UserID != 7 {
		t.Fatalf("unexpected payment: %+v", payment)
	}
}

func TestHandleCallbackErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.HandleCallback(ctx, "  "); !errors.Is(err, ErrMissingTxRef) {
		t.Fatalf("expected ErrMissingTxRef, got %v", err)
	}

	if _, err := f.svc.HandleCallback(ctx, "sub-1-1"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed for unknown tx ref, got %v", err)
	}

	if _, err := f.store.EnsureUser(ctx, 1, testNow); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	f.gateway.succeed("sub-1-2", 1)
	f.gateway.verifications["sub-1-2"] = chapa.Verification{Status: "failed", TxRef: "sub-1-2", AmountMinor: 20000, UserID: 1}
	if _, err := f.svc.HandleCallback(ctx, "sub-1-2"); !errors.Is(err, settlement.ErrInvalidPaymentEvent) {
		t.Fatalf("expected ErrInvalidPaymentEvent for failed status, got %v", err)
	}

	f.gateway.verifications["sub-1-3"] = chapa.Verification{Status: "success", TxRef: "sub-1-3", AmountMinor: 10000, UserID: 1}
	if _, err := f.svc.HandleCallback(ctx, "sub-1-3"); !errors.Is(err, settlement.ErrInvalidPaymentEvent) {
		t.Fatalf("expected ErrInvalidPaymentEvent for short amount, got %v", err)
	}

	f.gateway.succeed("sub-99-1", 99)
	if _, err := f.svc.HandleCallback(ctx, "sub-99-1"); !errors.Is(err, settlement.ErrInvalidPaymentEvent) {
		t.Fatalf("expected ErrInvalidPaymentEvent for unknown user, got %v", err)
	}
	if _, err := f.store.GetPayment(ctx, "sub-99-1"); !errors.Is(err, model.ErrPaymentNotFound) {
		t.Fatalf("expected unknown user settlement to roll back, got %v", err)
	}

	if len(f.notifier.outcomes) != 0 {
		t.Fatalf("expected no notifications, got %d", len(f.notifier.outcomes))
	}
}

func TestHandleCallbackRequiresVerifiedFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(v *chapa.Verification)
	}{
		{name: "missing tx ref", mutate: func(v *chapa.Verification) { v.TxRef = "" }},
		{name: "missing metadata user", mutate: func(v *chapa.Verification) { v.UserID = 0 }},
		{name: "both missing", mutate: func(v *chapa.Verification) { v.TxRef, v.UserID = "", 0 }},
		{name: "other tx ref", mutate: func(v *chapa.Verification) { v.TxRef = "sub-42-1" }},
		{name: "metadata for another user", mutate: func(v *chapa.Verification) { v.UserID = 43 }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			checkout, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: 42, FirstName: "Abebe", BotUsername: "refbot"})
			if err != nil {
				t.Fatalf("start checkout: %v", err)
			}
			f.gateway.succeed(checkout.TxRef, 42)
			v := f.gateway.verifications[checkout.TxRef]
			tc.mutate(&v)
			f.gateway.verifications[checkout.TxRef] = v

			if _, err := f.svc.HandleCallback(ctx, checkout.TxRef); !errors.Is(err, settlement.ErrInvalidPaymentEvent) {
				t.Fatalf("expected ErrInvalidPaymentEvent, got %v", err)
			}

			payment, err := f.store.GetPayment(ctx, checkout.TxRef)
			if err != nil {
				t.Fatalf("get payment: %v", err)
			}
			if payment.Status != enums.PaymentStatusPending {
				t.Fatalf("expected payment to stay pending, got %s", payment.Status)
			}
			user, err := f.store.GetUser(ctx, 42)
			if err != nil {
				t.Fatalf("get user: %v", err)
			}
			if !user.SubscriptionUntil.IsZero() {
				t.Fatalf("expected no subscription, got %s", user.SubscriptionUntil)
			}
		})
	}
}

func TestCheckOwner(t *testing.T) {
	testCases := []struct {
		name     string
		meta     int64
		recorded int64
		txRef    string
		wantErr  bool
	}{
		{name: "all agree", meta: 7, recorded: 7, txRef: "sub-7-1"},
		{name: "unrecorded attempt", meta: 7, txRef: "sub-7-1"},
		{name: "foreign tx ref format", meta: 7, txRef: "other"},
		{name: "missing metadata left to settlement", recorded: 6, txRef: "sub-6-1"},
		{name: "recorded owner differs", meta: 5, recorded: 6, txRef: "sub-5-1", wantErr: true},
		{name: "tx ref owner differs", meta: 5, txRef: "sub-7-1", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := checkOwner(tc.meta, tc.recorded, tc.txRef)
			if tc.wantErr != (err != nil) {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if err != nil && !errors.Is(err, settlement.ErrInvalidPaymentEvent) {
				t.Fatalf("expected ErrInvalidPaymentEvent, got %v", err)
			}
		})
	}
}
