package botapp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	tginfra "github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/telegram"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
	exportsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/export"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	payoutsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payouts"
	ratesvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/rate"
	userssvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/users"
)

const adminID = 900

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type message struct {
	chatID int64
	text   string
	link   string
}

type messengerStub struct {
	messages []message
}

func (m *messengerStub) Username() string { return "refbot" }

func (m *messengerStub) SendText(_ context.Context, chatID int64, text string) error {
	m.messages = append(m.messages, message{chatID: chatID, text: text})
	return nil
}

func (m *messengerStub) SendLinkButton(_ context.Context, chatID int64, text, _ string, link string) error {
	m.messages = append(m.messages, message{chatID: chatID, text: text, link: link})
	return nil
}

func (m *messengerStub) last(t *testing.T) message {
	t.Helper()
	if len(m.messages) == 0 {
		t.Fatalf("expected a reply")
	}
	return m.messages[len(m.messages)-1]
}

type checkoutStub struct {
	err error
}

func (c checkoutStub) StartCheckout(_ context.Context, in paymentsvc.CheckoutInput) (paymentsvc.Checkout, error) {
	if c.err != nil {
		return paymentsvc.Checkout{}, c.err
	}
	return paymentsvc.Checkout{
		TxRef:       "sub-1-1",
		CheckoutURL: "https://checkout.chapa.co/sub-1-1",
		AmountMinor: 20000,
	}, nil
}

type exporterStub struct{}

func (exporterStub) PendingPayouts(context.Context) (exportsvc.Result, error) {
	return exportsvc.Result{Rows: 1, URL: "https://s3.example.com/export.csv"}, nil
}

type fixture struct {
	commands  *Commands
	messenger *messengerStub
	store     *boltstore.Store
}

func newFixture(t *testing.T, checkout CheckoutService) fixture {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	messenger := &messengerStub{}
	commands := NewCommands(CommandDeps{
		Messenger: messenger,
		Users:     userssvc.NewService(store),
		Checkout:  checkout,
		Payouts:   payoutsvc.NewService(store, payoutsvc.Config{MinWithdrawMinor: 15000}),
		Exporter:  exporterStub{},
		Stats:     store,
		Billing: Billing{
			Currency:         "ETB",
			PlanPriceMinor:   20000,
			BonusMinor:       1500,
			MinWithdrawMinor: 15000,
			SubscriptionDays: 30,
		},
		AdminID: adminID,
	})
	return fixture{commands: commands, messenger: messenger, store: store}
}

func (f fixture) send(t *testing.T, userID int64, command, args string) message {
	t.Helper()
	err := f.commands.Handle(context.Background(), tginfra.CommandUpdate{
		ChatID:  userID,
		UserID:  userID,
		Command: command,
		Args:    args,
	})
	if err != nil {
		t.Fatalf("handle /%s: %v", command, err)
	}
	return f.messenger.last(t)
}

// fund gives userID a balance through ten referred payments.
func (f fixture) fund(t *testing.T, userID int64) {
	t.Helper()
	ctx := context.Background()
	user, err := f.store.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	for i := int64(1); i <= 10; i++ {
		payer := userID*100 + i
		if _, err := f.store.EnsureUser(ctx, payer, testNow); err != nil {
			t.Fatalf("ensure payer: %v", err)
		}
		if _, err := f.store.SetReferredBy(ctx, payer, user.ReferralCode); err != nil {
			t.Fatalf("set referred by: %v", err)
		}
		if _, err := f.store.SettlePayment(ctx, model.SettleInput{
			TxRef:       fmt.Sprintf("sub-%d-%d", payer, i),
			UserID:      payer,
			AmountMinor: 20000,
			PlanDays:    30,
			BonusMinor:  1500,
		}, testNow); err != nil {
			t.Fatalf("settle payment: %v", err)
		}
	}
}

func TestStartAndReferral(t *testing.T) {
	f := newFixture(t, checkoutStub{})

	welcome := f.send(t, 1, "start", "")
	if !strings.Contains(welcome.text, "200 ETB/30 days") || !strings.Contains(welcome.text, "15 ETB") {
		t.Fatalf("unexpected welcome: %q", welcome.text)
	}

	link := f.send(t, 1, "referral", "")
	user, err := f.store.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !strings.Contains(link.text, "https://t.me/refbot?start="+user.ReferralCode) {
		t.Fatalf("unexpected referral reply: %q", link.text)
	}

	referred := f.send(t, 2, "start", user.ReferralCode)
	if !strings.Contains(referred.text, "referral link") {
		t.Fatalf("expected referral acknowledgement, got %q", referred.text)
	}
	friend, err := f.store.GetUser(context.Background(), 2)
	if err != nil {
		t.Fatalf("get friend: %v", err)
	}
	if friend.ReferredBy != user.ReferralCode {
		t.Fatalf("expected friend referred by %s, got %q", user.ReferralCode, friend.ReferredBy)
	}
}

func TestSubscribeReplies(t *testing.T) {
	f := newFixture(t, checkoutStub{})
	reply := f.send(t, 1, "subscribe", "")
	if reply.link != "https://checkout.chapa.co/sub-1-1" || !strings.Contains(reply.text, "200 ETB") {
		t.Fatalf("unexpected checkout reply: %+v", reply)
	}

	limited := newFixture(t, checkoutStub{err: &ratesvc.LimitedError{Action: ratesvc.ActionCheckout, RetryAfter: 30}})
	if reply := limited.send(t, 1, "subscribe", ""); !strings.Contains(reply.text, "30 seconds") {
		t.Fatalf("unexpected limited reply: %q", reply.text)
	}

	failed := newFixture(t, checkoutStub{err: errors.Join(paymentsvc.ErrCheckoutFailed, errors.New("502"))})
	if reply := failed.send(t, 1, "subscribe", ""); !strings.Contains(reply.text, "Payment init failed") {
		t.Fatalf("unexpected failure reply: %q", reply.text)
	}

	broken := newFixture(t, checkoutStub{err: errors.New("ledger down")})
	if reply := broken.send(t, 1, "subscribe", ""); reply.text != genericFailureReply {
		t.Fatalf("unexpected generic reply: %q", reply.text)
	}
}

func TestWithdrawFlow(t *testing.T) {
	f := newFixture(t, checkoutStub{})
	f.send(t, 5, "start", "")

	if reply := f.send(t, 5, "withdraw", ""); !strings.Contains(reply.text, "below 150 ETB") {
		t.Fatalf("unexpected low balance reply: %q", reply.text)
	}

	f.fund(t, 5)

	if reply := f.send(t, 5, "withdraw", ""); !strings.Contains(reply.text, "/phone 09XXXXXXXX") {
		t.Fatalf("unexpected phone prompt: %q", reply.text)
	}
	if reply := f.send(t, 5, "requestwithdraw", "150"); !strings.Contains(reply.text, "Set your payout phone first") {
		t.Fatalf("unexpected no-phone reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "phone", "12345"); !strings.Contains(reply.text, "Invalid phone") {
		t.Fatalf("unexpected invalid phone reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "phone", "+251911223344"); !strings.Contains(reply.text, "0911223344") {
		t.Fatalf("unexpected phone reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "requestwithdraw", "abc"); reply.text != "Amount must be a number." {
		t.Fatalf("unexpected parse reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "requestwithdraw", "100"); !strings.Contains(reply.text, "Minimum is 150 ETB") {
		t.Fatalf("unexpected minimum reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "requestwithdraw", "151"); reply.text != "Insufficient balance." {
		t.Fatalf("unexpected insufficient reply: %q", reply.text)
	}
	if reply := f.send(t, 5, "requestwithdraw", "150"); !strings.Contains(reply.text, "Payout request created (ID: 1)") {
		t.Fatalf("unexpected created reply: %q", reply.text)
	}

	balance := f.send(t, 5, "balance", "")
	if !strings.Contains(balance.text, "0 ETB") || !strings.Contains(balance.text, "0911223344") {
		t.Fatalf("unexpected balance reply: %q", balance.text)
	}
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t, checkoutStub{})
	f.send(t, 5, "start", "")
	f.fund(t, 5)
	f.send(t, 5, "phone", "0911223344")
	f.send(t, 5, "requestwithdraw", "150")

	before := len(f.messenger.messages)
	if err := f.commands.Handle(context.Background(), tginfra.CommandUpdate{ChatID: 5, UserID: 5, Command: "admin", Args: "pending"}); err != nil {
		t.Fatalf("non-admin: %v", err)
	}
	if len(f.messenger.messages) != before {
		t.Fatalf("expected non-admin to be ignored")
	}

	if reply := f.send(t, adminID, "admin", ""); reply.text != adminHelpReply {
		t.Fatalf("unexpected help: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "pending"); !strings.Contains(reply.text, "#1 user:5 amount:150 ETB phone:0911223344") {
		t.Fatalf("unexpected pending reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "payout x paid"); reply.text != "Invalid payout id." {
		t.Fatalf("unexpected invalid id reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "payout 1 paid"); reply.text != "Payout #1 marked as PAID." {
		t.Fatalf("unexpected paid reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "payout 1 paid"); reply.text != "Payout #1 was already PAID." {
		t.Fatalf("unexpected repeat reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "payout 1 reject"); reply.text != "Payout #1 is already closed." {
		t.Fatalf("unexpected reject-after-paid reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "payout 9 paid"); reply.text != "Payout #9 not found." {
		t.Fatalf("unexpected not found reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "pending"); reply.text != "No pending payouts." {
		t.Fatalf("unexpected empty pending reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "export"); !strings.Contains(reply.text, "https://s3.example.com/export.csv") {
		t.Fatalf("unexpected export reply: %q", reply.text)
	}
	if reply := f.send(t, adminID, "admin", "stats"); !strings.Contains(reply.text, "Referral credits: 10 (150 ETB)") {
		t.Fatalf("unexpected stats reply: %q", reply.text)
	}
}
