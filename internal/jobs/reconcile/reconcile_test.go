package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	paymentsvc "github.com/mikiyas9815-glitch/Telegram-bot/internal/services/payments"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/services/settlement"
)

type listerStub struct {
	payments      []model.Payment
	createdBefore time.Time
	createdAfter  time.Time
	limit         int
}

func (l *listerStub) ListStalePendingPayments(_ context.Context, createdBefore, createdAfter time.Time, limit int) ([]model.Payment, error) {
	l.createdBefore = createdBefore
	l.createdAfter = createdAfter
	l.limit = limit
	return l.payments, nil
}

type handlerStub struct {
	results map[string]error
	seen    []string
}

func (h *handlerStub) HandleCallback(_ context.Context, txRef string) (paymentsvc.CallbackResult, error) {
	h.seen = append(h.seen, txRef)
	if err := h.results[txRef]; err != nil {
		return paymentsvc.CallbackResult{}, err
	}
	return paymentsvc.CallbackResult{TxRef: txRef}, nil
}

type observerStub struct {
	checks int
}

func (o *observerStub) ObserveReconcileCheck() {
	o.checks++
}

func TestRunSettlesPaidAndSkipsUnpaid(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &listerStub{payments: []model.Payment{
		{TxRef: "sub-1-1"},
		{TxRef: "sub-2-1"},
		{TxRef: "sub-3-1"},
		{TxRef: "sub-4-1"},
	}}
	handler := &handlerStub{results: map[string]error{
		"sub-2-1": fmt.Errorf("%w: status %q", settlement.ErrInvalidPaymentEvent, "pending"),
		"sub-3-1": fmt.Errorf("%w: timeout", paymentsvc.ErrVerificationFailed),
		"sub-4-1": errors.New("ledger unavailable"),
	}}
	observer := &observerStub{}

	job := New(lister, handler, 15*time.Minute, 48*time.Hour, 10, nil)
	job.now = func() time.Time { return now }
	job.AttachObserver(observer)

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run reconcile: %v", err)
	}
	if report.Checked != 4 || report.Settled != 1 || report.Skipped != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if observer.checks != 4 {
		t.Fatalf("expected 4 observed checks, got %d", observer.checks)
	}
	if !lister.createdBefore.Equal(now.Add(-15*time.Minute)) || !lister.createdAfter.Equal(now.Add(-48*time.Hour)) || lister.limit != 10 {
		t.Fatalf("unexpected window: before=%s after=%s limit=%d", lister.createdBefore, lister.createdAfter, lister.limit)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	lister := &listerStub{payments: []model.Payment{{TxRef: "sub-1-1"}, {TxRef: "sub-2-1"}}}
	handler := &handlerStub{}
	job := New(lister, handler, 0, 0, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(handler.seen) != 0 {
		t.Fatalf("expected no callbacks after cancel, got %v", handler.seen)
	}
}

func TestRunWithoutDependenciesIsNoop(t *testing.T) {
	job := New(nil, nil, 0, 0, 0, nil)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}
