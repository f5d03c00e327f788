package export

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
)

type listerStub struct {
	items []model.PayoutRequest
	err   error
}

func (l listerStub) ListPendingPayouts(context.Context, int) ([]model.PayoutRequest, error) {
	return l.items, l.err
}

type storageStub struct {
	key         string
	body        string
	contentType string
	ttl         time.Duration
}

func (s *storageStub) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(raw)) != size {
		return errors.New("size mismatch")
	}
	s.key = key
	s.body = string(raw)
	s.contentType = contentType
	return nil
}

func (s *storageStub) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.ttl = ttl
	return "https://s3.example.com/" + key + "?sig=1", nil
}

func TestPendingPayoutsUploadsCSV(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	lister := listerStub{items: []model.PayoutRequest{
		{ID: 1, UserID: 2, AmountMinor: 15000, Phone: "0911223344", CreatedAt: created},
		{ID: 2, UserID: 3, AmountMinor: 15050, Phone: "0711223344", CreatedAt: created},
	}}
	storage := &storageStub{}

	svc := NewService(lister, storage, time.Hour)
	svc.now = func() time.Time { return created }
	svc.newID = func() string { return "fixed" }

	result, err := svc.PendingPayouts(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Key != "exports/payouts/20240301T093000_fixed.csv" || result.Rows != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(result.URL, "https://s3.example.com/exports/payouts/") {
		t.Fatalf("unexpected url %q", result.URL)
	}
	if storage.contentType != csvContentType || storage.ttl != time.Hour {
		t.Fatalf("unexpected upload options: %+v", storage)
	}

	records, err := csv.NewReader(strings.NewReader(storage.body)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	want := []string{"2", "3", "15050", "150.50", "0711223344", "2024-03-01T09:30:00Z"}
	for i := range want {
		if records[2][i] != want[i] {
			t.Fatalf("column %s: expected %q, got %q", header[i], want[i], records[2][i])
		}
	}
}

func TestPendingPayoutsEmptyQueue(t *testing.T) {
	storage := &storageStub{}
	svc := NewService(listerStub{}, storage, 0)

	if _, err := svc.PendingPayouts(context.Background()); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
	if storage.key != "" {
		t.Fatalf("expected no upload, got key %q", storage.key)
	}
}

func TestPendingPayoutsWithoutStorage(t *testing.T) {
	svc := NewService(listerStub{}, nil, 0)
	if _, err := svc.PendingPayouts(context.Background()); err == nil {
		t.Fatalf("expected error without storage")
	}
}
