package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/domain/model"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/chapa"
)

var ErrNothingToExport = errors.New("no pending payouts to export")

const (
	csvContentType = "text/csv"
	defaultLinkTTL = 24 * time.Hour
	exportLimit    = 200
)

var header = []string{"id", "user_id", "amount_minor", "amount", "phone", "created_at"}

type PayoutLister interface {
	ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error)
}

type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Result struct {
	Key  string
	URL  string
	Rows int
}

type Service struct {
	payouts PayoutLister
	storage Storage
	linkTTL time.Duration
	now     func() time.Time
	newID   func() string
}

func NewService(payouts PayoutLister, storage Storage, linkTTL time.Duration) *Service {
	if linkTTL <= 0 {
		linkTTL = defaultLinkTTL
	}
	return &Service{
		payouts: payouts,
		storage: storage,
		linkTTL: linkTTL,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// PendingPayouts uploads the pending payout queue as CSV and returns a
// presigned download link for the operator paying them out.
func (s *Service) PendingPayouts(ctx context.Context) (Result, error) {
	if s.storage == nil {
		return Result{}, fmt.Errorf("export storage is not configured")
	}

	items, err := s.payouts.ListPendingPayouts(ctx, exportLimit)
	if err != nil {
		return Result{}, fmt.Errorf("list pending payouts: %w", err)
	}
	if len(items) == 0 {
		return Result{}, ErrNothingToExport
	}

	body, err := encodeCSV(items)
	if err != nil {
		return Result{}, err
	}

	key := fmt.Sprintf("exports/payouts/%s_%s.csv", s.now().UTC().Format("20060102T150405"), s.newID())
	if err := s.storage.Put(ctx, key, bytes.NewReader(body), int64(len(body)), csvContentType); err != nil {
		return Result{}, fmt.Errorf("upload payout export: %w", err)
	}

	link, err := s.storage.PresignGet(ctx, key, s.linkTTL)
	if err != nil {
		return Result{}, fmt.Errorf("presign payout export: %w", err)
	}
	return Result{Key: key, URL: link, Rows: len(items)}, nil
}

func encodeCSV(items []model.PayoutRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range items {
		row := []string{
			strconv.FormatInt(p.ID, 10),
			strconv.FormatInt(p.UserID, 10),
			strconv.FormatInt(p.AmountMinor, 10),
			chapa.FormatMinor(p.AmountMinor),
			p.Phone,
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
