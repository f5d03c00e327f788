package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const minuteWindow = time.Minute

type Action string

const (
	ActionCheckout Action = "checkout"
	ActionWithdraw Action = "withdraw"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Limiter caps how often one user may start an action per minute. A zero
// limit disables the cap for that action.
type Limiter struct {
	store  WindowStore
	limits map[Action]int
}

func NewLimiter(store WindowStore, checkoutPerMinute, withdrawPerMinute int) *Limiter {
	if checkoutPerMinute < 0 {
		checkoutPerMinute = 0
	}
	if withdrawPerMinute < 0 {
		withdrawPerMinute = 0
	}

	return &Limiter{
		store: store,
		limits: map[Action]int{
			ActionCheckout: checkoutPerMinute,
			ActionWithdraw: withdrawPerMinute,
		},
	}
}

// Allow records one attempt and reports whether it fits in the window. When
// it does not, the first value is the number of seconds until it would.
func (l *Limiter) Allow(ctx context.Context, action Action, userID int64) (int64, bool, error) {
	if userID <= 0 {
		return 0, false, fmt.Errorf("invalid user id")
	}
	limit := l.limits[action]
	if limit <= 0 {
		return 0, true, nil
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(action, userID), minuteWindow)
	if err != nil {
		return 0, false, err
	}
	if count > int64(limit) {
		return ceilSeconds(ttl), false, nil
	}
	return 0, true, nil
}

func (l *Limiter) RetryAfter(ctx context.Context, action Action, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	limit := l.limits[action]
	if limit <= 0 {
		return 0, nil
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	count, ttl, err := l.store.WindowState(ctx, minuteKey(action, userID))
	if err != nil {
		return 0, err
	}
	if count >= int64(limit) {
		return ceilSeconds(ttl), nil
	}
	return 0, nil
}

func minuteKey(action Action, userID int64) string {
	return "rate:" + string(action) + ":min:" + strconv.FormatInt(userID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}

// ErrLimited is returned by callers that reject an action for exceeding its
// window.
var ErrLimited = errors.New("rate limited")

type LimitedError struct {
	Action     Action
	RetryAfter int64
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %ds", e.Action, e.RetryAfter)
}

func (e *LimitedError) Unwrap() error {
	return ErrLimited
}
