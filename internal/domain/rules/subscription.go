package rules

import "time"

const Day = 24 * time.Hour

// ExtendSubscription stacks planDays on top of an active subscription and
// starts from now otherwise.
func ExtendSubscription(current, now time.Time, planDays int) time.Time {
	base := now
	if !current.IsZero() && current.After(now) {
		base = current
	}
	return base.Add(time.Duration(planDays) * Day)
}

// DaysLeft rounds down, matching how the balance view reports it.
func DaysLeft(until, now time.Time) int {
	if until.IsZero() || !until.After(now) {
		return 0
	}
	return int(until.Sub(now) / Day)
}
