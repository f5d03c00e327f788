package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const txRefPrefix = "sub-"

func NewTxRef(userID int64, now time.Time) string {
	return fmt.Sprintf("%s%d-%d", txRefPrefix, userID, now.Unix())
}

// UserIDFromTxRef extracts the payer from a subscription tx ref. Callers use
// it last, after gateway metadata and the recorded attempt.
func UserIDFromTxRef(txRef string) (int64, bool) {
	if !strings.HasPrefix(txRef, txRefPrefix) {
		return 0, false
	}
	parts := strings.Split(strings.TrimPrefix(txRef, txRefPrefix), "-")
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
