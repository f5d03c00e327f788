package rules

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	referralSuffixLen    = 3
	referralPrefixDigits = 3
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	MaxReferralCodeTries = 8
)

// NewReferralCode returns the last three digits of the user ID followed by
// three random upper-case alphanumerics, e.g. "123ABC".
func NewReferralCode(userID int64) (string, error) {
	id := strconv.FormatInt(userID, 10)
	if len(id) > referralPrefixDigits {
		id = id[len(id)-referralPrefixDigits:]
	}

	var b strings.Builder
	b.WriteString(id)
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := 0; i < referralSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func NormalizeReferralCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
