package chapa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const minorPerMajor = 100

// FormatMinor renders minor units as a major-unit decimal, e.g. 20000 -> "200"
// and 1550 -> "15.50".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	major, frac := minor/minorPerMajor, minor%minorPerMajor
	if frac == 0 {
		return sign + strconv.FormatInt(major, 10)
	}
	return fmt.Sprintf("%s%d.%02d", sign, major, frac)
}

// ParseMajorToMinor converts a decimal major-unit amount to minor units.
// Digits past the second decimal place are truncated.
func ParseMajorToMinor(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "-"), "+")

	whole, frac, _ := strings.Cut(raw, ".")
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("parse amount %q: not a decimal number", raw)
	}
	if whole == "" {
		whole = "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}

	frac = (frac + "00")[:2]
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}

	total := major*minorPerMajor + minor
	if negative {
		total = -total
	}
	return total, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseAmountMinor accepts the gateway amount either as a JSON string or a
// JSON number.
func ParseAmountMinor(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("amount is missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode amount: %w", err)
		}
		return ParseMajorToMinor(s)
	}
	return ParseMajorToMinor(string(raw))
}

// metaUserID reads meta.tg_id as a string or a number. Anything else is 0.
func metaUserID(raw json.RawMessage) int64 {
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0
	}
	value := bytes.TrimSpace(meta["tg_id"])
	if len(value) == 0 {
		return 0
	}
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return 0
		}
		value = []byte(strings.TrimSpace(s))
	}
	id, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
