package validate

import (
	"regexp"
	"strings"
)

var (
	localPhone         = regexp.MustCompile(`^0[79]\d{8}$`)
	internationalPhone = regexp.MustCompile(`^\+?251([79]\d{8})$`)
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// NormalizePhone accepts an Ethiopian mobile number in local (09XXXXXXXX,
// 07XXXXXXXX) or international (+2519XXXXXXXX) form and returns the local
// form. Spaces and dashes are ignored.
func NormalizePhone(raw string) (string, bool) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if localPhone.MatchString(cleaned) {
		return cleaned, true
	}
	if m := internationalPhone.FindStringSubmatch(cleaned); m != nil {
		return "0" + m[1], true
	}
	return "", false
}
