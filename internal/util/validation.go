package util

import (
	"regexp"
	"strings"
)

var (
	uuidRegex    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	totpRegex    = regexp.MustCompile(`^[0-9]{6}$`)
	codeStripper = strings.NewReplacer(" ", "", "-", "")
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// NormalizeEmail lowercases and trims an address for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeTOTPCode strips the separators authenticator apps display and
// reports whether the rest is exactly six digits.
func NormalizeTOTPCode(code string) (string, bool) {
	code = codeStripper.Replace(strings.TrimSpace(code))
	return code, totpRegex.MatchString(code)
}
