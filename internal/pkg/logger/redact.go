package logger

import (
	"regexp"
	"strings"
)

// The contact record is this platform's PII surface: email addresses and
// first/last names. Tenant, segment, and contact identifiers are opaque
// UUIDs and pass through unredacted.

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactField masks PII in one log field. Email-keyed fields are masked
// outright, name-keyed fields keep only their first rune, and every other
// value is swept for embedded addresses (store errors can echo literals).
func redactField(key, val string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "email"):
		return RedactEmail(val)
	case strings.HasSuffix(k, "first_name"), strings.HasSuffix(k, "last_name"):
		return redactName(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks the local part of an address, keeping at most its first
// two characters and the full domain: "john.doe@example.com" becomes
// "jo***@example.com". Values that do not look like an address are masked
// entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsRune(domain, '@') {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

func redactName(name string) string {
	if name == "" {
		return ""
	}
	r := []rune(name)
	return string(r[0]) + "***"
}
