package flows

import (
	"strings"

	"github.com/tokenwarden/authcore/storage"
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidEmail reports whether a normalized address has a local part, a domain and no
// whitespace.
func ValidEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && strings.Count(email, "@") == 1
}

// NormalizePhone strips common separators and returns digits with an optional leading
// '+'. ok is false when the result is not 7 to 15 digits.
func NormalizePhone(raw string) (phone string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(raw))
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", false
	}
	return b.String(), true
}

// NormalizeIdentifier maps a login identifier onto the email and phone columns. The
// email form is always set; the phone form only when the input reads as a phone
// number.
func NormalizeIdentifier(raw string) storage.Identifier {
	id := storage.Identifier{Email: NormalizeEmail(raw)}
	if !strings.Contains(raw, "@") {
		if phone, ok := NormalizePhone(raw); ok {
			id.Phone = phone
		}
	}
	return id
}
