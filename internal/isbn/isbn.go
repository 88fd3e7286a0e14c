// Package isbn validates and normalizes ISBN-10 and ISBN-13 identifiers.
package isbn

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned for input that is not a checksummed ISBN.
var ErrInvalid = errors.New("invalid isbn")

// Normalize strips separators, validates the checksum and returns the
// ISBN-13 form of raw.
func Normalize(raw string) (string, error) {
	clean := Clean(raw)
	switch len(clean) {
	case 10:
		if !valid10(clean) {
			return "", fmt.Errorf("%w: %q checksum mismatch", ErrInvalid, raw)
		}
		return To13(clean), nil
	case 13:
		if !valid13(clean) {
			return "", fmt.Errorf("%w: %q checksum mismatch", ErrInvalid, raw)
		}
		return clean, nil
	default:
		return "", fmt.Errorf("%w: %q has %d significant characters", ErrInvalid, raw, len(clean))
	}
}

// Valid reports whether raw normalizes cleanly.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// Clean removes everything except digits and a trailing X.
func Clean(raw string) string {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	raw = strings.TrimPrefix(raw, "ISBN")
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'X' && i == len(raw)-1:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// To13 converts a cleaned ISBN-10 into its 978-prefixed ISBN-13.
func To13(isbn10 string) string {
	body := "978" + isbn10[:9]
	return body + string(rune('0'+check13(body)))
}

func valid10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var d int
		switch {
		case s[i] == 'X' && i == 9:
			d = 10
		case s[i] >= '0' && s[i] <= '9':
			d = int(s[i] - '0')
		default:
			return false
		}
		sum += d * (10 - i)
	}
	return sum%11 == 0
}

func valid13(s string) bool {
	for i := 0; i < 13; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return check13(s[:12]) == int(s[12]-'0')
}

func check13(body string) int {
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(body[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}
