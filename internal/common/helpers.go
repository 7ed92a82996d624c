// Package common contains helpers shared across the bot: the error taxonomy,
// amount parsing, number formatting and token generation.
package common

import (
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseAmount extracts a positive integer from free user input.
// Everything except digits is ignored, so "1 000 coins" gives 1000.
//
// Examples:
//
//	ParseAmount("10")        → 10, nil
//	ParseAmount("  25 🪙 ")   → 25, nil
//	ParseAmount("zero")      → 0, ErrInvalidAmount
//	ParseAmount("0")         → 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	n, err := parseDigits(s)
	if err != nil || n <= 0 {
		return 0, ErrInvalidAmount
	}
	return n, nil
}

// ParseNonNegative is ParseAmount that also accepts zero (prices, limits).
func ParseNonNegative(s string) (int64, error) {
	n, err := parseDigits(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return n, nil
}

func parseDigits(s string) (int64, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, ErrInvalidAmount
	}
	return strconv.ParseInt(b.String(), 10, 64)
}

// ParseUserID parses a Telegram user id sent as plain text.
func ParseUserID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// FormatDateTime formats t as "02.01.2006 15:04" in loc (UTC when nil).
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// Escape prepares user-supplied text for HTML parse mode.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Truncate cuts s to n runes and appends "..." when something was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
