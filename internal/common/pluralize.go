// Package common — pluralize.go formats coin amounts for chat messages.
package common

import "fmt"

// PluralizeCoins returns "coin" for ±1 and "coins" otherwise.
func PluralizeCoins(n int64) string {
	if n == 1 || n == -1 {
		return "coin"
	}
	return "coins"
}

// FormatBalance renders an amount with the currency name.
// An empty currency falls back to the plural of "coin".
//
//	FormatBalance(1, "")     → "1 coin"
//	FormatBalance(1500, "🪙") → "1,500 🪙"
func FormatBalance(amount int64, currency string) string {
	if currency == "" {
		currency = PluralizeCoins(amount)
	}
	return fmt.Sprintf("%s %s", FormatNumber(amount), currency)
}

// FormatSignedAmount renders "+100 coins" or "-50 coins".
func FormatSignedAmount(amount int64, currency string) string {
	if amount >= 0 {
		return "+" + FormatBalance(amount, currency)
	}
	return FormatBalance(amount, currency)
}

// FormatNumber adds thousands separators: FormatNumber(2350) → "2,350".
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatNumber(n/1000), n%1000)
}
