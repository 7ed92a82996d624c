// Package common — errors.go defines the error taxonomy shared by every
// feature of the bot. Handlers use these sentinels to tell business rejections
// apart from infrastructure failures and to pick the text shown to the user.
package common

import (
	"errors"
	"fmt"
)

// Ledger errors (balances, transfers)
var (
	// ErrInvalidAmount — amount is zero or negative
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds — balance is lower than the requested debit
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountFrozen — balance mutations are disabled for the account
	ErrAccountFrozen = errors.New("account is frozen")
	// ErrSelfTransfer — sender and recipient are the same user
	ErrSelfTransfer = errors.New("cannot transfer to yourself")
)

// Entity errors
var (
	// ErrNotFound — entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden — caller is neither the owner nor an admin
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState — state machine transition is not allowed
	ErrInvalidState = errors.New("invalid state")
	// ErrPayloadRequired — a non-text item or a receipt came without payload
	ErrPayloadRequired = errors.New("payload required")
)

// Content errors
var (
	// ErrItemDisabled — item exists but is switched off
	ErrItemDisabled = errors.New("item is disabled")
	// ErrQuotaExceeded — download limit or code usage cap reached
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Gift code errors
var (
	// ErrCodeNotFound — gift code does not exist
	ErrCodeNotFound = errors.New("gift code not found")
	// ErrCodeDisabled — gift code was switched off by an admin
	ErrCodeDisabled = errors.New("gift code is disabled")
	// ErrAlreadyRedeemed — the user already used this gift code
	ErrAlreadyRedeemed = errors.New("gift code already redeemed")
)

// Admin errors
var (
	// ErrNotAdmin — user is not in ADMIN_IDS
	ErrNotAdmin = errors.New("admin rights required")
	// ErrWrongPassword — argon2id verification failed
	ErrWrongPassword = errors.New("wrong password")
	// ErrTooManyAttempts — login locked after repeated failures
	ErrTooManyAttempts = errors.New("too many attempts, try again in an hour")
	// ErrSessionExpired — admin session is missing or expired
	ErrSessionExpired = errors.New("admin session expired, log in again")
)

// Infrastructure errors
var (
	// ErrStoreUnavailable — transient failure of the entity store; the only retryable class
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a backend failure so that it matches ErrStoreUnavailable
// while keeping the original cause in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsRetryable reports whether the operation may be retried as is.
// Business rejections never are.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsRejection reports whether err is a business rule rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	if err == nil || IsRetryable(err) {
		return false
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return false
}

// userMessages maps each sentinel to the text shown in chat.
var userMessages = []struct {
	err  error
	text string
}{
	{ErrInvalidAmount, "❌ Invalid amount. Send a positive number."},
	{ErrInsufficientFunds, "❌ Not enough coins on your balance."},
	{ErrAccountFrozen, "🧊 Your account is frozen. Contact support."},
	{ErrSelfTransfer, "❌ You cannot send coins to yourself."},
	{ErrNotFound, "🔍 Nothing found."},
	{ErrForbidden, "⛔ You are not allowed to do that."},
	{ErrInvalidState, "⚠️ This request can no longer be changed."},
	{ErrPayloadRequired, "📎 Please attach a file or a photo."},
	{ErrItemDisabled, "🚫 This item is disabled."},
	{ErrQuotaExceeded, "📦 The download limit for this item has been reached."},
	{ErrCodeNotFound, "❌ Gift code not found."},
	{ErrCodeDisabled, "🚫 This gift code is disabled."},
	{ErrAlreadyRedeemed, "⚠️ You have already used this gift code."},
	{ErrNotAdmin, "⛔ Admin rights required."},
	{ErrWrongPassword, "❌ Wrong password."},
	{ErrTooManyAttempts, "⏳ Too many attempts, try again in an hour."},
	{ErrSessionExpired, "🔐 Session expired. Log in with /login <password>."},
	{ErrStoreUnavailable, "⏳ Service is temporarily unavailable, please try again."},
}

// UserMessage returns chat text for err. Unknown errors get a generic reply.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.text
		}
	}
	return "❌ Something went wrong, please try again later."
}
