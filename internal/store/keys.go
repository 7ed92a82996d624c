package store

import (
	"fmt"
	"strings"
)

// Key prefixes of the persisted layout.
const (
	PrefixUser           = "user:"
	PrefixContent        = "content:"
	PrefixRecipient      = "contentrecipient:"
	PrefixPurchase       = "purchase:"
	PrefixPurchaseClaim  = "purchasedecision:"
	PrefixGift           = "gift:"
	PrefixGiftRedemption = "giftredemption:"
	PrefixConversation   = "conversation:"
	PrefixPendingSpend   = "pendingspend:"
	PrefixTicket         = "ticket:"
	PrefixDownloadLog    = "dl:"
	PrefixAdminSession   = "adminsession:"
	PrefixAdminAttempts  = "adminattempts:"

	SettingsKey = "settings:service"
	StatsKey    = "stats:base"
)

func UserKey(id int64) string              { return fmt.Sprintf("%s%d", PrefixUser, id) }
func ContentKey(token string) string       { return PrefixContent + token }
func PurchaseKey(id string) string         { return PrefixPurchase + id }
func GiftKey(code string) string           { return PrefixGift + code }
func ConversationKey(userID int64) string  { return fmt.Sprintf("%s%d", PrefixConversation, userID) }
func TicketKey(id string) string           { return PrefixTicket + id }
func AdminSessionKey(userID int64) string  { return fmt.Sprintf("%s%d", PrefixAdminSession, userID) }
func AdminAttemptsKey(userID int64) string { return fmt.Sprintf("%s%d", PrefixAdminAttempts, userID) }

// GiftRedemptionKey is the per-user idempotency marker of a gift code.
func GiftRedemptionKey(code string, userID int64) string {
	return fmt.Sprintf("%s%s:%d", PrefixGiftRedemption, code, userID)
}

// PurchaseClaimKey is written once by whichever admin decision wins a request.
func PurchaseClaimKey(id string) string { return PrefixPurchaseClaim + id }

// RecipientKey marks that userID already received token.
func RecipientKey(token string, userID int64) string {
	return fmt.Sprintf("%s%s:%d", PrefixRecipient, token, userID)
}

// PendingSpendKey holds one outstanding price confirmation per user and token.
func PendingSpendKey(userID int64, token string) string {
	return fmt.Sprintf("%s%d:%s", PrefixPendingSpend, userID, token)
}

// DownloadLogKey identifies one delivery of token at the given unix-nano time.
func DownloadLogKey(token string, unixNano int64) string {
	return fmt.Sprintf("%s%s:%d", PrefixDownloadLog, token, unixNano)
}

// TrimPrefix returns the id part of a key.
func TrimPrefix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
