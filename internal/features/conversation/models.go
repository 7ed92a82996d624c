// Package conversation keeps a single "awaiting input" slot per user so
// that multi-message flows survive between independent updates.
//
// The slot is routing state only. Money and quota rules are enforced by the
// services the step handlers call, never by the slot itself.
package conversation

import (
	"time"
)

// Step is what the bot waits for from the user.
type Step uint8

const (
	StepNone Step = iota
	StepGiftCode
	StepContentToken
	StepSpendConfirm
	StepTicketText
	StepPurchaseAmount
	StepPurchaseReceipt
	StepAdminUploadFile
	StepAdminUploadPrice
	StepAdminUploadLimit
	StepAdminGiftAmount
	StepAdminCreditUser
	StepAdminCreditAmount
	StepAdminDebitUser
	StepAdminDebitAmount
	StepAdminCoinPrice
	StepAdminSetPrice
	StepAdminSetQuota
	StepAdminReplacePayload
	StepAdminPassword
	stepCount
)

var stepNames = [stepCount]string{
	StepNone:                "none",
	StepGiftCode:            "gift_code",
	StepContentToken:        "content_token",
	StepSpendConfirm:        "spend_confirm",
	StepTicketText:          "ticket_text",
	StepPurchaseAmount:      "purchase_amount",
	StepPurchaseReceipt:     "purchase_receipt",
	StepAdminUploadFile:     "admin_upload_file",
	StepAdminUploadPrice:    "admin_upload_price",
	StepAdminUploadLimit:    "admin_upload_limit",
	StepAdminGiftAmount:     "admin_gift_amount",
	StepAdminCreditUser:     "admin_credit_user",
	StepAdminCreditAmount:   "admin_credit_amount",
	StepAdminDebitUser:      "admin_debit_user",
	StepAdminDebitAmount:    "admin_debit_amount",
	StepAdminCoinPrice:      "admin_coin_price",
	StepAdminSetPrice:       "admin_set_price",
	StepAdminSetQuota:       "admin_set_quota",
	StepAdminReplacePayload: "admin_replace_payload",
	StepAdminPassword:       "admin_password",
}

// AllSteps returns every step except StepNone.
func AllSteps() []Step {
	out := make([]Step, 0, stepCount-1)
	for s := StepNone + 1; s < stepCount; s++ {
		out = append(out, s)
	}
	return out
}

func (s Step) String() string {
	if s >= stepCount {
		return stepNames[StepNone]
	}
	return stepNames[s]
}

// ParseStep maps a stored tag back to a Step. Unknown tags are StepNone.
func ParseStep(tag string) Step {
	for i, name := range stepNames {
		if name == tag {
			return Step(i)
		}
	}
	return StepNone
}

// MarshalText stores the step by name so renumbering never corrupts
// persisted state.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Step) UnmarshalText(b []byte) error {
	*s = ParseStep(string(b))
	return nil
}

// AdminOnly reports whether the step belongs to an admin panel flow.
// Item editing steps are excluded: owners use them too and the content
// service checks ownership itself.
func (s Step) AdminOnly() bool {
	switch s {
	case StepAdminUploadFile, StepAdminUploadPrice, StepAdminUploadLimit,
		StepAdminGiftAmount, StepAdminCreditUser, StepAdminCreditAmount,
		StepAdminDebitUser, StepAdminDebitAmount, StepAdminCoinPrice:
		return true
	}
	return false
}

// State is stored under conversation:{userId}.
type State struct {
	Awaiting    Step      `json:"awaiting"`
	Payload     string    `json:"payload,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Active reports whether the user is in the middle of a flow.
func (s State) Active() bool { return s.Awaiting != StepNone }

// Stale reports whether the state is older than ttl at now.
func (s State) Stale(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastUpdated) > ttl
}
