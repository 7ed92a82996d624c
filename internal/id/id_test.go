package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndValid(t *testing.T) {
	a := New(PrefixPurchase)
	b := New(PrefixPurchase)

	assert.True(t, strings.HasPrefix(a, "pur_"))
	assert.NotEqual(t, a, b)
	assert.True(t, Valid(a, PrefixPurchase))
	assert.False(t, Valid(a, PrefixTicket))
	assert.False(t, Valid("pur_not-an-id", PrefixPurchase))
	assert.False(t, Valid("", PrefixPurchase))
}
