package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10", 10, false},
		{"  25 🪙 ", 25, false},
		{"1 000", 1000, false},
		{"0", 0, true},
		{"", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	n, err := ParseNonNegative("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestParseUserID(t *testing.T) {
	id, ok := ParseUserID(" 12345 ")
	assert.True(t, ok)
	assert.Equal(t, int64(12345), id)

	for _, bad := range []string{"", "12a", "-5", "0"} {
		_, ok := ParseUserID(bad)
		assert.False(t, ok, bad)
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1 coin", FormatBalance(1, ""))
	assert.Equal(t, "2 coins", FormatBalance(2, ""))
	assert.Equal(t, "1,500 🪙", FormatBalance(1500, "🪙"))
	assert.Equal(t, "+10 coins", FormatSignedAmount(10, ""))
	assert.Equal(t, "-1,000,000", FormatNumber(-1000000))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "&lt;b&gt;", Escape("<b>"))

	ts := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	assert.Equal(t, "02.01.2026 03:04", FormatDateTime(ts, nil))
}

func TestNewToken(t *testing.T) {
	tok, err := NewToken(ContentTokenSize)
	require.NoError(t, err)
	assert.Len(t, tok, ContentTokenSize)
	for _, r := range tok {
		assert.True(t, strings.ContainsRune(TokenAlphabet, r), string(r))
	}

	code, err := NewGiftCode()
	require.NoError(t, err)
	assert.Len(t, code, GiftCodeSize)
	assert.Equal(t, strings.ToUpper(code), code)
}

func TestErrorClassification(t *testing.T) {
	unavailable := Unavailable("get user:1", errors.New("dial tcp: refused"))
	assert.True(t, IsRetryable(unavailable))
	assert.False(t, IsRejection(unavailable))

	wrapped := fmt.Errorf("debit: %w", ErrInsufficientFunds)
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsRejection(wrapped))
	assert.Equal(t, "❌ Not enough coins on your balance.", UserMessage(wrapped))

	assert.False(t, IsRejection(errors.New("decode failed")))
	assert.Contains(t, UserMessage(errors.New("boom")), "Something went wrong")
}
