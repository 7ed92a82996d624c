package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"serotonyl.ru/filegate-bot/internal/common"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `user:`, escapeLike("user:"))
	assert.Equal(t, `a\_b\%c\\`, escapeLike(`a_b%c\`))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, true},
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"syntax error", &pgconn.PgError{Code: pgerrcode.SyntaxError}, false},
		{"context canceled", context.Canceled, false},
		{"network", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("get user:1", tt.err)
			assert.Equal(t, tt.retryable, common.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, isUniqueViolation(errors.New("other")))
}
