package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

func TestDocumentRecord(t *testing.T) {
	now := time.Now().UTC()
	rec := document{Key: "gift:ABC", Value: `{"code":"ABC"}`, Version: 4, UpdatedAt: now}.record()
	assert.Equal(t, "gift:ABC", rec.Key)
	assert.Equal(t, store.Version(4), rec.Version)
	assert.Equal(t, `{"code":"ABC"}`, string(rec.Value))
	assert.Equal(t, now, rec.UpdatedAt)
}

func TestClassify(t *testing.T) {
	assert.False(t, common.IsRetryable(classify("get", context.DeadlineExceeded)))
	assert.True(t, common.IsRetryable(classify("get", errors.New("server selection error"))))
}
