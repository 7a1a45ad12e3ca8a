package logger

import (
	"context"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisArgsHidesPayload(t *testing.T) {
	ctx := context.Background()
	payload := `{"event":"message.insert","data":{"content":"secret plans"}}`

	got := redisArgs(redis.NewIntCmd(ctx, "publish", "parley:conv:c1", payload))
	assert.Equal(t, "[publish parley:conv:c1 <60 bytes>]", got)
	assert.NotContains(t, got, "secret")

	assert.Equal(t, "[PROTECTED]", redisArgs(redis.NewStatusCmd(ctx, "auth", "pw")))

	long := redisArgs(redis.NewIntCmd(ctx, "hset", "k", strings.Repeat("x", 600)))
	assert.True(t, strings.HasSuffix(long, "...[truncated]"))
}

func TestGormParamsFilterDropsValues(t *testing.T) {
	sql, vars := NewGormLogger().ParamsFilter(context.Background(), "UPDATE t SET c = ?", "hello")
	assert.Equal(t, "UPDATE t SET c = ?", sql)
	assert.Nil(t, vars)
}
