// Package redistest provides a Redis client for integration tests.
package redistest

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	redisstore "github.com/kart-io/smsforward/pkg/storage/redis"
)

// EnvAddr names the variable that enables Redis-backed tests.
const EnvAddr = "SMSFORWARD_TEST_REDIS_ADDR"

// NewClient returns a client on DB 15, skipping the test when no Redis
// address is configured. The DB is flushed on cleanup.
func NewClient(t testing.TB) *goredis.Client {
	t.Helper()
	addr := os.Getenv(EnvAddr)
	if addr == "" {
		t.Skipf("%s not set", EnvAddr)
	}
	client, err := redisstore.NewClient(context.Background(), redisstore.Options{Addr: addr, DB: 15}, nil)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return client
}
