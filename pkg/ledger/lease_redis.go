package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaseTable stores leases as keys with a PX expiry, so several engine
// processes can share one lease table.
type RedisLeaseTable struct {
	client *goredis.Client
	prefix string
}

func NewRedisLeaseTable(client *goredis.Client, keyPrefix string) *RedisLeaseTable {
	return &RedisLeaseTable{client: client, prefix: keyPrefix + "lease:"}
}

func (t *RedisLeaseTable) key(messageID int64) string {
	return t.prefix + strconv.FormatInt(messageID, 10)
}

func (t *RedisLeaseTable) Acquire(ctx context.Context, messageID int64, token string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.key(messageID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %d: %w", messageID, err)
	}
	return ok, nil
}

func (t *RedisLeaseTable) Release(ctx context.Context, messageID int64, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, t.client, []string{t.key(messageID)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lease %d: %w", messageID, err)
	}
	return n == 1, nil
}

func (t *RedisLeaseTable) Holds(ctx context.Context, messageID int64, token string) (bool, error) {
	v, err := t.client.Get(ctx, t.key(messageID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease %d: %w", messageID, err)
	}
	return v == token, nil
}

// Reclaim is a no-op; Redis expires lease keys itself.
func (t *RedisLeaseTable) Reclaim(context.Context) (int, error) {
	return 0, nil
}
