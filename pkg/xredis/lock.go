package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只删自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 跨实例的互斥：SETNX + TTL，锁值是本实例 id
type Locker struct {
	rdb *redis.Client
	id  string
}

func NewLocker(rdb *redis.Client) *Locker {
	host, _ := os.Hostname()
	return &Locker{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

func (l *Locker) ID() string { return l.id }

// TryLock 抢到或者本来就是自己的（顺带续期）返回 true
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if val == l.id {
		return true, l.rdb.Expire(ctx, key, ttl).Err()
	}
	return false, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	return unlockScript.Run(ctx, l.rdb, []string{key}, l.id).Err()
}
