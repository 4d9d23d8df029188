package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaUnlockIfMatch 仅当锁值仍是自己的 token 时才删除，避免误删过期后被他人重新拿到的锁。
var luaUnlockIfMatch = rd.NewScript(`
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`)

// Locker 创建基于 Redis 的分布式互斥锁。
// idPrefix 区分进程，每个 Mutex 再带一个独立的 token 区分持有者。
type Locker struct {
	rdb      *rd.Client
	idPrefix string
}

func NewLocker(rdb *rd.Client) *Locker {
	return &Locker{rdb: rdb, idPrefix: uuid.NewString()}
}

// Mutex 是一次加锁的句柄，只能由它自己释放。
type Mutex struct {
	rdb   *rd.Client
	key   string
	token string
}

// NewMutex 为资源名创建锁句柄，键为 lock:<resource>。
func (l *Locker) NewMutex(resource string) *Mutex {
	return &Mutex{
		rdb:   l.rdb,
		key:   LockKey(resource),
		token: l.idPrefix + "-" + uuid.NewString(),
	}
}

// TryLock SET NX 抢锁，不自旋；ttl 到期自动释放，兜底持锁进程崩溃。
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.Newf("lock ttl must be > 0, got %s", ttl)
	}
	ok, err := m.rdb.SetNX(ctx, m.key, m.token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "lock %s", m.key)
	}
	return ok, nil
}

// Unlock 原子地比较并删除。未持有或已过期时静默返回。
func (m *Mutex) Unlock(ctx context.Context) error {
	if err := luaUnlockIfMatch.Run(ctx, m.rdb, []string{m.key}, m.token).Err(); err != nil {
		return errors.Wrapf(err, "unlock %s", m.key)
	}
	return nil
}

// Key 返回锁在 Redis 中的键名。
func (m *Mutex) Key() string { return m.key }
