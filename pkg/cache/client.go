// Package cache 实现读多写少实体的缓存客户端：
// 缓存空值防穿透、逻辑过期防击穿/雪崩、互斥锁重建。
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"seckill/pkg/clock"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound 实体不存在（包括命中空值缓存）。
	ErrNotFound = errors.New("cache: entity not found")
	// ErrUnavailable Redis 不可用或熔断打开，调用方不能当成“不存在”处理。
	ErrUnavailable = errors.New("cache: unavailable")
	// ErrBusy 互斥重建时等锁超时。
	ErrBusy = errors.New("cache: rebuild in progress, retry later")
)

// logicalEntry 是逻辑过期的存储格式：{"data": ..., "expireTime": ...}
type logicalEntry struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

// Client 缓存客户端，Redis 读取经过熔断器。
type Client struct {
	rdb     *rd.Client
	locker  *redis.Locker
	clock   clock.Clock
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker
	sf      singleflight.Group

	lockTTL        time.Duration
	rebuildTimeout time.Duration
	mutexWait      time.Duration

	rebuilds sync.WaitGroup
}

type Option func(*Client)

func WithClock(c clock.Clock) Option { return func(cl *Client) { cl.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithLockTTL 重建锁的持有上限，应明显大于一次回源耗时。
func WithLockTTL(d time.Duration) Option { return func(cl *Client) { cl.lockTTL = d } }

// WithMutexWait 互斥重建时等待其他重建者的最长时间。
func WithMutexWait(d time.Duration) Option { return func(cl *Client) { cl.mutexWait = d } }

// WithBreaker 替换默认的熔断配置。
func WithBreaker(st gobreaker.Settings) Option {
	return func(cl *Client) { cl.breaker = gobreaker.NewCircuitBreaker(st) }
}

func New(rdb *rd.Client, locker *redis.Locker, opts ...Option) *Client {
	c := &Client{
		rdb:            rdb,
		locker:         locker,
		clock:          clock.Real(),
		log:            zap.NewNop(),
		lockTTL:        redis.LockShopTTL,
		rebuildTimeout: 5 * time.Second,
		mutexWait:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(defaultBreakerSettings(c.log))
	}
	return c
}

func defaultBreakerSettings(log *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "cache-redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
}

type getResult struct {
	val   string
	found bool
}

// get 读取 key，found=false 表示 key 不存在。
func (c *Client) get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		val, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, rd.Nil) {
			return getResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		return getResult{val: val, found: true}, nil
	})
	if err != nil {
		return "", false, errors.Mark(errors.Wrapf(err, "cache get %s", key), ErrUnavailable)
	}
	r := v.(getResult)
	return r.val, r.found, nil
}

// Set 序列化为 JSON 并设置 TTL。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "cache set %s", key), ErrUnavailable)
	}
	return nil
}

// SetWithLogicalExpire 写入逻辑过期包装，Redis 层面永不过期；用于预热热点数据。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	b, err := json.Marshal(logicalEntry{Data: data, ExpireTime: c.clock.Now().Add(ttl)})
	if err != nil {
		return errors.Wrapf(err, "marshal logical entry %s", key)
	}
	if err := c.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "cache set %s", key), ErrUnavailable)
	}
	return nil
}

// Delete 删除缓存，实体写库后调用。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "cache del %s", key), ErrUnavailable)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "cache exists %s", key), ErrUnavailable)
	}
	return n > 0, nil
}

// Wait 等待所有异步重建结束，停机或测试时使用。
func (c *Client) Wait() { c.rebuilds.Wait() }

// rebuildAsync 在独立 goroutine 中执行重建，无论成败都释放锁。
// 重建不跟随请求取消，但有自己的超时。
func (c *Client) rebuildAsync(ctx context.Context, key string, mu *redis.Mutex, fn func(context.Context) error) {
	c.rebuilds.Add(1)
	go func() {
		defer c.rebuilds.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rebuildTimeout)
		defer cancel()
		defer func() {
			if err := mu.Unlock(rctx); err != nil {
				c.log.Warn("release rebuild lock", zap.String("key", key), zap.Error(err))
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("cache rebuild panic", zap.String("key", key), zap.Any("panic", r))
			}
		}()

		if err := fn(rctx); err != nil {
			c.log.Error("cache rebuild failed", zap.String("key", key), zap.Error(err))
			return
		}
		c.log.Debug("cache rebuilt", zap.String("key", key))
	}()
}

func decode[T any](key, val string) (*T, error) {
	var out T
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return &out, nil
}

func decodeLogical[T any](key, val string) (*T, time.Time, error) {
	var entry logicalEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, time.Time{}, errors.Wrapf(err, "decode logical entry %s", key)
	}
	data, err := decode[T](key, string(entry.Data))
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, entry.ExpireTime, nil
}
