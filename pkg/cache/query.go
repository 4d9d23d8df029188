package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Loader 从存储加载实体，(nil, nil) 表示不存在。
type Loader[T any, ID any] func(ctx context.Context, id ID) (*T, error)

// PassThrough 缓存空值防穿透的查询参数。
type PassThrough[T any, ID any] struct {
	KeyPrefix string
	ID        ID
	Loader    Loader[T, ID]
	TTL       time.Duration
	NullTTL   time.Duration
}

// LogicalExpire 逻辑过期查询参数，key 需要预热，冷 key 直接视为不存在。
type LogicalExpire[T any, ID any] struct {
	KeyPrefix  string
	LockPrefix string
	ID         ID
	Loader     Loader[T, ID]
	TTL        time.Duration
}

// Mutex 互斥锁重建查询参数。
type Mutex[T any, ID any] struct {
	KeyPrefix  string
	LockPrefix string
	ID         ID
	Loader     Loader[T, ID]
	TTL        time.Duration
	NullTTL    time.Duration
}

var errLockBusy = errors.New("cache: rebuild lock held by another caller")

// QueryWithPassThrough 命中返回；命中空值直接返回 ErrNotFound 不查库；
// 未命中回源，不存在则写空值（短 TTL），存在则写缓存。
// loader 报错直接返回，不缓存空值。
func QueryWithPassThrough[T any, ID any](ctx context.Context, c *Client, q PassThrough[T, ID]) (*T, error) {
	key := q.KeyPrefix + fmt.Sprint(q.ID)

	v, hit, err := lookup[T](ctx, c, key)
	if err != nil || hit {
		return v, err
	}

	// 同进程内同一个 key 只回源一次。回源不跟随发起者的 ctx，
	// 每个调用方只按自己的 ctx 放弃等待。
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rebuildTimeout)
		defer cancel()
		return loadAndFill(lctx, c, key, q.ID, q.Loader, q.TTL, q.NullTTL)
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "wait load %s", key)
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*T), nil
	}
}

// QueryWithLogicalExpire 未过期直接返回；已过期则抢锁，抢到后异步重建，
// 不论是否抢到都先返回旧数据。
func QueryWithLogicalExpire[T any, ID any](ctx context.Context, c *Client, q LogicalExpire[T, ID]) (*T, error) {
	key := q.KeyPrefix + fmt.Sprint(q.ID)

	val, found, err := c.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || val == "" {
		return nil, ErrNotFound
	}
	data, expireAt, err := decodeLogical[T](key, val)
	if err != nil {
		return nil, err
	}
	if expireAt.After(c.clock.Now()) {
		return data, nil
	}

	mu := c.locker.NewMutex(q.LockPrefix + fmt.Sprint(q.ID))
	ok, err := mu.TryLock(ctx, c.lockTTL)
	if err != nil {
		c.log.Warn("acquire rebuild lock", zap.String("key", key), zap.Error(err))
		return data, nil
	}
	if !ok {
		return data, nil
	}

	// double check：拿锁期间可能已有人重建完
	if val, found, err := c.get(ctx, key); err == nil && found && val != "" {
		if fresh, exp, err := decodeLogical[T](key, val); err == nil && exp.After(c.clock.Now()) {
			if err := mu.Unlock(ctx); err != nil {
				c.log.Warn("release rebuild lock", zap.String("key", key), zap.Error(err))
			}
			return fresh, nil
		}
	}

	id, loader, ttl := q.ID, q.Loader, q.TTL
	c.rebuildAsync(ctx, key, mu, func(ctx context.Context) error {
		v, err := loader(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "reload %s", key)
		}
		if v == nil {
			// 实体已被删除，去掉逻辑过期缓存
			return c.Delete(ctx, key)
		}
		return c.SetWithLogicalExpire(ctx, key, v, ttl)
	})
	return data, nil
}

// QueryWithMutex 未命中时只有拿到锁的调用方回源，其余调用方退避重试直到
// 缓存被填好、ctx 结束或等待超时（ErrBusy）。
func QueryWithMutex[T any, ID any](ctx context.Context, c *Client, q Mutex[T, ID]) (*T, error) {
	key := q.KeyPrefix + fmt.Sprint(q.ID)

	var out *T
	op := func() error {
		v, hit, err := lookup[T](ctx, c, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if hit {
			out = v
			return nil
		}

		mu := c.locker.NewMutex(q.LockPrefix + fmt.Sprint(q.ID))
		ok, err := mu.TryLock(ctx, c.lockTTL)
		if err != nil {
			return backoff.Permanent(errors.Mark(err, ErrUnavailable))
		}
		if !ok {
			return errLockBusy
		}
		defer func() {
			if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
				c.log.Warn("release rebuild lock", zap.String("key", key), zap.Error(err))
			}
		}()

		// double check
		v, hit, err = lookup[T](ctx, c, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if hit {
			out = v
			return nil
		}

		res, err := loadAndFill(ctx, c, key, q.ID, q.Loader, q.TTL, q.NullTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.mutexWait

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if errors.Is(err, errLockBusy) {
		return nil, errors.Mark(errors.Wrapf(err, "wait rebuild %s", key), ErrBusy)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lookup 读缓存。hit=true 时要么返回值，要么返回 ErrNotFound（空值）。
// 内容损坏按未命中处理，由回源覆盖。
func lookup[T any](ctx context.Context, c *Client, key string) (*T, bool, error) {
	val, found, err := c.get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if val == "" {
		return nil, true, ErrNotFound
	}
	v, err := decode[T](key, val)
	if err != nil {
		c.log.Warn("corrupted cache entry, reloading", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return v, true, nil
}

// loadAndFill 回源并回填缓存。回填失败只记日志，数据以存储为准。
func loadAndFill[T any, ID any](ctx context.Context, c *Client, key string, id ID, loader Loader[T, ID],
	ttl, nullTTL time.Duration) (*T, error) {
	v, err := loader(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	if v == nil {
		if err := c.rdb.Set(ctx, key, "", nullTTL).Err(); err != nil {
			c.log.Warn("write null sentinel", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		c.log.Warn("fill cache", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
