package service

import (
	"context"
	"strconv"
	"time"

	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/pkg/cache"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type ShopStore interface {
	GetByID(ctx context.Context, id int64) (*model.Shop, error)
	Update(ctx context.Context, s *model.Shop) error
}

// ShopService 商铺查询，演示三种缓存策略。
type ShopService struct {
	shops ShopStore
	cache *cache.Client
	log   *zap.Logger
}

func NewShopService(shops ShopStore, c *cache.Client, log *zap.Logger) *ShopService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShopService{shops: shops, cache: c, log: log}
}

// QueryByID 缓存空值防穿透。
func (s *ShopService) QueryByID(ctx context.Context, id int64) (*model.Shop, error) {
	shop, err := cache.QueryWithPassThrough(ctx, s.cache, cache.PassThrough[model.Shop, int64]{
		KeyPrefix: redis.CacheShopKey,
		ID:        id,
		Loader:    s.shops.GetByID,
		TTL:       redis.CacheShopTTL,
		NullTTL:   redis.CacheNullTTL,
	})
	return shop, shopErr(err)
}

// QueryByIDWithMutex 互斥锁重建，同一时刻只有一个调用方回源。
func (s *ShopService) QueryByIDWithMutex(ctx context.Context, id int64) (*model.Shop, error) {
	shop, err := cache.QueryWithMutex(ctx, s.cache, cache.Mutex[model.Shop, int64]{
		KeyPrefix:  redis.CacheShopKey,
		LockPrefix: redis.LockShopKey,
		ID:         id,
		Loader:     s.shops.GetByID,
		TTL:        redis.CacheShopTTL,
		NullTTL:    redis.CacheNullTTL,
	})
	return shop, shopErr(err)
}

// QueryHot 逻辑过期，热点商铺需要先 WarmUp。
func (s *ShopService) QueryHot(ctx context.Context, id int64) (*model.Shop, error) {
	shop, err := cache.QueryWithLogicalExpire(ctx, s.cache, cache.LogicalExpire[model.Shop, int64]{
		KeyPrefix:  redis.CacheShopHotKey,
		LockPrefix: redis.LockShopKey,
		ID:         id,
		Loader:     s.shops.GetByID,
		TTL:        redis.CacheShopTTL,
	})
	return shop, shopErr(err)
}

// WarmUp 从 DB 读取并写入逻辑过期缓存。
func (s *ShopService) WarmUp(ctx context.Context, id int64, ttl time.Duration) error {
	shop, err := s.shops.GetByID(ctx, id)
	if err != nil {
		return tryAgain(err, "get shop")
	}
	if shop == nil {
		return ErrShopNotFound
	}
	if err := s.cache.SetWithLogicalExpire(ctx, redis.CacheShopHotKey+idString(id), shop, ttl); err != nil {
		return tryAgain(err, "warm up shop")
	}
	return nil
}

// Update 先写库再删缓存。
func (s *ShopService) Update(ctx context.Context, shop *model.Shop) error {
	if shop.ID <= 0 {
		return ErrInvalidArgument
	}
	if err := s.shops.Update(ctx, shop); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrShopNotFound
		}
		return tryAgain(err, "update shop")
	}
	if err := s.cache.Delete(ctx, redis.CacheShopKey+idString(shop.ID)); err != nil {
		// 删缓存失败只能等 TTL 兜底
		s.log.Warn("invalidate shop cache", zap.Int64("shop_id", shop.ID), zap.Error(err))
	}
	// 热点缓存没有 TTL：已预热的改写成已过期，下次读取触发异步重建
	hotKey := redis.CacheShopHotKey + idString(shop.ID)
	if ok, err := s.cache.Exists(ctx, hotKey); err != nil || ok {
		if err := s.cache.SetWithLogicalExpire(ctx, hotKey, shop, 0); err != nil {
			s.log.Warn("expire hot shop cache", zap.Int64("shop_id", shop.ID), zap.Error(err))
		}
	}
	return nil
}

func shopErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrNotFound):
		return ErrShopNotFound
	default:
		return tryAgain(err, "query shop")
	}
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
