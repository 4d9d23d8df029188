package service

import (
	"context"
	"strings"

	"seckill/internal/model"
	"seckill/pkg/cache"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// VoucherService 秒杀券的创建与库存预热。
type VoucherService struct {
	vouchers VoucherStore
	cache    *cache.Client
	seckill  *redis.Seckill
	log      *zap.Logger
}

func NewVoucherService(vouchers VoucherStore, c *cache.Client, sk *redis.Seckill, log *zap.Logger) *VoucherService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VoucherService{vouchers: vouchers, cache: c, seckill: sk, log: log}
}

// Create 写库后把库存同步到 Redis，并清掉可能存在的空值缓存。
func (s *VoucherService) Create(ctx context.Context, v *model.Voucher) error {
	v.Title = strings.TrimSpace(v.Title)
	if v.Title == "" || v.Stock < 0 || !v.EndTime.After(v.BeginTime) {
		return errors.Wrapf(ErrInvalidArgument, "voucher title=%q stock=%d", v.Title, v.Stock)
	}
	if err := s.vouchers.Create(ctx, v); err != nil {
		return tryAgain(err, "create voucher")
	}
	if err := s.seckill.Preload(ctx, v.ID, v.Stock); err != nil {
		return tryAgain(err, "preload stock")
	}
	if err := s.cache.Delete(ctx, redis.CacheVoucherKey+idString(v.ID)); err != nil {
		s.log.Warn("invalidate voucher cache", zap.Int64("voucher_id", v.ID), zap.Error(err))
	}
	s.log.Info("voucher created", zap.Int64("voucher_id", v.ID), zap.Int64("stock", v.Stock))
	return nil
}

// Preload 用 DB 库存重置 Redis 计数器，返回写入的库存。
func (s *VoucherService) Preload(ctx context.Context, id int64) (int64, error) {
	v, err := s.vouchers.GetByID(ctx, id)
	if err != nil {
		return 0, tryAgain(err, "get voucher")
	}
	if v == nil {
		return 0, ErrVoucherNotFound
	}
	if err := s.seckill.Preload(ctx, v.ID, v.Stock); err != nil {
		return 0, tryAgain(err, "preload stock")
	}
	s.log.Info("stock preloaded", zap.Int64("voucher_id", v.ID), zap.Int64("stock", v.Stock))
	return v.Stock, nil
}
