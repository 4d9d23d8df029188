// Package service 组合缓存、Redis 原子脚本与持久层，实现秒杀下单及商铺/券的读写。
package service

import (
	"context"

	"seckill/internal/model"
	"seckill/pkg/cache"
	"seckill/pkg/clock"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OrderIDNamespace ID 生成器里订单使用的命名空间。
const OrderIDNamespace = "order"

type VoucherStore interface {
	Create(ctx context.Context, v *model.Voucher) error
	GetByID(ctx context.Context, id int64) (*model.Voucher, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*model.VoucherOrder, error)
}

// SeckillService 秒杀下单入口。资格判定全部在 Redis 内完成，落库交给 queue.Worker 异步处理。
type SeckillService struct {
	vouchers VoucherStore
	orders   OrderReader
	cache    *cache.Client
	ids      *redis.IDWorker
	seckill  *redis.Seckill
	clock    clock.Clock
	log      *zap.Logger

	admissions metric.Int64Counter
}

func NewSeckillService(vouchers VoucherStore, orders OrderReader, c *cache.Client, ids *redis.IDWorker,
	sk *redis.Seckill, clk clock.Clock, log *zap.Logger) (*SeckillService, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	admissions, err := otel.Meter("seckill/internal/service").Int64Counter(
		"seckill.admissions",
		metric.WithDescription("seckill requests by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create admissions counter")
	}
	return &SeckillService{
		vouchers:   vouchers,
		orders:     orders,
		cache:      c,
		ids:        ids,
		seckill:    sk,
		clock:      clk,
		log:        log,
		admissions: admissions,
	}, nil
}

// Seckill 判定用户能否抢到券，成功返回订单号；订单此时只是进入队列，尚未落库。
func (s *SeckillService) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := s.seckillOnce(ctx, voucherID, userID)
	s.admissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeOf(err))))
	return orderID, err
}

func (s *SeckillService) seckillOnce(ctx context.Context, voucherID, userID int64) (int64, error) {
	if voucherID <= 0 || userID <= 0 {
		return 0, ErrInvalidArgument
	}

	// 1. 券信息（时间窗）走缓存
	v, err := s.voucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}

	// 2. 时间窗 [BeginTime, EndTime)
	now := s.clock.Now()
	if !v.Started(now) {
		return 0, ErrSaleNotStarted
	}
	if v.Ended(now) {
		return 0, ErrSaleEnded
	}

	// 3. 先拿订单号，脚本里一并写入队列
	orderID, err := s.ids.NextID(ctx, OrderIDNamespace)
	if err != nil {
		return 0, tryAgain(err, "next order id")
	}

	// 4. Lua 原子判定：库存 + 一人一单 + 入队
	code, err := s.seckill.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, tryAgain(err, "admit")
	}
	switch code {
	case redis.AdmitOK:
		s.log.Debug("seckill admitted",
			zap.Int64("order_id", orderID), zap.Int64("user_id", userID), zap.Int64("voucher_id", voucherID))
		return orderID, nil
	case redis.AdmitSoldOut:
		return 0, ErrInsufficientStock
	case redis.AdmitDuplicate:
		return 0, ErrDuplicateOrder
	default:
		return 0, errors.Newf("unexpected admit code %d", code)
	}
}

func (s *SeckillService) voucher(ctx context.Context, id int64) (*model.Voucher, error) {
	v, err := cache.QueryWithPassThrough(ctx, s.cache, cache.PassThrough[model.Voucher, int64]{
		KeyPrefix: redis.CacheVoucherKey,
		ID:        id,
		Loader:    s.vouchers.GetByID,
		TTL:       redis.CacheVoucherTTL,
		NullTTL:   redis.CacheNullTTL,
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, tryAgain(err, "query voucher")
	}
	return v, nil
}

// Order 查询已落库的订单，(nil, nil) 表示仍在队列中或不存在。
func (s *SeckillService) Order(ctx context.Context, orderID int64) (*model.VoucherOrder, error) {
	if orderID <= 0 {
		return nil, ErrInvalidArgument
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, tryAgain(err, "get order")
	}
	return o, nil
}

// Stock Redis 中的剩余可抢库存。
func (s *SeckillService) Stock(ctx context.Context, voucherID int64) (int64, error) {
	n, err := s.seckill.Stock(ctx, voucherID)
	if err != nil {
		return 0, tryAgain(err, "read stock")
	}
	return n, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrInsufficientStock):
		return "sold_out"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, ErrSaleNotStarted):
		return "not_started"
	case errors.Is(err, ErrSaleEnded):
		return "ended"
	case errors.Is(err, ErrVoucherNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
