package redis

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
)

// AdmitCode 是秒杀脚本的返回码，对外协议，数值不可改。
type AdmitCode int

const (
	AdmitOK        AdmitCode = 0 // 有资格：已扣库存、记用户、入队
	AdmitSoldOut   AdmitCode = 1 // 库存不足
	AdmitDuplicate AdmitCode = 2 // 重复下单
)

// luaSeckill：Redis 内原子「判库存 → 判一人一单 → 扣库存 → 记用户 → XADD 入队」
// KEYS[1]=库存key，KEYS[2]=已购用户集合，KEYS[3]=订单 stream
// ARGV[1]=voucherId，ARGV[2]=userId，ARGV[3]=orderId
// 库存 key 不存在按 0 处理。
var luaSeckill = rd.NewScript(`
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

local stock = tonumber(redis.call('GET', stockKey) or '0')
if stock == nil or stock <= 0 then
  return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
  return 2
end
redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', streamKey, '*', 'orderId', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`)

// Seckill 封装秒杀资格判断脚本与库存预热。
type Seckill struct {
	rdb    *rd.Client
	stream string
}

func NewSeckill(rdb *rd.Client, stream string) *Seckill {
	if stream == "" {
		stream = OrderStream
	}
	return &Seckill{rdb: rdb, stream: stream}
}

// Admit 执行秒杀脚本。时间窗由调用方校验。
func (s *Seckill) Admit(ctx context.Context, voucherID, userID, orderID int64) (AdmitCode, error) {
	keys := []string{StockKey(voucherID), PurchasedKey(voucherID), s.stream}
	code, err := luaSeckill.Run(ctx, s.rdb, keys,
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
	).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "seckill script voucher=%d user=%d", voucherID, userID)
	}
	switch c := AdmitCode(code); c {
	case AdmitOK, AdmitSoldOut, AdmitDuplicate:
		return c, nil
	default:
		return 0, errors.Newf("unexpected seckill script result %d", code)
	}
}

// Preload 将库存写入 Redis（预热），不设过期，活动期间由脚本扣减。
func (s *Seckill) Preload(ctx context.Context, voucherID, stock int64) error {
	if err := s.rdb.Set(ctx, StockKey(voucherID), stock, 0).Err(); err != nil {
		return errors.Wrapf(err, "preload stock voucher=%d", voucherID)
	}
	return nil
}

// Stock 查询 Redis 中的实时库存，key 不存在返回 0。
func (s *Seckill) Stock(ctx context.Context, voucherID int64) (int64, error) {
	val, err := s.rdb.Get(ctx, StockKey(voucherID)).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get stock voucher=%d", voucherID)
	}
	return val, nil
}

// Stream 返回脚本写入的 stream 名称。
func (s *Seckill) Stream() string { return s.stream }
