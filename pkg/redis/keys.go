package redis

import (
	"fmt"
	"time"
)

const (
	// CacheShopKey / CacheVoucherKey 是实体缓存前缀，后接实体 ID。
	CacheShopKey    = "cache:shop:"
	CacheVoucherKey = "cache:voucher:"
	// CacheShopHotKey 热点商铺的逻辑过期缓存，与普通缓存分开，两种格式不能混读。
	CacheShopHotKey = "cache:shop:hot:"

	// LockShopKey 是逻辑过期重建锁的资源名前缀（最终键为 lock:shop:<id>）。
	LockShopKey = "shop:"
	// LockOrderKey 是落单 worker 的用户锁资源名前缀（最终键为 lock:order:<uid>）。
	LockOrderKey = "order:"

	CacheShopTTL    = 30 * time.Minute
	CacheVoucherTTL = 10 * time.Minute
	CacheNullTTL    = 2 * time.Minute
	LockShopTTL     = 10 * time.Second

	// OrderStream 是下单工作队列（Redis Stream）名称。
	OrderStream = "stream.orders"
)

// LockKey 统一约定分布式锁键名。
func LockKey(resource string) string {
	return "lock:" + resource
}

// StockKey 秒杀库存计数器。
func StockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// PurchasedKey 记录已抢到某券的用户集合（一人一单的快速判重）。
func PurchasedKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// CounterKey 是 ID 生成器的按天自增计数键，顺带可做每日下单量统计。
func CounterKey(namespace string, day time.Time) string {
	return "icr:" + namespace + ":" + day.UTC().Format("20060102")
}
