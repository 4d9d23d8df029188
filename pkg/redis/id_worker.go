package redis

import (
	"context"

	"seckill/pkg/clock"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
)

const (
	// beginTimestamp = 2023-01-01T00:00:00Z
	beginTimestamp int64 = 1672531200
	// countBits 序列号位数，每个 namespace 每天最多 2^32-1 个 ID。
	countBits = 32
	maxCount  = 1<<countBits - 1
)

// ErrSequenceOverflow 当天序列号超出 countBits 时返回，否则会覆盖时间戳位。
var ErrSequenceOverflow = errors.New("id sequence overflow")

// IDWorker 时间戳 + Redis 自增序列拼成全局唯一 ID，无需中心化序列表。
type IDWorker struct {
	rdb   *rd.Client
	clock clock.Clock
}

func NewIDWorker(rdb *rd.Client, c clock.Clock) *IDWorker {
	if c == nil {
		c = clock.Real()
	}
	return &IDWorker{rdb: rdb, clock: c}
}

// NextID 返回 namespace 下的下一个 ID：高位为距 beginTimestamp 的秒数，低 32 位为当日序列。
func (w *IDWorker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := w.clock.Now().UTC()
	ts := now.Unix() - beginTimestamp

	count, err := w.rdb.Incr(ctx, CounterKey(namespace, now)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incr id counter %s", namespace)
	}
	if count > maxCount {
		return 0, errors.Wrapf(ErrSequenceOverflow, "namespace %s count %d", namespace, count)
	}
	return ts<<countBits | count, nil
}

// SplitID 拆出 ID 中的时间戳秒数与序列号，便于排查。
func SplitID(id int64) (unixSec int64, count int64) {
	return id>>countBits + beginTimestamp, id & maxCount
}
