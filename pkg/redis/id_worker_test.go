package redis

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"seckill/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDWorkerLayout(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewIDWorker(rdb, clock.NewMock(now))

	first, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	second, err := w.NextID(ctx, "order")
	require.NoError(t, err)

	assert.Greater(t, second, first)

	sec, count := SplitID(first)
	assert.Equal(t, now.Unix(), sec)
	assert.Equal(t, int64(1), count)

	sec, count = SplitID(second)
	assert.Equal(t, now.Unix(), sec)
	assert.Equal(t, int64(2), count)
}

func TestIDWorkerCounterPerNamespaceAndDay(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	day := time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)
	c := clock.NewMock(day)
	w := NewIDWorker(rdb, c)

	_, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	_, err = w.NextID(ctx, "coupon")
	require.NoError(t, err)

	v, err := mr.Get("icr:order:20240501")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	c.Add(time.Second)
	id, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	_, count := SplitID(id)
	assert.Equal(t, int64(1), count, "counter restarts on a new day")
	assert.True(t, mr.Exists("icr:order:20240502"))
}

func TestIDWorkerConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	w := NewIDWorker(rdb, nil)

	const n = 300
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := w.NextID(ctx, "order")
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestIDWorkerSequenceBoundary(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	w := NewIDWorker(rdb, clock.NewMock(now))
	key := CounterKey("order", now)

	// 最后一个合法序列号：低位全 1，时间戳位不受影响
	require.NoError(t, mr.Set(key, strconv.FormatInt(maxCount-1, 10)))
	id, err := w.NextID(ctx, "order")
	require.NoError(t, err)
	sec, count := SplitID(id)
	assert.Equal(t, now.Unix(), sec)
	assert.Equal(t, int64(maxCount), count)

	// 再多一个就会进位污染时间戳，必须报错
	_, err = w.NextID(ctx, "order")
	require.ErrorIs(t, err, ErrSequenceOverflow)
}
