package queue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"seckill/internal/model"
	"seckill/pkg/clock"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderPersister 把一条下单消息写入数据库。
type OrderPersister interface {
	PersistVoucherOrder(ctx context.Context, o model.VoucherOrder) (model.PersistOutcome, error)
}

// EventPublisher 发布订单创建事件，失败不影响已落库的订单。
type EventPublisher interface {
	Publish(ctx context.Context, ev OrderCreatedEvent) error
}

type WorkerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block 读取新消息的最长阻塞时间。
	Block time.Duration
	// LockTTL 用户锁的持有上限。
	LockTTL time.Duration
	// SweepPause 补偿 pending 失败后的停顿。
	SweepPause time.Duration
	// Clock 订单事件时间戳。
	Clock clock.Clock
}

func (c *WorkerConfig) setDefaults() {
	if c.Stream == "" {
		c.Stream = redis.OrderStream
	}
	if c.Group == "" {
		c.Group = "g1"
	}
	if c.Consumer == "" {
		c.Consumer = "c1"
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.SweepPause <= 0 {
		c.SweepPause = 20 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
}

// Worker 消费 stream.orders 并异步落单。
// 语义：落库（或确认是已处理的拒绝）后才 ACK，失败则留在 pending 列表由 sweepPending 补偿。
type Worker struct {
	rdb       *rd.Client
	locker    *redis.Locker
	persister OrderPersister
	publisher EventPublisher
	log       *zap.Logger
	cfg       WorkerConfig
}

func NewWorker(rdb *rd.Client, locker *redis.Locker, persister OrderPersister, publisher EventPublisher,
	log *zap.Logger, cfg WorkerConfig) *Worker {
	cfg.setDefaults()
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		rdb:       rdb,
		locker:    locker,
		persister: persister,
		publisher: publisher,
		log:       log.With(zap.String("stream", cfg.Stream), zap.String("consumer", cfg.Consumer)),
		cfg:       cfg,
	}
}

// EnsureGroup 创建 stream 与消费者组，组已存在不算错误。
func EnsureGroup(ctx context.Context, rdb *rd.Client, stream, group string) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return errors.Wrapf(err, "create group %s on %s", group, stream)
}

// Run 阻塞运行直到 ctx 结束。每轮出错都先把 pending 列表补偿干净再继续读新消息。
func (w *Worker) Run(ctx context.Context) error {
	if err := EnsureGroup(ctx, w.rdb, w.cfg.Stream, w.cfg.Group); err != nil {
		return err
	}
	w.log.Info("order worker started")

	// 启动时先处理上次遗留的 pending
	w.sweepPending(ctx)

	for {
		if ctx.Err() != nil {
			w.log.Info("order worker stopped")
			return nil
		}
		if err := w.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("consume order stream", zap.Error(err))
			w.sweepPending(ctx)
		}
	}
}

// consumeOnce 读一条新消息并处理，没有消息时返回 nil。
func (w *Worker) consumeOnce(ctx context.Context) error {
	msgs, err := w.readGroup(ctx, ">", w.cfg.Block)
	if err != nil {
		return errors.Wrap(err, "read new entries")
	}
	for _, xm := range msgs {
		if err := w.process(ctx, xm); err != nil {
			return errors.Wrapf(err, "entry %s", xm.ID)
		}
	}
	return nil
}

// sweepPending 反复读取本消费者已投递未 ACK 的消息（ID 0）直到清空。
// 单条失败就停顿后从头再读，不会跳过任何一条。
func (w *Worker) sweepPending(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, err := w.readGroup(ctx, "0", -1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("read pending entries", zap.Error(err))
			w.pause(ctx)
			continue
		}
		if len(msgs) == 0 {
			return
		}
		for _, xm := range msgs {
			if err := w.process(ctx, xm); err != nil {
				w.log.Error("process pending entry", zap.String("entry_id", xm.ID), zap.Error(err))
				w.pause(ctx)
				break
			}
		}
	}
}

func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.cfg.SweepPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// readGroup block < 0 表示不阻塞。
func (w *Worker) readGroup(ctx context.Context, id string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// process 处理单条消息，成功或已处理的拒绝都会 ACK。
func (w *Worker) process(ctx context.Context, xm rd.XMessage) error {
	msg, err := ParseOrderMessage(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免卡住 pending 补偿。
		w.log.Error("drop malformed order entry", zap.String("entry_id", xm.ID), zap.Error(err))
		return w.ack(ctx, xm.ID)
	}
	if err := w.handle(ctx, msg); err != nil {
		return err
	}
	return w.ack(ctx, xm.ID)
}

func (w *Worker) handle(ctx context.Context, msg OrderMessage) error {
	log := w.log.With(
		zap.Int64("order_id", msg.OrderID),
		zap.Int64("user_id", msg.UserID),
		zap.Int64("voucher_id", msg.VoucherID),
	)

	// 同一用户同时只处理一条
	mu := w.locker.NewMutex(redis.LockOrderKey + strconv.FormatInt(msg.UserID, 10))
	ok, err := mu.TryLock(ctx, w.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("user order already in progress, dropped")
		return nil
	}
	defer func() {
		if err := mu.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release user lock", zap.Error(err))
		}
	}()

	outcome, err := w.persister.PersistVoucherOrder(ctx, msg.Order())
	if err != nil {
		return err
	}

	switch outcome {
	case model.PersistCreated:
		log.Debug("order persisted")
		ev := OrderCreatedEvent{OrderID: msg.OrderID, UserID: msg.UserID, VoucherID: msg.VoucherID, CreatedAt: w.cfg.Clock.Now()}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := w.publisher.Publish(pctx, ev); err != nil {
			log.Warn("publish order event", zap.Error(err))
		}
		cancel()
	case model.PersistDuplicate:
		log.Warn("user already owns this voucher, skipped")
	case model.PersistSoldOut:
		// 缓存层已放行却无库存，说明两侧库存不一致
		log.Error("durable stock exhausted for admitted order")
	}
	return nil
}

func (w *Worker) ack(ctx context.Context, id string) error {
	if err := w.rdb.XAck(ctx, w.cfg.Stream, w.cfg.Group, id).Err(); err != nil {
		return errors.Wrapf(err, "ack %s", id)
	}
	return nil
}
