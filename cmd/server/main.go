package main

import (
	"context"
	"net/http"
	"time"

	"seckill/internal/config"
	"seckill/internal/logger"
	"seckill/internal/queue"
	"seckill/internal/repository"
	"seckill/internal/router"
	"seckill/internal/service"
	"seckill/pkg/cache"
	"seckill/pkg/clock"
	"seckill/pkg/redis"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	fx.New(
		fx.Provide(
			config.Load,
			func(cfg config.AppConfig) (*zap.Logger, error) { return logger.New(cfg.Log) },
			newDB,
			newRedis,
			clock.Real,
			redis.NewLocker,
			redis.NewIDWorker,
			func(rdb *rd.Client, cfg config.AppConfig) *redis.Seckill {
				return redis.NewSeckill(rdb, cfg.Order.Stream)
			},
			newCache,
			repository.NewVoucherRepository,
			repository.NewOrderRepository,
			repository.NewShopRepository,
			newServices,
			newPublisher,
			newWorker,
			newEngine,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(startWorker, startServer),
	).Run()
}

// 1. 数据库：sqlite（默认）或 mysql，自动建表
func newDB(lc fx.Lifecycle, cfg config.AppConfig) (*gorm.DB, error) {
	db, err := repository.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// 2. Redis：启动时 ping，连不上直接失败
func newRedis(lc fx.Lifecycle, cfg config.AppConfig) *rd.Client {
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		OnStop:  func(context.Context) error { return rdb.Close() },
	})
	return rdb
}

func newCache(lc fx.Lifecycle, rdb *rd.Client, locker *redis.Locker, clk clock.Clock, log *zap.Logger) *cache.Client {
	c := cache.New(rdb, locker, cache.WithClock(clk), cache.WithLogger(log.Named("cache")))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			c.Wait()
			return nil
		},
	})
	return c
}

func newServices(
	vouchers *repository.VoucherRepository,
	orders *repository.OrderRepository,
	shops *repository.ShopRepository,
	c *cache.Client,
	ids *redis.IDWorker,
	sk *redis.Seckill,
	clk clock.Clock,
	log *zap.Logger,
) (router.Services, error) {
	seckillSvc, err := service.NewSeckillService(vouchers, orders, c, ids, sk, clk, log.Named("seckill"))
	if err != nil {
		return router.Services{}, err
	}
	return router.Services{
		Seckill:  seckillSvc,
		Vouchers: service.NewVoucherService(vouchers, c, sk, log.Named("voucher")),
		Shops:    service.NewShopService(shops, c, log.Named("shop")),
	}, nil
}

// newPublisher Kafka 未启用时不发布订单事件。
func newPublisher(lc fx.Lifecycle, cfg config.AppConfig, log *zap.Logger) queue.EventPublisher {
	if !cfg.Kafka.Enabled {
		log.Info("kafka disabled, order events are not published")
		return queue.NopPublisher{}
	}
	p := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.Close() },
	})
	return p
}

func newWorker(rdb *rd.Client, locker *redis.Locker, orders *repository.OrderRepository,
	pub queue.EventPublisher, clk clock.Clock, cfg config.AppConfig, log *zap.Logger) *queue.Worker {
	return queue.NewWorker(rdb, locker, orders, pub, log.Named("worker"), queue.WorkerConfig{
		Stream:   cfg.Order.Stream,
		Group:    cfg.Order.Group,
		Consumer: cfg.Order.Consumer,
		Block:    cfg.Order.Block,
		Clock:    clk,
	})
}

func newEngine(svc router.Services, rdb *rd.Client, cfg config.AppConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	router.Setup(r, svc, rdb, cfg, log.Named("http"))
	return r
}

// startWorker 在 Redis / DB 就绪后启动落单 worker，停止时取消并等待当前一轮结束。
func startWorker(lc fx.Lifecycle, w *queue.Worker, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					log.Error("order worker exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startServer(lc fx.Lifecycle, engine *gin.Engine, cfg config.AppConfig, log *zap.Logger, sd fx.Shutdowner) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("http server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
