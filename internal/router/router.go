package router

import (
	"net/http"
	"strconv"
	"time"

	"seckill/internal/config"
	"seckill/internal/logger"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 路由依赖的业务服务。
type Services struct {
	Seckill  *service.SeckillService
	Vouchers *service.VoucherService
	Shops    *service.ShopService
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, svc Services, rdb *rd.Client, cfg config.AppConfig, log *zap.Logger) {
	r.Use(logger.GinMiddleware(log), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	admin := adminOnly(cfg.PreloadAdminToken)

	// vouchers
	r.POST("/api/vouchers", createVoucher(svc.Vouchers))
	// seckill
	r.POST("/api/seckill/preload/:voucher_id", admin, preloadStock(svc.Vouchers))
	r.GET("/api/seckill/stock/:voucher_id", getStock(svc.Seckill))
	r.POST("/api/seckill/buy", middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow, log), seckill(svc.Seckill))
	r.GET("/api/orders/:order_id", getOrder(svc.Seckill))
	// shops
	r.GET("/api/shops/:id", getShop(svc.Shops))
	r.GET("/api/shops/:id/hot", getHotShop(svc.Shops))
	r.PUT("/api/shops/:id", updateShop(svc.Shops))
	r.POST("/api/shops/:id/warmup", admin, warmUpShop(svc.Shops))
}

// adminOnly 要求简单管理员 token，避免被任意调用重置库存。
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}

// createVoucher 创建秒杀券（含时间窗校验），同时预热库存。
func createVoucher(svc *service.VoucherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}

		v := &model.Voucher{Title: req.Title, Stock: req.Stock, BeginTime: begin, EndTime: end}
		if err := svc.Create(c.Request.Context(), v); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadStock 将 DB 库存同步到 Redis。
func preloadStock(svc *service.VoucherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "voucher_id")
		if !ok {
			return
		}
		stock, err := svc.Preload(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": gin.H{"stock": stock}})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(svc *service.SeckillService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "voucher_id")
		if !ok {
			return
		}
		stock, err := svc.Stock(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// seckill 是秒杀下单入口，返回订单号；订单由后台 worker 异步落库。
func seckill(svc *service.SeckillService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VoucherID int64 `json:"voucher_id" binding:"required,min=1"`
			UserID    int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		orderID, err := svc.Seckill(c.Request.Context(), req.VoucherID, req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		// order_id 用字符串返回，避免前端丢精度
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id": strconv.FormatInt(orderID, 10),
				"status":   "pending",
			},
		})
	}
}

// getOrder 查询订单是否已落库。
func getOrder(svc *service.SeckillService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "order_id")
		if !ok {
			return
		}
		o, err := svc.Order(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if o == nil {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"order_id": c.Param("order_id"), "status": "pending"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": "created", "order": o}})
	}
}

// getShop ?mode=mutex 使用互斥锁重建，默认缓存空值。
func getShop(svc *service.ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var (
			shop *model.Shop
			err  error
		)
		if c.Query("mode") == "mutex" {
			shop, err = svc.QueryByIDWithMutex(c.Request.Context(), id)
		} else {
			shop, err = svc.QueryByID(c.Request.Context(), id)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

func getHotShop(svc *service.ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		shop, err := svc.QueryHot(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

func updateShop(svc *service.ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Name     string  `json:"name" binding:"required"`
			TypeID   int64   `json:"type_id"`
			Address  string  `json:"address"`
			AvgPrice int64   `json:"avg_price"`
			Score    float64 `json:"score"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		shop := &model.Shop{
			ID:       id,
			Name:     req.Name,
			TypeID:   req.TypeID,
			Address:  req.Address,
			AvgPrice: req.AvgPrice,
			Score:    req.Score,
		}
		if err := svc.Update(c.Request.Context(), shop); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "更新成功"})
	}
}

func warmUpShop(svc *service.ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ttl := 30 * time.Minute
		if s := c.Query("ttl"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "ttl 格式错误"})
				return
			}
			ttl = d
		}
		if err := svc.WarmUp(c.Request.Context(), id, ttl); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

// pathID 解析路径里的正整数 ID，失败时已写好 400 响应。
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": name + " 无效"})
		return 0, false
	}
	return id, true
}

// writeError 把业务错误映射为 HTTP 状态码与提示语。
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "服务器内部错误"
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "参数错误"
	case errors.Is(err, service.ErrVoucherNotFound):
		status, msg = http.StatusNotFound, "优惠券不存在"
	case errors.Is(err, service.ErrShopNotFound):
		status, msg = http.StatusNotFound, "店铺不存在"
	case errors.Is(err, service.ErrSaleNotStarted):
		status, msg = http.StatusBadRequest, "秒杀尚未开始"
	case errors.Is(err, service.ErrSaleEnded):
		status, msg = http.StatusBadRequest, "秒杀已经结束"
	case errors.Is(err, service.ErrInsufficientStock):
		status, msg = http.StatusBadRequest, "库存不足"
	case errors.Is(err, service.ErrDuplicateOrder):
		status, msg = http.StatusBadRequest, "不能重复下单"
	case errors.Is(err, service.ErrTryAgain):
		status, msg = http.StatusServiceUnavailable, "系统繁忙，请稍后重试"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}
