package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"seckill/internal/config"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/service"
	"seckill/pkg/cache"
	"seckill/pkg/clock"
	"seckill/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminToken = "test-admin"

type response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	mr     *miniredis.Miniredis
	clock  *clock.Mock
	shops  *repository.ShopRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := repository.Open("sqlite", filepath.Join(t.TempDir(), "seckill.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clk := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, redis.NewLocker(rdb), cache.WithClock(clk))
	t.Cleanup(c.Wait)
	sk := redis.NewSeckill(rdb, redis.OrderStream)
	vouchers := repository.NewVoucherRepository(db)
	shops := repository.NewShopRepository(db)

	seckillSvc, err := service.NewSeckillService(vouchers, repository.NewOrderRepository(db), c,
		redis.NewIDWorker(rdb, clk), sk, clk, nil)
	require.NoError(t, err)

	cfg := config.AppConfig{BuyRateLimit: 100, BuyRateWindow: time.Second, PreloadAdminToken: adminToken}
	r := gin.New()
	Setup(r, Services{
		Seckill:  seckillSvc,
		Vouchers: service.NewVoucherService(vouchers, c, sk, nil),
		Shops:    service.NewShopService(shops, c, nil),
	}, rdb, cfg, zap.NewNop())

	return &testServer{engine: r, mr: mr, clock: clk, shops: shops}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (s *testServer) createVoucher(t *testing.T, stock int64, begin, end time.Time) int64 {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/vouchers", gin.H{
		"title":      "秒杀券",
		"stock":      stock,
		"begin_time": begin.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, code, resp.Msg)
	var v model.Voucher
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v.ID
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", resp.Msg)
}

func TestSeckillFlow(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()
	id := s.createVoucher(t, 1, now.Add(-time.Minute), now.Add(time.Hour))

	code, resp := s.do(t, http.MethodGet, "/api/seckill/stock/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"stock":1}`, string(resp.Data))

	code, resp = s.do(t, http.MethodPost, "/api/seckill/buy", gin.H{"voucher_id": id, "user_id": 1})
	require.Equal(t, http.StatusOK, code, resp.Msg)
	var admitted struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &admitted))
	assert.Equal(t, "pending", admitted.Status)
	assert.NotEmpty(t, admitted.OrderID)

	code, resp = s.do(t, http.MethodPost, "/api/seckill/buy", gin.H{"voucher_id": id, "user_id": 2})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "库存不足", resp.Msg)

	code, resp = s.do(t, http.MethodGet, "/api/orders/"+admitted.OrderID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"pending"`)
}

func TestSeckillRejections(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()
	future := s.createVoucher(t, 5, now.Add(time.Hour), now.Add(2*time.Hour))
	past := s.createVoucher(t, 5, now.Add(-2*time.Hour), now.Add(-time.Hour))
	open := s.createVoucher(t, 5, now.Add(-time.Hour), now.Add(time.Hour))

	cases := []struct {
		name   string
		body   gin.H
		status int
		msg    string
	}{
		{"not started", gin.H{"voucher_id": future, "user_id": 1}, http.StatusBadRequest, "秒杀尚未开始"},
		{"ended", gin.H{"voucher_id": past, "user_id": 1}, http.StatusBadRequest, "秒杀已经结束"},
		{"unknown voucher", gin.H{"voucher_id": 999, "user_id": 1}, http.StatusNotFound, "优惠券不存在"},
		{"missing user", gin.H{"voucher_id": open}, http.StatusBadRequest, ""},
		{"first buy", gin.H{"voucher_id": open, "user_id": 7}, http.StatusOK, ""},
		{"duplicate", gin.H{"voucher_id": open, "user_id": 7}, http.StatusBadRequest, "不能重复下单"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/seckill/buy", tc.body)
			assert.Equal(t, tc.status, code)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, resp.Msg)
			}
		})
	}
}

func TestSeckillRedisDown(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()
	id := s.createVoucher(t, 5, now.Add(-time.Minute), now.Add(time.Hour))
	s.mr.Close()

	code, resp := s.do(t, http.MethodPost, "/api/seckill/buy", gin.H{"voucher_id": id, "user_id": 1})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "系统繁忙，请稍后重试", resp.Msg)
}

func TestPreloadRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()
	id := s.createVoucher(t, 8, now, now.Add(time.Hour))

	code, _ := s.do(t, http.MethodPost, "/api/seckill/preload/"+itoa(id), nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := s.do(t, http.MethodPost, "/api/seckill/preload/"+itoa(id), nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"stock":8}`, string(resp.Data))

	code, _ = s.do(t, http.MethodPost, "/api/seckill/preload/404", nil, "X-Admin-Token", adminToken)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateVoucherValidation(t *testing.T) {
	s := newTestServer(t)
	now := s.clock.Now()

	code, _ := s.do(t, http.MethodPost, "/api/vouchers", gin.H{
		"title": "x", "stock": 1, "begin_time": "yesterday", "end_time": now.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/vouchers", gin.H{
		"title": "x", "stock": 1, "begin_time": now.Format(time.RFC3339), "end_time": now.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestShopRoutes(t *testing.T) {
	s := newTestServer(t)
	shop := &model.Shop{Name: "星巴克", TypeID: 1}
	require.NoError(t, s.shops.Create(context.Background(), shop))
	id := itoa(shop.ID)

	code, resp := s.do(t, http.MethodGet, "/api/shops/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "星巴克")

	code, _ = s.do(t, http.MethodGet, "/api/shops/"+id+"?mode=mutex", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/shops/404", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/api/shops/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/api/shops/"+id+"/hot", nil)
	assert.Equal(t, http.StatusNotFound, code, "hot key must be warmed up first")

	code, _ = s.do(t, http.MethodPost, "/api/shops/"+id+"/warmup?ttl=1m", nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/api/shops/"+id+"/hot", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "星巴克")

	code, _ = s.do(t, http.MethodPut, "/api/shops/"+id, gin.H{"name": "星巴克臻选"})
	require.Equal(t, http.StatusOK, code)
	code, resp = s.do(t, http.MethodGet, "/api/shops/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "星巴克臻选")

	code, _ = s.do(t, http.MethodPut, "/api/shops/404", gin.H{"name": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
