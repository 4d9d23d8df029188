package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaRateLimit：Redis 滑动窗口限流（ZSET，分数为毫秒时间戳）
// KEYS[1]=限流key，ARGV[1]=当前毫秒，ARGV[2]=窗口毫秒，ARGV[3]=member，ARGV[4]=limit
// 返回窗口内请求数，超限返回 -1
var luaRateLimit = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return count + 1
end
return -1
`)

// RedisRateLimit 按 user_id 的分布式限流，解析不到 user_id 时按 IP。
// Redis 出错时放行，限流不能成为下单的单点。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		var key string
		if userID, err := extractUserID(c); err == nil && userID > 0 {
			key = fmt.Sprintf("rate_limit:seckill:user:%d", userID)
		} else {
			key = "rate_limit:seckill:ip:" + c.ClientIP()
		}

		now := time.Now().UnixMilli()
		res, err := luaRateLimit.Run(c.Request.Context(), rdb, []string{key},
			now, window.Milliseconds(), uuid.NewString(), limit).Int()
		if err != nil {
			log.Warn("rate limit check failed, allowing", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

// maxPeekBody 下单 body 只有 voucher_id / user_id 两个整数，超过该长度不解析。
const maxPeekBody = 1 << 10

var errBodyTooLarge = errors.New("request body too large to extract user_id")

type peekedBody struct {
	io.Reader
	io.Closer
}

// extractUserID 最多读取 maxPeekBody 字节解析 user_id，读过的部分拼回 body，
// 后续 handler 仍能读到完整内容。
func extractUserID(c *gin.Context) (int64, error) {
	body := c.Request.Body
	if body == nil {
		return 0, io.EOF
	}
	head, err := io.ReadAll(io.LimitReader(body, maxPeekBody+1))
	if err != nil {
		return 0, err
	}
	c.Request.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(head), body), Closer: body}
	if len(head) > maxPeekBody {
		return 0, errBodyTooLarge
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(head, &req); err != nil {
		return 0, err
	}
	return req.UserID, nil
}
