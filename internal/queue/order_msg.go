package queue

import (
	"strconv"
	"time"

	"seckill/internal/model"

	"github.com/cockroachdb/errors"
)

// stream 字段名，与秒杀 Lua 脚本里的 XADD 保持一致。
const (
	fieldOrderID   = "orderId"
	fieldUserID    = "userId"
	fieldVoucherID = "voucherId"
)

// ErrMalformed 队列消息字段缺失或非法，重试也无法处理。
var ErrMalformed = errors.New("malformed order message")

// OrderMessage 是秒杀脚本写入 stream.orders 的下单消息。
type OrderMessage struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// Validate 做最小字段校验，防止 worker 处理脏消息。
func (m OrderMessage) Validate() error {
	if m.OrderID <= 0 {
		return errors.Mark(errors.New("orderId must be > 0"), ErrMalformed)
	}
	if m.UserID <= 0 {
		return errors.Mark(errors.New("userId must be > 0"), ErrMalformed)
	}
	if m.VoucherID <= 0 {
		return errors.Mark(errors.New("voucherId must be > 0"), ErrMalformed)
	}
	return nil
}

// Order 转成待落库的订单。
func (m OrderMessage) Order() model.VoucherOrder {
	return model.VoucherOrder{ID: m.OrderID, UserID: m.UserID, VoucherID: m.VoucherID}
}

// ParseOrderMessage 从 stream entry 的字段解析消息。
func ParseOrderMessage(values map[string]interface{}) (OrderMessage, error) {
	orderID, err := getStreamInt(values, fieldOrderID)
	if err != nil {
		return OrderMessage{}, err
	}
	userID, err := getStreamInt(values, fieldUserID)
	if err != nil {
		return OrderMessage{}, err
	}
	voucherID, err := getStreamInt(values, fieldVoucherID)
	if err != nil {
		return OrderMessage{}, err
	}

	msg := OrderMessage{OrderID: orderID, UserID: userID, VoucherID: voucherID}
	if err := msg.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return msg, nil
}

func getStreamInt(values map[string]interface{}, key string) (int64, error) {
	v, ok := values[key]
	if !ok {
		return 0, errors.Mark(errors.Newf("missing field %s", key), ErrMalformed)
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	default:
		return 0, errors.Mark(errors.Newf("unsupported field type %s: %T", key, v), ErrMalformed)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Mark(errors.Newf("invalid %s %q", key, s), ErrMalformed)
	}
	return n, nil
}

// OrderCreatedEvent 落库成功后对外发布的事件。
type OrderCreatedEvent struct {
	OrderID   int64     `json:"order_id,string"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}
