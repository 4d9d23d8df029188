package service

import "github.com/cockroachdb/errors"

// 秒杀结果对用户可见，router 按这些错误映射 HTTP 状态码。
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrSaleNotStarted    = errors.New("sale not started")
	ErrSaleEnded         = errors.New("sale ended")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrShopNotFound      = errors.New("shop not found")
	// ErrTryAgain 基础设施暂时不可用，客户端可以稍后重试。
	ErrTryAgain = errors.New("try again later")
)

func tryAgain(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrTryAgain)
}
