package model

import "time"

// VoucherOrder 秒杀订单。ID 由 Redis ID 生成器分配，不用自增。
// (user_id, voucher_id) 唯一索引是一人一单的最终保证。
type VoucherOrder struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_user_voucher,priority:1" json:"user_id"`
	VoucherID int64     `gorm:"not null;uniqueIndex:idx_user_voucher,priority:2;index" json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (VoucherOrder) TableName() string { return "voucher_orders" }

// PersistOutcome 落单结果。Duplicate / SoldOut 是已处理的拒绝，不需要重试。
type PersistOutcome int

const (
	PersistCreated PersistOutcome = iota
	PersistDuplicate
	PersistSoldOut
)

func (o PersistOutcome) String() string {
	switch o {
	case PersistCreated:
		return "created"
	case PersistDuplicate:
		return "duplicate"
	case PersistSoldOut:
		return "sold_out"
	default:
		return "unknown"
	}
}
