package model

import (
	"time"

	"gorm.io/gorm"
)

// Voucher 秒杀券：库存 + 秒杀时间窗 [BeginTime, EndTime)
type Voucher struct {
	ID        int64          `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title string `gorm:"size:255;not null" json:"title"`
	// Stock 是 DB 中的权威库存；秒杀时的快速判定走 Redis 计数器。
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Voucher) TableName() string { return "vouchers" }

// Started 是否已到开始时间。
func (v *Voucher) Started(now time.Time) bool { return !now.Before(v.BeginTime) }

// Ended 结束时间本身已不可抢。
func (v *Voucher) Ended(now time.Time) bool { return !now.Before(v.EndTime) }
