package model

import "time"

// Shop 商铺，读多写少，走缓存。
type Shop struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string  `gorm:"size:128;not null" json:"name"`
	TypeID   int64   `gorm:"not null;index" json:"type_id"`
	Address  string  `gorm:"size:255" json:"address"`
	AvgPrice int64   `json:"avg_price"` // 单位：分
	Score    float64 `json:"score"`
}

func (Shop) TableName() string { return "shops" }
