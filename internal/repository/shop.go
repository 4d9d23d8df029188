package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

func (r *ShopRepository) Create(ctx context.Context, s *model.Shop) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return errors.Wrap(err, "create shop")
	}
	return nil
}

// GetByID 不存在返回 (nil, nil)。
func (r *ShopRepository) GetByID(ctx context.Context, id int64) (*model.Shop, error) {
	var s model.Shop
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get shop %d", id)
	}
	return &s, nil
}

// Update 全量更新可编辑字段，记录不存在返回 ErrNotFound。
func (r *ShopRepository) Update(ctx context.Context, s *model.Shop) error {
	res := r.db.WithContext(ctx).Model(&model.Shop{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"name":      s.Name,
			"type_id":   s.TypeID,
			"address":   s.Address,
			"avg_price": s.AvgPrice,
			"score":     s.Score,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update shop %d", s.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "shop %d", s.ID)
	}
	return nil
}
