package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) Create(ctx context.Context, v *model.Voucher) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return errors.Wrap(err, "create voucher")
	}
	return nil
}

// GetByID 不存在返回 (nil, nil)。
func (r *VoucherRepository) GetByID(ctx context.Context, id int64) (*model.Voucher, error) {
	var v model.Voucher
	err := r.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get voucher %d", id)
	}
	return &v, nil
}
