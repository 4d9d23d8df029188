package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errInsertConflict 插入时撞上唯一索引，用来回滚同一事务里的扣库存。
var errInsertConflict = errors.New("voucher order insert conflict")

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// PersistVoucherOrder 在一个事务内：查重 → 条件扣减库存 → 插入订单。
// 同一订单重复投递返回 PersistDuplicate，库存只扣一次。
func (r *OrderRepository) PersistVoucherOrder(ctx context.Context, o model.VoucherOrder) (model.PersistOutcome, error) {
	outcome := model.PersistCreated
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 一人一单
		var n int64
		if err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", o.UserID, o.VoucherID).
			Count(&n).Error; err != nil {
			return errors.Wrap(err, "count orders")
		}
		if n > 0 {
			outcome = model.PersistDuplicate
			return nil
		}

		// 2. 乐观扣减：stock > 0 才扣
		res := tx.Model(&model.Voucher{}).
			Where("id = ? AND stock > 0", o.VoucherID).
			Update("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return errors.Wrap(res.Error, "decrement stock")
		}
		if res.RowsAffected == 0 {
			outcome = model.PersistSoldOut
			return nil
		}

		// 3. 插入；唯一索引冲突说明并发写入了同一用户的订单
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&o)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert order")
		}
		if res.RowsAffected == 0 {
			return errInsertConflict
		}
		return nil
	})
	if errors.Is(err, errInsertConflict) {
		return model.PersistDuplicate, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "persist order %d", o.ID)
	}
	return outcome, nil
}

// GetByID 不存在返回 (nil, nil)，订单可能还在队列里。
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.VoucherOrder, error) {
	var o model.VoucherOrder
	err := r.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

// CountByVoucher 已落库订单数。
func (r *OrderRepository) CountByVoucher(ctx context.Context, voucherID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("voucher_id = ?", voucherID).Count(&n).Error; err != nil {
		return 0, errors.Wrapf(err, "count orders of voucher %d", voucherID)
	}
	return n, nil
}
