package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"seckill/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "seckill.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedVoucher(t *testing.T, db *gorm.DB, stock int64) *model.Voucher {
	t.Helper()
	now := time.Now()
	v := &model.Voucher{Title: "100元代金券", Stock: stock, BeginTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	require.NoError(t, NewVoucherRepository(db).Create(context.Background(), v))
	return v
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

func TestVoucherRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewVoucherRepository(db)

	v := seedVoucher(t, db, 5)
	require.NotZero(t, v.ID)

	got, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stock)
	assert.Equal(t, "100元代金券", got.Title)

	missing, err := repo.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPersistVoucherOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	vouchers := NewVoucherRepository(db)
	v := seedVoucher(t, db, 1)

	t.Run("created", func(t *testing.T) {
		out, err := orders.PersistVoucherOrder(ctx, model.VoucherOrder{ID: 1001, UserID: 7, VoucherID: v.ID})
		require.NoError(t, err)
		assert.Equal(t, model.PersistCreated, out)

		got, err := vouchers.GetByID(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Stock)

		o, err := orders.GetByID(ctx, 1001)
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, int64(7), o.UserID)
	})

	t.Run("redelivery is duplicate", func(t *testing.T) {
		out, err := orders.PersistVoucherOrder(ctx, model.VoucherOrder{ID: 1001, UserID: 7, VoucherID: v.ID})
		require.NoError(t, err)
		assert.Equal(t, model.PersistDuplicate, out)

		n, err := orders.CountByVoucher(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("sold out keeps stock at zero", func(t *testing.T) {
		out, err := orders.PersistVoucherOrder(ctx, model.VoucherOrder{ID: 1002, UserID: 8, VoucherID: v.ID})
		require.NoError(t, err)
		assert.Equal(t, model.PersistSoldOut, out)

		got, err := vouchers.GetByID(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Stock)

		o, err := orders.GetByID(ctx, 1002)
		require.NoError(t, err)
		assert.Nil(t, o)
	})
}

func TestPersistVoucherOrderConcurrentNoOversell(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	v := seedVoucher(t, db, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			out, err := orders.PersistVoucherOrder(ctx, model.VoucherOrder{ID: 2000 + uid, UserID: uid, VoucherID: v.ID})
			if !assert.NoError(t, err) {
				return
			}
			if out == model.PersistCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	got, err := NewVoucherRepository(db).GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)
}

func TestShopRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewShopRepository(newTestDB(t))

	s := &model.Shop{Name: "103茶餐厅", TypeID: 1, Address: "金华路锦昌文华苑29号", AvgPrice: 8000, Score: 3.7}
	require.NoError(t, repo.Create(ctx, s))

	s.Name = "103茶餐厅(新店)"
	require.NoError(t, repo.Update(ctx, s))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "103茶餐厅(新店)", got.Name)

	err = repo.Update(ctx, &model.Shop{ID: 404, Name: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))

	missing, err := repo.GetByID(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
