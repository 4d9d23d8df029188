// Package repository 是 gorm 持久层：秒杀券、订单、商铺。
package repository

import (
	"seckill/internal/model"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound 写操作找不到目标记录。读操作用 (nil, nil) 表示不存在。
var ErrNotFound = errors.New("repository: record not found")

// Open 连接数据库并自动建表。driver 取 sqlite 或 mysql。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if driver == "mysql" {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
	} else {
		// sqlite 单写者，多连接只会换来 database is locked
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.Voucher{}, &model.VoucherOrder{}, &model.Shop{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return db, nil
}
