package storage

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ordermesh/config"
	"ordermesh/logger"
)

// Storage 持久化接口
type Storage interface {
	SaveOrder(record *OrderRecord) error
	UpdateOrderState(orderID, state, reason string) error
	SetExchangeOrderID(clientOrderID, orderID string) error
	GetOrder(orderID string) (*OrderRecord, error)
	GetOrdersByState(state string) ([]*OrderRecord, error)

	SaveFills(fills []*FillRecord) error
	GetFills(exchange, symbol string, since time.Time) ([]*FillRecord, error)
	GetLastFillTime(exchange, symbol string) (time.Time, error)

	UpsertPosition(snapshot *PositionSnapshot) error
	DeletePosition(exchange, accountID, symbol, positionSide string) error
	SaveClosedPosition(record *ClosedPositionRecord) error
	GetClosedPositions(exchange, symbol string, limit int) ([]*ClosedPositionRecord, error)

	Close() error
}

// GormStorage 基于 GORM 的持久化实现
type GormStorage struct {
	db *gorm.DB
}

// NewStorage 根据配置创建持久化实例
func NewStorage(cfg *config.DatabaseConfig) (Storage, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "ordermesh.db"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 || cfg.MaxIdleConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取连接池失败: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	if err := db.AutoMigrate(
		&OrderRecord{},
		&FillRecord{},
		&PositionSnapshot{},
		&ClosedPositionRecord{},
	); err != nil {
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}

	logger.Info("✅ 数据库已连接: %s", cfg.Type)
	return &GormStorage{db: db}, nil
}

// SaveOrder 保存订单记录
func (s *GormStorage) SaveOrder(record *OrderRecord) error {
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("保存订单失败: %w", err)
	}
	return nil
}

// UpdateOrderState 更新订单状态
// 交易所订单号和客户端订单号都可定位记录
func (s *GormStorage) UpdateOrderState(orderID, state, reason string) error {
	updates := map[string]interface{}{"state": state}
	if reason != "" {
		updates["reason"] = reason
	}
	err := s.db.Model(&OrderRecord{}).
		Where("order_id = ? OR client_order_id = ?", orderID, orderID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("更新订单状态失败: %w", err)
	}
	return nil
}

// SetExchangeOrderID 回填交易所订单号
func (s *GormStorage) SetExchangeOrderID(clientOrderID, orderID string) error {
	err := s.db.Model(&OrderRecord{}).
		Where("client_order_id = ?", clientOrderID).
		Update("order_id", orderID).Error
	if err != nil {
		return fmt.Errorf("回填订单号失败: %w", err)
	}
	return nil
}

// GetOrder 查询订单记录，交易所订单号和客户端订单号均可
func (s *GormStorage) GetOrder(orderID string) (*OrderRecord, error) {
	var record OrderRecord
	err := s.db.Where("order_id = ? OR client_order_id = ?", orderID, orderID).First(&record).Error
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	return &record, nil
}

// GetOrdersByState 按状态查询订单
func (s *GormStorage) GetOrdersByState(state string) ([]*OrderRecord, error) {
	var records []*OrderRecord
	err := s.db.Where("state = ?", state).Order("created_at asc").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	return records, nil
}

// SaveFills 批量保存成交记录，幂等，冲突跳过
func (s *GormStorage) SaveFills(fills []*FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	err := s.db.Save(fills).Error
	if err != nil {
		return fmt.Errorf("保存成交记录失败: %w", err)
	}
	return nil
}

// GetFills 查询 since 之后的成交记录，按时间升序
func (s *GormStorage) GetFills(exchange, symbol string, since time.Time) ([]*FillRecord, error) {
	var fills []*FillRecord
	q := s.db.Where("exchange = ? AND symbol = ?", exchange, symbol)
	if !since.IsZero() {
		q = q.Where("timestamp > ?", since)
	}
	if err := q.Order("timestamp asc, id asc").Find(&fills).Error; err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	return fills, nil
}

// GetLastFillTime 查询最近一条成交的时间，用于增量拉取
func (s *GormStorage) GetLastFillTime(exchange, symbol string) (time.Time, error) {
	var fill FillRecord
	err := s.db.Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("timestamp desc").First(&fill).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("查询最近成交失败: %w", err)
	}
	return fill.Timestamp, nil
}

// UpsertPosition 更新或插入持仓快照
func (s *GormStorage) UpsertPosition(snapshot *PositionSnapshot) error {
	var existing PositionSnapshot
	err := s.db.Where(
		"exchange = ? AND account_id = ? AND symbol = ? AND position_side = ?",
		snapshot.Exchange, snapshot.AccountID, snapshot.Symbol, snapshot.PositionSide,
	).First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		if err := s.db.Create(snapshot).Error; err != nil {
			return fmt.Errorf("插入持仓快照失败: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询持仓快照失败: %w", err)
	}

	snapshot.ID = existing.ID
	if err := s.db.Save(snapshot).Error; err != nil {
		return fmt.Errorf("更新持仓快照失败: %w", err)
	}
	return nil
}

// DeletePosition 删除持仓快照
func (s *GormStorage) DeletePosition(exchange, accountID, symbol, positionSide string) error {
	err := s.db.Where(
		"exchange = ? AND account_id = ? AND symbol = ? AND position_side = ?",
		exchange, accountID, symbol, positionSide,
	).Delete(&PositionSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("删除持仓快照失败: %w", err)
	}
	return nil
}

// SaveClosedPosition 保存平仓记录
func (s *GormStorage) SaveClosedPosition(record *ClosedPositionRecord) error {
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("保存平仓记录失败: %w", err)
	}
	return nil
}

// GetClosedPositions 查询平仓记录，按平仓时间倒序
func (s *GormStorage) GetClosedPositions(exchange, symbol string, limit int) ([]*ClosedPositionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*ClosedPositionRecord
	err := s.db.Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("closed_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询平仓记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭数据库连接
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
