package position

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/event"
	"ordermesh/exchange"
	"ordermesh/lock"
	"ordermesh/logger"
	"ordermesh/metrics"
	"ordermesh/notify"
	"ordermesh/storage"
)

// Reconciler 周期性地从交易所拉取成交与持仓，校正本地视图
// 同一账户同一交易对的对账在多实例间由分布式锁保证只跑一份
type Reconciler struct {
	exch      exchange.IExchange
	store     storage.Storage
	locker    *lock.Locker
	notifier  *notify.NotificationService
	metrics   *metrics.PrometheusMetrics
	venue     string
	accountID string
	symbol    string
	interval  time.Duration
}

// NewReconciler 创建对账器
func NewReconciler(
	exch exchange.IExchange,
	store storage.Storage,
	locker *lock.Locker,
	notifier *notify.NotificationService,
	accountID, symbol string,
	interval time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		exch:      exch,
		store:     store,
		locker:    locker,
		notifier:  notifier,
		metrics:   metrics.GetPrometheusMetrics(),
		venue:     exch.GetName(),
		accountID: accountID,
		symbol:    symbol,
		interval:  interval,
	}
}

// Start 启动对账循环，ctx 取消后退出
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				logger.Infoln("🔄 对账器已停止")
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()
	logger.Info("🔄 对账器已启动: %s %s 间隔 %v", r.venue, r.symbol, r.interval)
}

// runOnce 执行一轮对账
func (r *Reconciler) runOnce(ctx context.Context) {
	lockKey := fmt.Sprintf("reconcile:%s:%s", r.accountID, r.symbol)
	handle, err := r.locker.TryAcquire(ctx, lockKey, 2*r.interval)
	if err != nil {
		logger.Warn("⚠️ 对账锁获取失败，跳过本轮: %v", err)
		return
	}
	if handle == nil {
		logger.Debug("对账锁被其他实例持有，跳过本轮")
		return
	}
	defer func() {
		if _, err := r.locker.Release(context.Background(), handle); err != nil {
			logger.Warn("⚠️ 释放对账锁失败: %v", err)
		}
	}()

	r.metrics.RecordReconciliation(r.venue, r.symbol)

	if err := r.pullFills(ctx); err != nil {
		logger.Error("❌ 拉取成交失败: %v", err)
		return
	}
	if err := r.rebuildClosedPositions(); err != nil {
		logger.Error("❌ 平仓回放失败: %v", err)
	}
	if err := r.resolveUnknownOrders(ctx); err != nil {
		logger.Warn("⚠️ 落定未知订单失败: %v", err)
	}
	if err := r.snapshotPositions(ctx); err != nil {
		logger.Warn("⚠️ 持仓快照失败: %v", err)
	}
}

// pullFills 增量拉取交易所成交并落库
func (r *Reconciler) pullFills(ctx context.Context) error {
	since, err := r.store.GetLastFillTime(r.venue, r.symbol)
	if err != nil {
		return err
	}

	fills, err := r.exch.GetFills(ctx, r.symbol, since)
	if err != nil {
		return err
	}
	if len(fills) == 0 {
		return nil
	}

	records := make([]*storage.FillRecord, 0, len(fills))
	for _, f := range fills {
		// 增量窗口边界上的重复成交靠唯一索引去重
		if !since.IsZero() && !f.Timestamp.After(since) {
			continue
		}
		records = append(records, &storage.FillRecord{
			TradeID:   f.TradeID,
			Exchange:  r.venue,
			OrderID:   f.OrderID,
			AccountID: r.accountID,
			Symbol:    f.Symbol,
			Side:      string(f.Side),
			Price:     f.Price.String(),
			Quantity:  f.Quantity.String(),
			Fee:       f.Fee.String(),
			FeeAsset:  f.FeeAsset,
			Timestamp: f.Timestamp,
		})
	}
	if len(records) == 0 {
		return nil
	}

	if err := r.store.SaveFills(records); err != nil {
		return err
	}
	logger.Info("🔄 新增 %d 条成交: %s %s", len(records), r.venue, r.symbol)
	return nil
}

// rebuildClosedPositions 从全量成交回放平仓记录，只落库新增的段
func (r *Reconciler) rebuildClosedPositions() error {
	records, err := r.store.GetFills(r.venue, r.symbol, time.Time{})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	fills := make([]*exchange.Fill, 0, len(records))
	for _, rec := range records {
		fills = append(fills, recordToFill(rec))
	}

	closed := ReplayFills(r.symbol, fills)
	if len(closed) == 0 {
		return nil
	}

	// 已落库的最新平仓时间之后的才是新段
	var lastClosed time.Time
	existing, err := r.store.GetClosedPositions(r.venue, r.symbol, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		lastClosed = existing[0].ClosedAt
	}

	for _, p := range closed {
		if !lastClosed.IsZero() && !p.ClosedAt.After(lastClosed) {
			continue
		}
		if err := r.store.SaveClosedPosition(&storage.ClosedPositionRecord{
			Exchange:     r.venue,
			AccountID:    r.accountID,
			Symbol:       p.Symbol,
			PositionSide: p.Direction,
			Quantity:     p.Quantity.String(),
			EntryPrice:   p.EntryPrice.String(),
			ExitPrice:    p.ExitPrice.String(),
			RealizedPnL:  p.RealizedPnL.String(),
			Fees:         p.Fees.String(),
			FillCount:    p.FillCount,
			Interleaved:  p.Interleaved,
			OpenedAt:     p.OpenedAt,
			ClosedAt:     p.ClosedAt,
		}); err != nil {
			return err
		}

		r.metrics.RecordClosedPosition(r.venue, p.Symbol)
		level := event.LevelInfo
		title := "仓位已平"
		if p.Interleaved {
			level = event.LevelWarning
			title = "仓位已平（存在交错成交，需人工复核）"
		}
		r.notifier.Notify(event.New(event.TypePositionClosed, level, title,
			fmt.Sprintf("%s %s %s 数量=%s 开仓=%s 平仓=%s 盈亏=%s",
				r.venue, p.Symbol, p.Direction, p.Quantity.String(),
				p.EntryPrice.String(), p.ExitPrice.String(), p.RealizedPnL.String())))
	}
	return nil
}

// resolveUnknownOrders 回查提交超时的订单，落定最终状态
func (r *Reconciler) resolveUnknownOrders(ctx context.Context) error {
	unknown, err := r.store.GetOrdersByState("UNKNOWN")
	if err != nil {
		return err
	}

	for _, rec := range unknown {
		id := rec.OrderID
		if id == "" {
			id = rec.ClientOrderID
		}
		order, err := r.exch.GetOrder(ctx, rec.Symbol, id)
		if err != nil {
			logger.Warn("⚠️ 回查订单 %s 失败: %v", id, err)
			continue
		}
		state := string(order.Status)
		if err := r.store.UpdateOrderState(id, state, "对账落定"); err != nil {
			return err
		}
		logger.Info("🔄 未知订单已落定: %s -> %s", id, state)
	}
	return nil
}

// snapshotPositions 用交易所持仓覆盖本地快照
func (r *Reconciler) snapshotPositions(ctx context.Context) error {
	positions, err := r.exch.GetPositions(ctx, r.symbol)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, p := range positions {
		seen[string(p.PositionSide)] = true
		if err := r.store.UpsertPosition(&storage.PositionSnapshot{
			Exchange:      r.venue,
			AccountID:     r.accountID,
			Symbol:        p.Symbol,
			PositionSide:  string(p.PositionSide),
			Quantity:      p.Quantity.String(),
			EntryPrice:    p.EntryPrice.String(),
			UnrealizedPnL: p.UnrealizedPnL.String(),
			Leverage:      p.Leverage,
			UpdatedAt:     time.Now(),
		}); err != nil {
			return err
		}
	}

	// 交易所侧已不存在的方向，清掉本地残留
	for _, side := range []string{"BOTH", "LONG", "SHORT"} {
		if !seen[side] {
			if err := r.store.DeletePosition(r.venue, r.accountID, r.symbol, side); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordToFill(rec *storage.FillRecord) *exchange.Fill {
	return &exchange.Fill{
		TradeID:   rec.TradeID,
		OrderID:   rec.OrderID,
		Symbol:    rec.Symbol,
		Side:      exchange.Side(rec.Side),
		Price:     mustDecimal(rec.Price),
		Quantity:  mustDecimal(rec.Quantity),
		Fee:       mustDecimal(rec.Fee),
		FeeAsset:  rec.FeeAsset,
		Timestamp: rec.Timestamp,
	}
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warn("⚠️ 落库数值解析失败: %q", s)
		return decimal.Zero
	}
	return d
}
