package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"ordermesh/breaker"
	"ordermesh/event"
	"ordermesh/exchange"
	"ordermesh/lock"
	"ordermesh/logger"
	"ordermesh/metrics"
	"ordermesh/notify"
	"ordermesh/ratelimit"
	"ordermesh/storage"
)

// ErrRateLimited 限流拒绝
var ErrRateLimited = errors.New("请求超出限流窗口")

// ErrOutcomeUnknown 提交超时，订单结果不明，等待对账落定
var ErrOutcomeUnknown = errors.New("下单结果不明")

// Result 一次执行的完整结果
type Result struct {
	Entry          *exchange.Order
	StopLossOrder  *exchange.Order
	TakeProfitOrder *exchange.Order
	Degraded       bool   // 入场成交但保护腿挂单失败
	DegradedReason string
}

// Config 执行器配置
type Config struct {
	Exchange       string
	AccountID      string
	PositionMode   string // net / hedge
	DefaultLeverage int
	LockTTL        time.Duration
	LockWait       time.Duration
	RequestTimeout time.Duration
}

// Executor 订单执行器
// 单次提交串起 限流 -> 分布式锁 -> 精度规范化 -> 熔断保护的交易所外呼
type Executor struct {
	cfg      Config
	exch     exchange.IExchange
	locker   *lock.Locker
	brk      *breaker.Breaker
	limiter  *ratelimit.Limiter
	store    storage.Storage
	notifier *notify.NotificationService
	metrics  *metrics.PrometheusMetrics

	// 进程内令牌桶，在分布式限流之前拦掉本进程的突发
	local *rate.Limiter

	// 精度约束缓存，交易规则变化缓慢
	filters   *exchange.SymbolFilters
	filtersAt time.Time
}

// NewExecutor 创建执行器
func NewExecutor(
	cfg Config,
	exch exchange.IExchange,
	locker *lock.Locker,
	brk *breaker.Breaker,
	limiter *ratelimit.Limiter,
	store storage.Storage,
	notifier *notify.NotificationService,
) *Executor {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &Executor{
		cfg:      cfg,
		exch:     exch,
		locker:   locker,
		brk:      brk,
		limiter:  limiter,
		store:    store,
		notifier: notifier,
		metrics:  metrics.GetPrometheusMetrics(),
		local:    rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

// Execute 执行一次下单意图
// 持锁期间至多发起一次入场提交，锁等待超时直接拒绝而不是排队
func (e *Executor) Execute(ctx context.Context, req *exchange.OrderRequest) (*Result, error) {
	started := time.Now()
	machine := NewMachine()
	if req.ClientOrderID == "" {
		req.ClientOrderID = fmt.Sprintf("om-%d", time.Now().UnixNano())
	}

	if !e.local.Allow() {
		e.metrics.RecordRateLimitRejected("local")
		return nil, ErrRateLimited
	}

	rlResult, err := e.limiter.Check(ctx, e.cfg.AccountID, "order")
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}
	if !rlResult.Allowed {
		e.metrics.RecordRateLimitRejected("order")
		logger.Warn("🚦 下单被限流: account=%s 封禁剩余=%v", e.cfg.AccountID, rlResult.BlockedFor)
		return nil, fmt.Errorf("%w: 封禁剩余 %v", ErrRateLimited, rlResult.BlockedFor)
	}

	if err := e.validate(req); err != nil {
		machine.Transition(StateRejected)
		e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), "validation")
		return nil, err
	}

	lockKey := fmt.Sprintf("submit:%s:%s", e.cfg.AccountID, req.Symbol)
	handle, err := e.locker.Acquire(ctx, lockKey, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrContention) {
			e.metrics.RecordLockAcquire("contention")
			logger.Warn("🔒 提交锁竞争失败: %s", lockKey)
			return nil, fmt.Errorf("同账户同交易对已有提交进行中: %w", err)
		}
		e.metrics.RecordLockAcquire("error")
		return nil, fmt.Errorf("获取提交锁失败: %w", err)
	}
	e.metrics.RecordLockAcquire("acquired")
	lockedAt := time.Now()
	defer func() {
		e.metrics.RecordLockHoldDuration(time.Since(lockedAt))
		if _, err := e.locker.Release(context.Background(), handle); err != nil {
			logger.Warn("⚠️ 释放提交锁失败: %v", err)
		}
	}()

	filters, err := e.symbolFilters(ctx, req.Symbol)
	if err != nil {
		logger.Warn("⚠️ 获取精度约束失败，保守放行: %v", err)
	}
	raised, err := exchange.NormalizeRequest(req, filters)
	if err != nil {
		machine.Transition(StateRejected)
		e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), "precision")
		return nil, err
	}
	if raised {
		logger.Warn("⚠️ 下单数量已抬升至最小数量: %s %s", req.Symbol, req.Quantity.String())
	}
	machine.Transition(StateNormalized)

	// 杠杆设置失败时中止，避免以错误的杠杆建仓
	leverage := req.Leverage
	if leverage == 0 {
		leverage = e.cfg.DefaultLeverage
	}
	if leverage > 0 {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		err := e.brk.Execute(callCtx, func(ctx context.Context) error {
			callStart := time.Now()
			levErr := e.exch.SetLeverage(ctx, req.Symbol, leverage)
			e.metrics.RecordAPICall(e.cfg.Exchange, "set_leverage", callStatus(levErr), time.Since(callStart))
			return levErr
		})
		cancel()
		if err != nil {
			machine.Transition(StateFailed)
			e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), "leverage")
			return nil, fmt.Errorf("设置杠杆失败，中止下单: %w", err)
		}
	}

	entry, err := e.submitEntry(ctx, machine, req)
	if err != nil {
		e.metrics.RecordOrderDuration(e.cfg.Exchange, req.Symbol, time.Since(started))
		return nil, err
	}

	result := &Result{Entry: entry}
	if entry.Status == exchange.OrderStatusFilled || entry.Status == exchange.OrderStatusPartiallyFilled {
		e.placeProtectiveLegs(ctx, req, entry, result)
	}

	e.metrics.RecordOrder(e.cfg.Exchange, req.Symbol, string(req.Side), string(entry.Status))
	e.metrics.RecordOrderDuration(e.cfg.Exchange, req.Symbol, time.Since(started))
	return result, nil
}

// validate 校验下单意图与持仓模式的一致性
func (e *Executor) validate(req *exchange.OrderRequest) error {
	if req.Symbol == "" {
		return &exchange.ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	if req.Side != exchange.SideBuy && req.Side != exchange.SideSell {
		return &exchange.ValidationError{Field: "side", Reason: "必须为 BUY 或 SELL"}
	}
	switch req.Type {
	case exchange.OrderTypeMarket, exchange.OrderTypeLimit:
	default:
		return &exchange.ValidationError{Field: "type", Reason: "入场单仅支持 MARKET / LIMIT"}
	}
	if req.Type == exchange.OrderTypeLimit && req.Price.Sign() <= 0 {
		return &exchange.ValidationError{Field: "price", Reason: "限价单必须带价格"}
	}

	if e.cfg.PositionMode == "hedge" {
		if req.PositionSide != exchange.PositionSideLong && req.PositionSide != exchange.PositionSideShort {
			return &exchange.ValidationError{Field: "position_side", Reason: "双向持仓模式必须指定 LONG 或 SHORT"}
		}
		// 双向持仓模式下 reduceOnly 与 positionSide 互斥，开平由方向组合表达
		if req.ReduceOnly {
			return &exchange.ValidationError{Field: "reduce_only", Reason: "双向持仓模式不允许 reduceOnly"}
		}
	} else {
		req.PositionSide = exchange.PositionSideBoth
	}

	if req.StopLoss.Sign() > 0 && req.TakeProfit.Sign() > 0 {
		if req.Side == exchange.SideBuy && req.StopLoss.GreaterThanOrEqual(req.TakeProfit) {
			return &exchange.ValidationError{Field: "stop_loss", Reason: "多头止损必须低于止盈"}
		}
		if req.Side == exchange.SideSell && req.StopLoss.LessThanOrEqual(req.TakeProfit) {
			return &exchange.ValidationError{Field: "stop_loss", Reason: "空头止损必须高于止盈"}
		}
	}
	return nil
}

// submitEntry 提交入场单
// 超时视为结果不明，订单记为 UNKNOWN 留给对账落定，绝不自动重发
func (e *Executor) submitEntry(ctx context.Context, machine *Machine, req *exchange.OrderRequest) (*exchange.Order, error) {
	machine.Transition(StateSubmitted)
	e.persistOrder(req, "", "", string(StateSubmitted), "")

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	var entry *exchange.Order
	err := e.brk.Execute(callCtx, func(ctx context.Context) error {
		callStart := time.Now()
		var placeErr error
		entry, placeErr = e.exch.PlaceOrder(ctx, req)
		e.metrics.RecordAPICall(e.cfg.Exchange, "place_order", callStatus(placeErr), time.Since(callStart))
		return placeErr
	})
	if err != nil {
		var openErr *breaker.CircuitOpenError
		if errors.As(err, &openErr) {
			e.metrics.SetCircuitState(e.cfg.Exchange, "OPEN")
			e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), "circuit_open")
			e.updateOrderState(req.ClientOrderID, string(StateRejected), "熔断器打开")
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.updateOrderState(req.ClientOrderID, string(StateUnknown), "提交超时")
			machine.Transition(StateUnknown)
			e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), "timeout")
			logger.Error("❌ 下单超时，结果不明，等待对账: %s %s", req.Symbol, req.ClientOrderID)
			return nil, fmt.Errorf("%w: %s", ErrOutcomeUnknown, req.ClientOrderID)
		}

		machine.Transition(StateRejected)
		e.updateOrderState(req.ClientOrderID, string(StateRejected), err.Error())
		e.metrics.RecordOrderFailure(e.cfg.Exchange, req.Symbol, string(req.Side), classify(err))
		e.notifier.Notify(event.New(event.TypeOrderRejected, event.LevelWarning,
			"下单被拒绝", fmt.Sprintf("%s %s %s: %v", e.cfg.Exchange, req.Symbol, req.Side, err)))
		return nil, err
	}

	switch entry.Status {
	case exchange.OrderStatusFilled:
		machine.Transition(StateFilled)
	case exchange.OrderStatusPartiallyFilled:
		machine.Transition(StatePartiallyFilled)
	case exchange.OrderStatusRejected:
		machine.Transition(StateRejected)
	}
	e.updateOrderState(req.ClientOrderID, string(machine.Current()), "")
	if entry.OrderID != "" {
		e.updateOrderID(req.ClientOrderID, entry.OrderID)
	}

	if entry.Status == exchange.OrderStatusFilled {
		e.notifier.Notify(event.New(event.TypeOrderFilled, event.LevelInfo,
			"订单成交", fmt.Sprintf("%s %s %s 数量=%s 均价=%s",
				e.cfg.Exchange, entry.Symbol, entry.Side, entry.ExecutedQty.String(), entry.AvgPrice.String())))
	}
	return entry, nil
}

// placeProtectiveLegs 入场成交后挂保护性止损/止盈
// 任一腿失败记为降级成功：入场保留，告警提示人工补挂
func (e *Executor) placeProtectiveLegs(ctx context.Context, req *exchange.OrderRequest, entry *exchange.Order, result *Result) {
	closeSide := req.Side.Opposite()

	if req.StopLoss.Sign() > 0 {
		leg := e.legRequest(req, closeSide, exchange.OrderTypeStopMarket)
		order, err := e.placeLeg(ctx, leg, "stop_loss", entry.OrderID)
		if err != nil {
			result.Degraded = true
			result.DegradedReason = fmt.Sprintf("止损腿挂单失败: %v", err)
		} else {
			result.StopLossOrder = order
		}
	}

	if req.TakeProfit.Sign() > 0 {
		leg := e.legRequest(req, closeSide, exchange.OrderTypeTakeProfit)
		order, err := e.placeLeg(ctx, leg, "take_profit", entry.OrderID)
		if err != nil {
			result.Degraded = true
			if result.DegradedReason != "" {
				result.DegradedReason += "; "
			}
			result.DegradedReason += fmt.Sprintf("止盈腿挂单失败: %v", err)
		} else {
			result.TakeProfitOrder = order
		}
	}

	if result.Degraded {
		e.metrics.RecordDegradedSuccess(e.cfg.Exchange, req.Symbol)
		logger.Warn("⚠️ 降级成功: 入场已成交但保护腿不完整 %s %s: %s",
			req.Symbol, entry.OrderID, result.DegradedReason)
		e.notifier.Notify(event.New(event.TypeDegradedSuccess, event.LevelCritical,
			"保护腿挂单失败", fmt.Sprintf("%s %s 入场单 %s 已成交，%s",
				e.cfg.Exchange, req.Symbol, entry.OrderID, result.DegradedReason)))
	}
}

// legRequest 构造保护腿请求
// 双向持仓模式沿用入场的 positionSide，净头寸模式用 reduceOnly 防止反向开仓
func (e *Executor) legRequest(req *exchange.OrderRequest, side exchange.Side, legType exchange.OrderType) *exchange.OrderRequest {
	leg := &exchange.OrderRequest{
		Symbol:        req.Symbol,
		Side:          side,
		Type:          legType,
		ClosePosition: true,
		PositionSide:  req.PositionSide,
	}
	leg.StopPrice = req.StopLoss
	if legType == exchange.OrderTypeTakeProfit {
		leg.StopPrice = req.TakeProfit
	}
	if e.cfg.PositionMode != "hedge" {
		leg.ReduceOnly = true
	}
	return leg
}

// placeLeg 挂单一条保护腿，腿状态机独立于父单
func (e *Executor) placeLeg(ctx context.Context, leg *exchange.OrderRequest, legType, parentOrderID string) (*exchange.Order, error) {
	machine := NewMachine()
	machine.Transition(StateNormalized)
	machine.Transition(StateSubmitted)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	var order *exchange.Order
	err := e.brk.Execute(callCtx, func(ctx context.Context) error {
		callStart := time.Now()
		var placeErr error
		order, placeErr = e.exch.PlaceOrder(ctx, leg)
		e.metrics.RecordAPICall(e.cfg.Exchange, "place_order", callStatus(placeErr), time.Since(callStart))
		return placeErr
	})
	if err != nil {
		machine.Transition(StateFailed)
		e.persistLeg(leg, parentOrderID, legType, "", string(StateFailed), err.Error())
		return nil, err
	}

	e.persistLeg(leg, parentOrderID, legType, order.OrderID, string(StateSubmitted), "")
	logger.Info("🛡️ 保护腿已挂: %s %s 触发价=%s", leg.Symbol, legType, leg.StopPrice.String())
	return order, nil
}

// symbolFilters 带缓存地获取精度约束
func (e *Executor) symbolFilters(ctx context.Context, symbol string) (*exchange.SymbolFilters, error) {
	if e.filters != nil && e.filters.Symbol == symbol && time.Since(e.filtersAt) < 10*time.Minute {
		return e.filters, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	filters, err := e.exch.GetSymbolFilters(callCtx, symbol)
	if err != nil {
		// 缓存过期但仍可用时继续沿用
		if e.filters != nil && e.filters.Symbol == symbol {
			return e.filters, nil
		}
		return nil, err
	}

	e.filters = filters
	e.filtersAt = time.Now()
	return filters, nil
}

func (e *Executor) persistOrder(req *exchange.OrderRequest, orderID, legType, state, reason string) {
	if e.store == nil {
		return
	}
	record := &storage.OrderRecord{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Exchange:      e.cfg.Exchange,
		AccountID:     e.cfg.AccountID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		State:         state,
		Quantity:      req.Quantity.String(),
		Price:         req.Price.String(),
		LegType:       legType,
		Reason:        reason,
	}
	if err := e.store.SaveOrder(record); err != nil {
		logger.Warn("⚠️ 订单落库失败: %v", err)
	}
}

func (e *Executor) persistLeg(leg *exchange.OrderRequest, parentOrderID, legType, orderID, state, reason string) {
	if e.store == nil {
		return
	}
	record := &storage.OrderRecord{
		OrderID:       orderID,
		ParentOrderID: parentOrderID,
		Exchange:      e.cfg.Exchange,
		AccountID:     e.cfg.AccountID,
		Symbol:        leg.Symbol,
		Side:          string(leg.Side),
		Type:          string(leg.Type),
		State:         state,
		Quantity:      leg.Quantity.String(),
		Price:         leg.StopPrice.String(),
		LegType:       legType,
		Reason:        reason,
	}
	if err := e.store.SaveOrder(record); err != nil {
		logger.Warn("⚠️ 保护腿落库失败: %v", err)
	}
}

func (e *Executor) updateOrderState(clientOrderID, state, reason string) {
	if e.store == nil || clientOrderID == "" {
		return
	}
	if err := e.store.UpdateOrderState(clientOrderID, state, reason); err != nil {
		logger.Warn("⚠️ 更新订单状态失败: %v", err)
	}
}

func (e *Executor) updateOrderID(clientOrderID, orderID string) {
	if e.store == nil || clientOrderID == "" || orderID == "" {
		return
	}
	if err := e.store.SetExchangeOrderID(clientOrderID, orderID); err != nil {
		logger.Warn("⚠️ 回填订单号失败: %v", err)
	}
}

// callStatus 外呼结果的指标标签
func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// classify 将错误归入指标维度
func classify(err error) string {
	switch {
	case exchange.IsAuth(err):
		return "auth"
	case exchange.IsTransient(err):
		return "transient"
	case exchange.IsRejected(err):
		return "rejected"
	}
	return "other"
}
