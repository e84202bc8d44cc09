package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/breaker"
	"ordermesh/config"
	"ordermesh/coordination"
	"ordermesh/exchange"
	"ordermesh/lock"
	"ordermesh/notify"
	"ordermesh/ratelimit"
)

// fakeExchange 记录收到的请求并按脚本响应
type fakeExchange struct {
	mu           sync.Mutex
	placed       []*exchange.OrderRequest
	leverageSet  []int
	filters      *exchange.SymbolFilters
	placeErr     map[int]error // 第 n 次 PlaceOrder 返回的错误
	leverageErr  error
	placeDelay   time.Duration
	entryStatus  exchange.OrderStatus
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		filters: &exchange.SymbolFilters{
			Symbol:   "BTCUSDT",
			StepSize: decimal.RequireFromString("0.001"),
			TickSize: decimal.RequireFromString("0.10"),
			MinQty:   decimal.RequireFromString("0.001"),
		},
		placeErr:    map[int]error{},
		entryStatus: exchange.OrderStatusFilled,
	}
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) GetSymbolFilters(ctx context.Context, symbol string) (*exchange.SymbolFilters, error) {
	return f.filters, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	if f.placeDelay > 0 {
		select {
		case <-time.After(f.placeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.placed)
	f.placed = append(f.placed, req)
	if err, ok := f.placeErr[n]; ok {
		return nil, err
	}
	return &exchange.Order{
		OrderID:       "ord-1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        f.entryStatus,
		Quantity:      req.Quantity,
		ExecutedQty:   req.Quantity,
		AvgPrice:      decimal.RequireFromString("50000"),
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeExchange) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	return nil, errors.New("未实现")
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	return nil, nil
}
func (f *fakeExchange) GetPositions(ctx context.Context, symbol string) ([]*exchange.Position, error) {
	return nil, nil
}
func (f *fakeExchange) GetFills(ctx context.Context, symbol string, since time.Time) ([]*exchange.Fill, error) {
	return nil, nil
}
func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leverageErr != nil {
		return f.leverageErr
	}
	f.leverageSet = append(f.leverageSet, leverage)
	return nil
}

func (f *fakeExchange) placedRequests() []*exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*exchange.OrderRequest(nil), f.placed...)
}

type executorFixture struct {
	executor *Executor
	fake     *fakeExchange
	store    coordination.Store
	locker   *lock.Locker
}

func newFixture(t *testing.T, mode string) *executorFixture {
	t.Helper()
	fake := newFakeExchange()
	store := coordination.NewMemoryStore()
	locker := lock.NewLocker(store, "test:")
	brk := breaker.New(store, "fake", breaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
	})
	limiter := ratelimit.New(store, ratelimit.Config{
		MaxRequests: 100,
		Window:      time.Minute,
		Block:       5 * time.Minute,
	})
	notifier := notify.NewNotificationService(&config.Config{})

	executor := NewExecutor(Config{
		Exchange:       "fake",
		AccountID:      "acct-1",
		PositionMode:   mode,
		LockTTL:        5 * time.Second,
		LockWait:       200 * time.Millisecond,
		RequestTimeout: time.Second,
	}, fake, locker, brk, limiter, nil, notifier)

	return &executorFixture{executor: executor, fake: fake, store: store, locker: locker}
}

func marketBuy() *exchange.OrderRequest {
	return &exchange.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       exchange.SideBuy,
		Type:       exchange.OrderTypeMarket,
		Quantity:   decimal.RequireFromString("0.1234"),
		StopLoss:   decimal.RequireFromString("49000.05"),
		TakeProfit: decimal.RequireFromString("52000.05"),
	}
}

func TestExecutePlacesEntryAndLegs(t *testing.T) {
	fx := newFixture(t, "net")

	result, err := fx.executor.Execute(context.Background(), marketBuy())
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if result.Degraded {
		t.Errorf("不应降级: %s", result.DegradedReason)
	}

	placed := fx.fake.placedRequests()
	if len(placed) != 3 {
		t.Fatalf("期望入场 + 两条保护腿共 3 次下单，实际 %d", len(placed))
	}

	entry := placed[0]
	if !entry.Quantity.Equal(decimal.RequireFromString("0.124")) {
		t.Errorf("数量应规范化为 0.124，实际 %s", entry.Quantity.String())
	}

	sl, tp := placed[1], placed[2]
	if sl.Type != exchange.OrderTypeStopMarket || tp.Type != exchange.OrderTypeTakeProfit {
		t.Errorf("保护腿类型错误: %s / %s", sl.Type, tp.Type)
	}
	if sl.Side != exchange.SideSell || tp.Side != exchange.SideSell {
		t.Error("多头的保护腿应为卖出方向")
	}
	if !sl.ReduceOnly || !tp.ReduceOnly {
		t.Error("净头寸模式的保护腿必须 reduceOnly")
	}
	if !sl.StopPrice.Equal(decimal.RequireFromString("49000.00")) {
		t.Errorf("止损触发价应按最小变动价位向下对齐: %s", sl.StopPrice.String())
	}
}

func TestHedgeModeLegsNeverCombinePositionSideAndReduceOnly(t *testing.T) {
	fx := newFixture(t, "hedge")

	req := marketBuy()
	req.PositionSide = exchange.PositionSideLong

	if _, err := fx.executor.Execute(context.Background(), req); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	for _, placed := range fx.fake.placedRequests() {
		if placed.PositionSide == exchange.PositionSideLong && placed.ReduceOnly {
			t.Fatal("positionSide 与 reduceOnly 不允许同时出现")
		}
	}
	legs := fx.fake.placedRequests()[1:]
	for _, leg := range legs {
		if leg.PositionSide != exchange.PositionSideLong {
			t.Errorf("双向持仓模式保护腿应沿用入场方向: %s", leg.PositionSide)
		}
		if leg.ReduceOnly {
			t.Error("双向持仓模式保护腿不应设置 reduceOnly")
		}
	}
}

func TestHedgeModeRejectsReduceOnlyIntent(t *testing.T) {
	fx := newFixture(t, "hedge")

	req := marketBuy()
	req.PositionSide = exchange.PositionSideLong
	req.ReduceOnly = true

	_, err := fx.executor.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("双向持仓模式下 reduceOnly 意图应被拒绝")
	}
	var ve *exchange.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("期望 ValidationError，实际 %T", err)
	}
	if len(fx.fake.placedRequests()) != 0 {
		t.Error("校验失败不应触达交易所")
	}
}

func TestLegFailureIsDegradedSuccess(t *testing.T) {
	fx := newFixture(t, "net")
	// 第二次下单（止损腿）失败
	fx.fake.placeErr[1] = errors.New("insufficient margin")

	result, err := fx.executor.Execute(context.Background(), marketBuy())
	if err != nil {
		t.Fatalf("入场成交后腿失败不应整体报错: %v", err)
	}
	if !result.Degraded {
		t.Fatal("止损腿失败应标记为降级成功")
	}
	if result.Entry == nil || result.Entry.Status != exchange.OrderStatusFilled {
		t.Error("入场单应保留")
	}
	if result.StopLossOrder != nil {
		t.Error("失败的止损腿不应有回执")
	}
	if result.TakeProfitOrder == nil {
		t.Error("止盈腿应继续尝试并成功")
	}
}

func TestLeverageFailureAborts(t *testing.T) {
	fx := newFixture(t, "net")
	fx.fake.leverageErr = errors.New("leverage rejected")

	req := marketBuy()
	req.Leverage = 10

	_, err := fx.executor.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("杠杆设置失败应中止下单")
	}
	if len(fx.fake.placedRequests()) != 0 {
		t.Error("杠杆失败后不应提交入场单")
	}
}

func TestLockContentionRejects(t *testing.T) {
	fx := newFixture(t, "net")

	// 另一持有者先占住提交锁
	other := lock.NewLocker(fx.store, "test:")
	handle, err := other.TryAcquire(context.Background(), "submit:acct-1:BTCUSDT", 10*time.Second)
	if err != nil || handle == nil {
		t.Fatalf("预占锁失败: %v", err)
	}

	_, err = fx.executor.Execute(context.Background(), marketBuy())
	if !errors.Is(err, lock.ErrContention) {
		t.Fatalf("期望锁竞争错误，实际 %v", err)
	}
	if len(fx.fake.placedRequests()) != 0 {
		t.Error("未持锁不允许提交")
	}
}

func TestSubmitTimeoutIsUnknownOutcome(t *testing.T) {
	fx := newFixture(t, "net")
	fx.executor.cfg.RequestTimeout = 50 * time.Millisecond
	fx.fake.placeDelay = 200 * time.Millisecond

	req := marketBuy()
	req.StopLoss = decimal.Zero
	req.TakeProfit = decimal.Zero

	_, err := fx.executor.Execute(context.Background(), req)
	if !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("提交超时应返回结果不明错误，实际 %v", err)
	}
}

func TestDistributedRateLimitRejects(t *testing.T) {
	fake := newFakeExchange()
	store := coordination.NewMemoryStore()
	locker := lock.NewLocker(store, "test:")
	brk := breaker.New(store, "fake", breaker.Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: time.Second})
	limiter := ratelimit.New(store, ratelimit.Config{MaxRequests: 2, Window: time.Minute, Block: 5 * time.Minute})
	notifier := notify.NewNotificationService(&config.Config{})

	executor := NewExecutor(Config{
		Exchange: "fake", AccountID: "acct-2", PositionMode: "net",
		LockWait: 100 * time.Millisecond, RequestTimeout: time.Second,
	}, fake, locker, brk, limiter, nil, notifier)

	req := func() *exchange.OrderRequest {
		r := marketBuy()
		r.StopLoss = decimal.Zero
		r.TakeProfit = decimal.Zero
		return r
	}

	for i := 0; i < 2; i++ {
		if _, err := executor.Execute(context.Background(), req()); err != nil {
			t.Fatalf("第 %d 次执行失败: %v", i+1, err)
		}
	}

	_, err := executor.Execute(context.Background(), req())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("超出窗口配额应被限流，实际 %v", err)
	}
}
