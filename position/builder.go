package position

import (
	"time"

	"github.com/shopspring/decimal"

	"ordermesh/exchange"
	"ordermesh/logger"
)

// 小于该值的剩余数量视为仓位已平，吸收交易所的尾差
var closeEpsilon = decimal.New(1, -10)

// ClosedPosition 由成交回放推导出的一段完整仓位
type ClosedPosition struct {
	Symbol      string
	Direction   string          // LONG / SHORT
	Quantity    decimal.Decimal // 平仓总量，绝对值
	EntryPrice  decimal.Decimal // 开仓加权均价
	ExitPrice   decimal.Decimal // 平仓加权均价
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	FillCount   int
	Interleaved bool // 回放中出现单笔翻转方向的成交，结果需人工复核
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// openState 回放过程中的在途仓位
type openState struct {
	direction   string
	qty         decimal.Decimal // 带符号，空头为负
	entryPrice  decimal.Decimal
	closedQty   decimal.Decimal
	exitValue   decimal.Decimal // 平仓成交额累计，推导加权平仓价
	realized    decimal.Decimal
	fees        decimal.Decimal
	fillCount   int
	interleaved bool
	openedAt    time.Time
	lastAt      time.Time
}

func newOpenState(signed, price, fee decimal.Decimal, at time.Time) *openState {
	direction := "LONG"
	if signed.Sign() < 0 {
		direction = "SHORT"
	}
	return &openState{
		direction:  direction,
		qty:        signed,
		entryPrice: price,
		fees:       fee,
		fillCount:  1,
		openedAt:   at,
		lastAt:     at,
	}
}

// ReplayFills 按时间顺序回放成交，推导平仓记录
// 成交必须已按时间升序排列，此处绝不重排
func ReplayFills(symbol string, fills []*exchange.Fill) []*ClosedPosition {
	var closed []*ClosedPosition
	var state *openState

	for _, fill := range fills {
		signed := fill.SignedQuantity()
		if signed.IsZero() {
			continue
		}

		if state == nil {
			state = newOpenState(signed, fill.Price, fill.Fee, fill.Timestamp)
			continue
		}

		state.fillCount++
		state.fees = state.fees.Add(fill.Fee)
		state.lastAt = fill.Timestamp

		if state.qty.Sign() == signed.Sign() {
			// 同向加仓，更新加权开仓均价
			total := state.qty.Add(signed)
			state.entryPrice = state.entryPrice.Mul(state.qty.Abs()).
				Add(fill.Price.Mul(signed.Abs())).
				Div(total.Abs())
			state.qty = total
			continue
		}

		// 反向成交：先平旧仓
		reduce := decimal.Min(signed.Abs(), state.qty.Abs())
		pnl := fill.Price.Sub(state.entryPrice).Mul(reduce)
		if state.qty.Sign() < 0 {
			pnl = pnl.Neg()
		}
		state.realized = state.realized.Add(pnl)
		state.closedQty = state.closedQty.Add(reduce)
		state.exitValue = state.exitValue.Add(fill.Price.Mul(reduce))

		remainder := signed.Abs().Sub(state.qty.Abs())
		state.qty = state.qty.Add(signed)

		if remainder.Sign() > 0 {
			// 单笔成交越过零轴翻转方向：旧仓固化并标记交错，余量开新仓
			logger.Warn("⚠️ 成交回放出现方向翻转: %s trade=%s 余量=%s",
				symbol, fill.TradeID, remainder.String())
			record := state.finish(symbol)
			record.Interleaved = true
			closed = append(closed, record)

			state = newOpenState(state.qty, fill.Price, decimal.Zero, fill.Timestamp)
			state.interleaved = true
			continue
		}

		if state.qty.Abs().LessThanOrEqual(closeEpsilon) {
			closed = append(closed, state.finish(symbol))
			state = nil
		}
	}

	return closed
}

// finish 将在途仓位固化为平仓记录
func (s *openState) finish(symbol string) *ClosedPosition {
	exitPrice := decimal.Zero
	if s.closedQty.Sign() > 0 {
		exitPrice = s.exitValue.Div(s.closedQty)
	}

	return &ClosedPosition{
		Symbol:      symbol,
		Direction:   s.direction,
		Quantity:    s.closedQty,
		EntryPrice:  s.entryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: s.realized,
		Fees:        s.fees,
		FillCount:   s.fillCount,
		Interleaved: s.interleaved,
		OpenedAt:    s.openedAt,
		ClosedAt:    s.lastAt,
	}
}
