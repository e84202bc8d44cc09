package exchange

import (
	"github.com/shopspring/decimal"

	"ordermesh/logger"
)

// fallbackDecimals 精度约束缺失时的保守小数位数
const fallbackDecimals = 8

// NormalizeQuantity 将数量向上对齐到步进的整数倍
// 结果低于最小数量时抬升到最小数量并返回 raised=true
// 对已对齐的值重复调用不改变结果
func NormalizeQuantity(qty decimal.Decimal, filters *SymbolFilters) (normalized decimal.Decimal, raised bool, err error) {
	if qty.Sign() <= 0 {
		return decimal.Zero, false, &ValidationError{Field: "quantity", Reason: "数量必须为正"}
	}

	if filters == nil || filters.StepSize.Sign() <= 0 {
		// 约束缺失时退回保守的固定小数位，数量向上取整不低于意图数量
		logger.Warn("⚠️ 交易对精度约束缺失，数量 %s 按 %d 位小数保守处理", qty.String(), fallbackDecimals)
		return qty.RoundUp(fallbackDecimals), false, nil
	}

	normalized = qty.Div(filters.StepSize).Ceil().Mul(filters.StepSize)

	// 抬升以原始数量为准：步进取整恰好落在最小数量上也算抬升
	if filters.MinQty.Sign() > 0 && qty.LessThan(filters.MinQty) {
		if normalized.LessThan(filters.MinQty) {
			normalized = filters.MinQty.Div(filters.StepSize).Ceil().Mul(filters.StepSize)
		}
		raised = true
		logger.Warn("⚠️ 数量 %s 低于最小数量，已抬升至 %s", qty.String(), normalized.String())
	}

	return normalized, raised, nil
}

// NormalizePrice 将价格向下对齐到最小变动价位的整数倍
// 向下取整保证限价买单不会越过意图价格
func NormalizePrice(price decimal.Decimal, filters *SymbolFilters) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, &ValidationError{Field: "price", Reason: "价格必须为正"}
	}

	if filters == nil || filters.TickSize.Sign() <= 0 {
		// 价格向下取整，限价买单不会越过意图价格
		logger.Warn("⚠️ 交易对精度约束缺失，价格 %s 按 %d 位小数保守处理", price.String(), fallbackDecimals)
		return price.RoundDown(fallbackDecimals), nil
	}

	return price.Div(filters.TickSize).Floor().Mul(filters.TickSize), nil
}

// NormalizeRequest 规范化下单意图的所有数值字段
// 校验名义价值约束，不满足时返回 PrecisionError
func NormalizeRequest(req *OrderRequest, filters *SymbolFilters) (raised bool, err error) {
	req.Quantity, raised, err = NormalizeQuantity(req.Quantity, filters)
	if err != nil {
		return false, err
	}

	if req.Price.Sign() > 0 {
		req.Price, err = NormalizePrice(req.Price, filters)
		if err != nil {
			return raised, err
		}
	}
	if req.StopPrice.Sign() > 0 {
		req.StopPrice, err = NormalizePrice(req.StopPrice, filters)
		if err != nil {
			return raised, err
		}
	}
	if req.StopLoss.Sign() > 0 {
		req.StopLoss, err = NormalizePrice(req.StopLoss, filters)
		if err != nil {
			return raised, err
		}
	}
	if req.TakeProfit.Sign() > 0 {
		req.TakeProfit, err = NormalizePrice(req.TakeProfit, filters)
		if err != nil {
			return raised, err
		}
	}

	if filters != nil && filters.MinNotional.Sign() > 0 && req.Price.Sign() > 0 {
		notional := req.Quantity.Mul(req.Price)
		if notional.LessThan(filters.MinNotional) {
			return raised, &PrecisionError{
				Field:      "notional",
				Value:      notional.String(),
				Constraint: "低于最小名义价值 " + filters.MinNotional.String(),
			}
		}
	}

	return raised, nil
}
