package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testFilters() *SymbolFilters {
	return &SymbolFilters{
		Symbol:   "BTCUSDT",
		StepSize: decimal.RequireFromString("0.001"),
		TickSize: decimal.RequireFromString("0.10"),
		MinQty:   decimal.RequireFromString("0.001"),
	}
}

func TestNormalizeQuantityCeilsToStep(t *testing.T) {
	got, raised, err := NormalizeQuantity(decimal.RequireFromString("0.1234"), testFilters())
	if err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if raised {
		t.Error("不应触发最小数量抬升")
	}
	if !got.Equal(decimal.RequireFromString("0.124")) {
		t.Errorf("期望 0.124，实际 %s", got.String())
	}
}

func TestNormalizePriceFloorsToTick(t *testing.T) {
	got, err := NormalizePrice(decimal.RequireFromString("45123.456"), testFilters())
	if err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("45123.40")) {
		t.Errorf("期望 45123.40，实际 %s", got.String())
	}
}

func TestNormalizeQuantityRaisesToMinQty(t *testing.T) {
	got, raised, err := NormalizeQuantity(decimal.RequireFromString("0.0004"), testFilters())
	if err != nil {
		t.Fatalf("规范化失败: %v", err)
	}
	if !raised {
		t.Error("低于最小数量应返回 raised=true")
	}
	if !got.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("期望抬升至 0.001，实际 %s", got.String())
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	f := testFilters()
	once, _, err := NormalizeQuantity(decimal.RequireFromString("0.1234"), f)
	if err != nil {
		t.Fatalf("第一次规范化失败: %v", err)
	}
	twice, raised, err := NormalizeQuantity(once, f)
	if err != nil {
		t.Fatalf("第二次规范化失败: %v", err)
	}
	if raised || !twice.Equal(once) {
		t.Errorf("重复规范化改变了结果: %s -> %s", once.String(), twice.String())
	}

	p1, _ := NormalizePrice(decimal.RequireFromString("45123.456"), f)
	p2, _ := NormalizePrice(p1, f)
	if !p2.Equal(p1) {
		t.Errorf("重复规范化改变了价格: %s -> %s", p1.String(), p2.String())
	}
}

func TestNormalizeMissingFiltersUsesConservativeDefault(t *testing.T) {
	// 8 位以内的值不改写
	raw := decimal.RequireFromString("0.1234")
	got, raised, err := NormalizeQuantity(raw, nil)
	if err != nil {
		t.Fatalf("约束缺失时不应报错: %v", err)
	}
	if raised || !got.Equal(raw) {
		t.Errorf("8 位以内的数量不应改写，实际 %s", got.String())
	}

	// 超精度数量向上取整到 8 位，不低于意图数量
	got, _, err = NormalizeQuantity(decimal.RequireFromString("0.123456789123"), nil)
	if err != nil {
		t.Fatalf("约束缺失时不应报错: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.12345679")) {
		t.Errorf("数量应向上保留 8 位小数，实际 %s", got.String())
	}

	// 超精度价格向下取整到 8 位，限价买单不越过意图价格
	price, err := NormalizePrice(decimal.RequireFromString("0.123456789123"), nil)
	if err != nil {
		t.Fatalf("约束缺失时不应报错: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.12345678")) {
		t.Errorf("价格应向下保留 8 位小数，实际 %s", price.String())
	}
}

func TestNormalizeRejectsNonPositive(t *testing.T) {
	if _, _, err := NormalizeQuantity(decimal.Zero, testFilters()); err == nil {
		t.Error("数量为零应返回错误")
	}
	if _, err := NormalizePrice(decimal.RequireFromString("-1"), testFilters()); err == nil {
		t.Error("负价格应返回错误")
	}
}

func TestNormalizeRequestChecksNotional(t *testing.T) {
	f := testFilters()
	f.MinNotional = decimal.RequireFromString("100")
	req := &OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.01"),
		Price:    decimal.RequireFromString("50000"),
	}
	if _, err := NormalizeRequest(req, f); err != nil {
		t.Fatalf("名义价值足够时不应报错: %v", err)
	}

	small := &OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.001"),
		Price:    decimal.RequireFromString("10"),
	}
	_, err := NormalizeRequest(small, f)
	if err == nil {
		t.Fatal("名义价值不足应返回错误")
	}
	if _, ok := err.(*PrecisionError); !ok {
		t.Errorf("期望 PrecisionError，实际 %T", err)
	}
}
