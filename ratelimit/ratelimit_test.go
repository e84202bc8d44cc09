package ratelimit

import (
	"context"
	"testing"
	"time"

	"ordermesh/coordination"
)

func TestAllowsUpToMaxThenRejects(t *testing.T) {
	limiter := New(coordination.NewMemoryStore(), Config{
		MaxRequests: 3,
		Window:      time.Minute,
		Block:       5 * time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "trader-1", "order")
		if err != nil {
			t.Fatalf("第 %d 次检查出错: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("第 %d 次请求应放行", i+1)
		}
		if want := 3 - i - 1; result.Remaining != want {
			t.Errorf("剩余配额错误: 期望 %d, 得到 %d", want, result.Remaining)
		}
	}

	// 第 4 次超限
	result, err := limiter.Check(ctx, "trader-1", "order")
	if err != nil {
		t.Fatalf("检查出错: %v", err)
	}
	if result.Allowed {
		t.Error("超限请求应被拒绝")
	}
	if result.BlockedFor <= time.Minute {
		t.Errorf("封禁时长必须大于窗口, 得到 %v", result.BlockedFor)
	}
}

func TestBlockPersistsAfterRejection(t *testing.T) {
	limiter := New(coordination.NewMemoryStore(), Config{
		MaxRequests: 1,
		Window:      time.Minute,
		Block:       5 * time.Minute,
	})
	ctx := context.Background()

	limiter.Check(ctx, "trader-1", "order")
	limiter.Check(ctx, "trader-1", "order") // 触发封禁

	// 封禁期间后续请求直接拒绝
	result, _ := limiter.Check(ctx, "trader-1", "order")
	if result.Allowed {
		t.Error("封禁期间请求应被拒绝")
	}
	if result.BlockedFor <= 0 {
		t.Error("封禁结果应携带剩余封禁时长")
	}
}

func TestWindowSlides(t *testing.T) {
	limiter := New(coordination.NewMemoryStore(), Config{
		MaxRequests: 2,
		Window:      80 * time.Millisecond,
		Block:       200 * time.Millisecond,
	})
	ctx := context.Background()

	limiter.Check(ctx, "trader-1", "order")
	limiter.Check(ctx, "trader-1", "order")

	// 等旧事件滑出窗口（未触发封禁的前提下）
	time.Sleep(120 * time.Millisecond)

	result, err := limiter.Check(ctx, "trader-1", "order")
	if err != nil {
		t.Fatalf("检查出错: %v", err)
	}
	if !result.Allowed {
		t.Error("窗口滑动后新请求应放行")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	limiter := New(coordination.NewMemoryStore(), Config{
		MaxRequests: 1,
		Window:      time.Minute,
		Block:       5 * time.Minute,
	})
	ctx := context.Background()

	limiter.Check(ctx, "trader-1", "order")
	limiter.Check(ctx, "trader-1", "order") // trader-1 封禁

	result, _ := limiter.Check(ctx, "trader-2", "order")
	if !result.Allowed {
		t.Error("不同标识的配额应相互独立")
	}

	// 同一标识的不同作用域也相互独立
	result, _ = limiter.Check(ctx, "trader-1", "cancel")
	if !result.Allowed {
		t.Error("不同作用域的配额应相互独立")
	}
}
