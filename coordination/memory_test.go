package coordination

import (
	"context"
	"testing"
	"time"
)

func TestSetNXFirstWriteWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "key", "a", time.Second)
	if err != nil {
		t.Fatalf("SetNX 失败: %v", err)
	}
	if !ok {
		t.Fatal("首次 SetNX 应该成功")
	}

	ok, err = store.SetNX(ctx, "key", "b", time.Second)
	if err != nil {
		t.Fatalf("SetNX 失败: %v", err)
	}
	if ok {
		t.Error("key 已存在时 SetNX 应该失败")
	}

	val, _ := store.Get(ctx, "key")
	if val != "a" {
		t.Errorf("值被覆盖: 期望 a, 得到 %s", val)
	}
}

func TestSetNXExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := store.SetNX(ctx, "key", "a", 10*time.Millisecond); !ok {
		t.Fatal("首次 SetNX 应该成功")
	}

	time.Sleep(20 * time.Millisecond)

	if ok, _ := store.SetNX(ctx, "key", "b", time.Second); !ok {
		t.Error("过期后 SetNX 应该成功")
	}
}

func TestCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "state", "CLOSED", time.Minute)

	ok, err := store.CompareAndSwap(ctx, "state", "CLOSED", "OPEN", time.Minute)
	if err != nil {
		t.Fatalf("CAS 失败: %v", err)
	}
	if !ok {
		t.Error("值匹配时 CAS 应该成功")
	}

	// 值已经变成 OPEN，按旧值再换一次必须失败
	ok, _ = store.CompareAndSwap(ctx, "state", "CLOSED", "HALF_OPEN", time.Minute)
	if ok {
		t.Error("值不匹配时 CAS 应该失败")
	}

	val, _ := store.Get(ctx, "state")
	if val != "OPEN" {
		t.Errorf("CAS 后值错误: 期望 OPEN, 得到 %s", val)
	}
}

func TestCompareAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "lock", "token-1", time.Minute)

	if ok, _ := store.CompareAndDelete(ctx, "lock", "wrong-token"); ok {
		t.Error("token 不匹配时不应删除")
	}
	if val, _ := store.Get(ctx, "lock"); val != "token-1" {
		t.Error("错误的删除动了真正持有者的 key")
	}

	if ok, _ := store.CompareAndDelete(ctx, "lock", "token-1"); !ok {
		t.Error("token 匹配时应该删除成功")
	}
}

func TestIncrement(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := store.Increment(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Increment 失败: %v", err)
		}
		if n != i {
			t.Errorf("自增结果错误: 期望 %d, 得到 %d", i, n)
		}
	}
}

func TestWindowCountPurgesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.WindowAdd(ctx, "win", "e1", now.Add(-2*time.Minute), time.Hour)
	store.WindowAdd(ctx, "win", "e2", now.Add(-30*time.Second), time.Hour)
	store.WindowAdd(ctx, "win", "e3", now, time.Hour)

	count, err := store.WindowCount(ctx, "win", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("WindowCount 失败: %v", err)
	}
	if count != 2 {
		t.Errorf("窗口计数错误: 期望 2, 得到 %d", count)
	}

	oldest, _ := store.WindowOldest(ctx, "win")
	if !oldest.Equal(now.Add(-30 * time.Second)) {
		t.Errorf("最早事件时间错误: %v", oldest)
	}
}

func TestUnavailableStore(t *testing.T) {
	store := NewMemoryStore()
	store.SetUnavailable(true)
	ctx := context.Background()

	if _, err := store.SetNX(ctx, "k", "v", time.Second); err == nil {
		t.Error("不可达时 SetNX 应返回错误")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("不可达时 Ping 应返回错误")
	}
}
