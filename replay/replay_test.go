package replay

import (
	"context"
	"testing"
	"time"

	"ordermesh/coordination"
)

type recordingSink struct {
	events []string
}

func (s *recordingSink) SecurityEvent(title, message string) {
	s.events = append(s.events, title)
}

func newTestGuard(store *coordination.MemoryStore, requireSig bool, sink AlertSink) *Guard {
	return NewGuard(store, Config{
		MaxDrift:         5 * time.Minute,
		NonceTTL:         10 * time.Minute,
		RequireSignature: requireSig,
		Secrets:          map[string]string{"webhook-1": "topsecret"},
	}, sink)
}

func validTrigger(nonce string) *Trigger {
	payload := []byte(`{"symbol":"BTCUSDT","side":"BUY"}`)
	ts := time.Now().Unix()
	return &Trigger{
		Identity:  "webhook-1",
		Timestamp: ts,
		Nonce:     nonce,
		Signature: Sign("topsecret", "webhook-1", ts, nonce, payload),
		Payload:   payload,
	}
}

func TestValidTriggerPasses(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)

	if err := guard.Verify(context.Background(), validTrigger("n-1")); err != nil {
		t.Fatalf("合法触发应放行: %v", err)
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), false, nil)

	tr := validTrigger("n-1")
	tr.Timestamp = time.Now().Add(-10 * time.Minute).Unix()
	tr.Signature = Sign("topsecret", tr.Identity, tr.Timestamp, tr.Nonce, tr.Payload)

	err := guard.Verify(context.Background(), tr)
	if !IsReject(err) {
		t.Errorf("过期时间戳应被拒绝: %v", err)
	}
}

func TestFutureTimestampRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), false, nil)

	tr := validTrigger("n-1")
	tr.Timestamp = time.Now().Add(10 * time.Minute).Unix()
	tr.Signature = Sign("topsecret", tr.Identity, tr.Timestamp, tr.Nonce, tr.Payload)

	if err := guard.Verify(context.Background(), tr); !IsReject(err) {
		t.Errorf("超前时间戳应被拒绝: %v", err)
	}
}

func TestNonceReplayRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)
	ctx := context.Background()

	first := validTrigger("n-dup")
	if err := guard.Verify(ctx, first); err != nil {
		t.Fatalf("首次触发应放行: %v", err)
	}

	// 相同 nonce 配新的合法签名和时间戳，仍然必须拒绝
	second := validTrigger("n-dup")
	err := guard.Verify(ctx, second)
	if !IsReject(err) {
		t.Errorf("重复 nonce 应被拒绝: %v", err)
	}
}

func TestForgedSignatureRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)

	tr := validTrigger("n-1")
	tr.Signature = Sign("wrongsecret", tr.Identity, tr.Timestamp, tr.Nonce, tr.Payload)

	if err := guard.Verify(context.Background(), tr); !IsReject(err) {
		t.Errorf("伪造签名应被拒绝: %v", err)
	}
}

func TestTamperedPayloadRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)

	tr := validTrigger("n-1")
	tr.Payload = []byte(`{"symbol":"BTCUSDT","side":"SELL"}`)

	if err := guard.Verify(context.Background(), tr); !IsReject(err) {
		t.Errorf("被篡改的载荷应被拒绝: %v", err)
	}
}

func TestMissingSignatureWhenRequired(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)

	tr := validTrigger("n-1")
	tr.Signature = ""

	if err := guard.Verify(context.Background(), tr); !IsReject(err) {
		t.Errorf("强制签名时缺失签名应被拒绝: %v", err)
	}
}

func TestUnknownIdentityRejected(t *testing.T) {
	guard := newTestGuard(coordination.NewMemoryStore(), true, nil)

	tr := validTrigger("n-1")
	tr.Identity = "unknown"

	if err := guard.Verify(context.Background(), tr); !IsReject(err) {
		t.Errorf("未配置密钥的身份应被拒绝: %v", err)
	}
}

func TestFailOpenOnStoreUnreachable(t *testing.T) {
	store := coordination.NewMemoryStore()
	sink := &recordingSink{}
	guard := newTestGuard(store, true, sink)
	ctx := context.Background()

	store.SetUnavailable(true)

	// 签名本身合法，只有 nonce 存储不可达：放行但上报安全事件
	if err := guard.Verify(ctx, validTrigger("n-1")); err != nil {
		t.Fatalf("存储不可达时应降级放行: %v", err)
	}
	if len(sink.events) == 0 {
		t.Error("降级放行必须上报安全事件")
	}

	// 签名非法时即使存储不可达也必须拒绝
	tr := validTrigger("n-2")
	tr.Signature = "deadbeef"
	if err := guard.Verify(ctx, tr); !IsReject(err) {
		t.Errorf("签名校验不依赖存储，必须拒绝: %v", err)
	}
}
