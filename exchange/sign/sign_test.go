package sign

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

// RFC 4231 测试用例 2
func TestHexHMACSHA256KnownVector(t *testing.T) {
	got := HexHMACSHA256("Jefe", "what do ya want for nothing?")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Errorf("HMAC 结果不匹配\n期望 %s\n实际 %s", want, got)
	}
}

func TestBase64MatchesHex(t *testing.T) {
	secret := "test-secret"
	message := "2024-01-01T00:00:00.000ZGET/api/v5/account/positions"

	hexSig := HexHMACSHA256(secret, message)
	b64Sig := Base64HMACSHA256(secret, message)

	raw, err := base64.StdEncoding.DecodeString(b64Sig)
	if err != nil {
		t.Fatalf("Base64 解码失败: %v", err)
	}
	if hex.EncodeToString(raw) != hexSig {
		t.Error("两种编码应来自同一 HMAC 摘要")
	}
}

func TestSignatureDependsOnSecret(t *testing.T) {
	msg := "symbol=BTCUSDT&side=BUY"
	if HexHMACSHA256("a", msg) == HexHMACSHA256("b", msg) {
		t.Error("不同密钥必须产生不同签名")
	}
}

func TestSortedQueryOrdersKeys(t *testing.T) {
	got := SortedQuery(map[string]string{
		"timestamp": "1700000000000",
		"side":      "BUY",
		"symbol":    "BTCUSDT",
		"quantity":  "0.001",
	})
	want := "quantity=0.001&side=BUY&symbol=BTCUSDT&timestamp=1700000000000"
	if got != want {
		t.Errorf("查询串顺序错误\n期望 %s\n实际 %s", want, got)
	}
}

func TestSortedQueryEscapesValues(t *testing.T) {
	got := SortedQuery(map[string]string{"a": "x y", "b": "1&2"})
	if !strings.Contains(got, "a=x+y") || !strings.Contains(got, "b=1%262") {
		t.Errorf("值未正确 URL 编码: %s", got)
	}
}

func TestSortedQueryEmpty(t *testing.T) {
	if got := SortedQuery(nil); got != "" {
		t.Errorf("空参数应返回空串，实际 %q", got)
	}
}
