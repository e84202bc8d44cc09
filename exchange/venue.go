package exchange

// SigningPolicy 签名策略：参与签名的规范串如何构造
type SigningPolicy string

const (
	// SignSortedQuery 参数按 key 排序拼接后签名，签名以 hex 编码（币安风格）
	SignSortedQuery SigningPolicy = "sorted_query"
	// SignTimestampPrefix 时间戳+方法+路径+请求体拼接后签名，签名以 base64 编码（OKX 风格）
	SignTimestampPrefix SigningPolicy = "timestamp_prefix"
	// SignPayloadPrehash 时间戳+apiKey+recvWindow+载荷拼接后签名，签名以 hex 编码（Bybit 风格）
	SignPayloadPrehash SigningPolicy = "payload_prehash"
)

// ConditionalOrderStrategy 条件单（止损/止盈）在该交易所的落地方式
type ConditionalOrderStrategy string

const (
	// CondOrderType 用专门的订单类型下条件单（币安 STOP_MARKET 等）
	CondOrderType ConditionalOrderStrategy = "order_type"
	// CondAlgoEndpoint 走独立的策略委托接口（OKX algo order）
	CondAlgoEndpoint ConditionalOrderStrategy = "algo_endpoint"
	// CondPositionAttach 全仓止损止盈挂在持仓上而不是订单上（Bybit trading-stop）
	CondPositionAttach ConditionalOrderStrategy = "position_attach"
)

// VenueSpec 交易所能力描述
// 适配器的行为差异集中在这张表里，新接交易所先补表再写适配器。
type VenueSpec struct {
	Name             string
	Signing          SigningPolicy
	ConditionalOrder ConditionalOrderStrategy
	SupportsHedge    bool // 是否支持双向持仓模式
	NeedsPassphrase  bool // API 凭证是否需要 passphrase
}

var venueSpecs = map[string]VenueSpec{
	"binance": {
		Name:             "binance",
		Signing:          SignSortedQuery,
		ConditionalOrder: CondOrderType,
		SupportsHedge:    true,
	},
	"okx": {
		Name:             "okx",
		Signing:          SignTimestampPrefix,
		ConditionalOrder: CondAlgoEndpoint,
		SupportsHedge:    true,
		NeedsPassphrase:  true,
	},
	"bybit": {
		Name:             "bybit",
		Signing:          SignPayloadPrehash,
		ConditionalOrder: CondPositionAttach,
		SupportsHedge:    true,
	},
}

// GetVenueSpec 查询交易所能力描述
func GetVenueSpec(name string) (VenueSpec, bool) {
	spec, ok := venueSpecs[name]
	return spec, ok
}

// SupportedVenues 返回所有已接入的交易所名称
func SupportedVenues() []string {
	names := make([]string, 0, len(venueSpecs))
	for name := range venueSpecs {
		names = append(names, name)
	}
	return names
}
