package exchange

import (
	"fmt"

	"ordermesh/config"
	"ordermesh/exchange/binance"
	"ordermesh/exchange/bybit"
	"ordermesh/exchange/okx"
)

// NewExchange 创建交易所实例
// exchangeName 允许覆盖配置中的当前交易所，便于多交易所场景
func NewExchange(cfg *config.Config, exchangeName string) (IExchange, error) {
	if exchangeName == "" {
		exchangeName = cfg.App.CurrentExchange
	}

	spec, ok := GetVenueSpec(exchangeName)
	if !ok {
		return nil, fmt.Errorf("不支持的交易所: %s（已接入: %v）", exchangeName, SupportedVenues())
	}
	if spec.NeedsPassphrase && cfg.Exchanges[exchangeName].Passphrase == "" {
		return nil, fmt.Errorf("%s 需要 passphrase 但配置为空", exchangeName)
	}

	switch exchangeName {
	case "binance":
		exchangeCfg, exists := cfg.Exchanges["binance"]
		if !exists {
			return nil, fmt.Errorf("binance 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		adapter, err := binance.NewBinanceAdapter(cfgMap)
		if err != nil {
			return nil, err
		}
		return &binanceWrapper{adapter: adapter}, nil

	case "okx":
		exchangeCfg, exists := cfg.Exchanges["okx"]
		if !exists {
			return nil, fmt.Errorf("okx 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"passphrase": exchangeCfg.Passphrase,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		adapter, err := okx.NewOKXAdapter(cfgMap)
		if err != nil {
			return nil, err
		}
		return &okxWrapper{adapter: adapter}, nil

	case "bybit":
		exchangeCfg, exists := cfg.Exchanges["bybit"]
		if !exists {
			return nil, fmt.Errorf("bybit 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		adapter, err := bybit.NewBybitAdapter(cfgMap)
		if err != nil {
			return nil, err
		}
		return &bybitWrapper{adapter: adapter}, nil

	default:
		return nil, fmt.Errorf("不支持的交易所: %s", exchangeName)
	}
}
