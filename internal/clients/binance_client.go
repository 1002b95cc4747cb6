// Package clients holds the outbound API clients: the Binance REST client
// and the OpenAI-compatible reasoning service client.
package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates an authenticated Binance spot client.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewPublicBinanceClient creates a client without keys; only public market
// data endpoints work with it.
func NewPublicBinanceClient() *binance.Client {
	return binance.NewClient("", "")
}
