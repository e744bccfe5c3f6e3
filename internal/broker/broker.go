// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"strings"
	"time"

	"fleet-trader/internal/models"
)

// Broker defines the account and order operations every fleet component uses.
type Broker interface {
	// Account
	GetAccount(ctx context.Context) (*models.Account, error)
	GetAllPositions(ctx context.Context) ([]models.Position, error)

	// Orders
	SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error)

	// Session
	GetClock(ctx context.Context) (*models.Clock, error)
}

// MarketData fetches historical bars.
type MarketData interface {
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error)
}

// Client is a broker that also serves market data.
type Client interface {
	Broker
	MarketData
}

// Timeframe is a bar width understood by the data API.
type Timeframe string

const (
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// HistoricalRequest represents a request for historical data.
type HistoricalRequest struct {
	Symbol    string
	Timeframe Timeframe
	From      time.Time
	To        time.Time
	Limit     int
}

// cryptoQuotes are the quote currencies Alpaca pairs crypto against, longest
// first so USDT is not read as USD.
var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC"}

// CryptoPair restores the slash Alpaca drops from crypto position symbols:
// BTCUSD becomes BTC/USD. Symbols already in pair form pass through.
func CryptoPair(symbol string) string {
	if IsCryptoSymbol(symbol) {
		return symbol
	}
	for _, q := range cryptoQuotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)] + "/" + q
		}
	}
	return symbol
}

// IsCryptoSymbol reports whether symbol is a crypto pair such as BTC/USD.
func IsCryptoSymbol(symbol string) bool {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return true
		}
	}
	return false
}
