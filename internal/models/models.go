// Package models provides domain models shared across the fleet.
package models

import (
	"strings"
	"time"
)

// AssetClass represents the broker's classification of a tradeable instrument.
type AssetClass string

const (
	AssetEquity AssetClass = "us_equity"
	AssetOption AssetClass = "us_option"
	AssetCrypto AssetClass = "crypto"
)

// ParseAssetClass maps broker and user spellings onto an AssetClass.
// Anything unrecognised is treated as an equity.
func ParseAssetClass(s string) AssetClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto":
		return AssetCrypto
	case "us_option", "option", "options":
		return AssetOption
	default:
		return AssetEquity
	}
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Clock is the broker's view of the trading session.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Account is a snapshot of the brokerage account.
type Account struct {
	Equity         float64
	LastEquity     float64
	Cash           float64
	BuyingPower    float64
	PortfolioValue float64
}

// DayPnL returns the change in equity since the previous close and its percentage.
func (a Account) DayPnL() (float64, float64) {
	pnl := a.Equity - a.LastEquity
	if a.LastEquity == 0 {
		return pnl, 0
	}
	return pnl, pnl / a.LastEquity * 100
}
