package models

import (
	"strings"
	"time"
)

// TradeAction is the direction of a logged trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// ParseTradeAction maps the action labels bots write ("buy", "grid_sell",
// "buy_cover", "stop_loss", "sell_put", ...) to a direction. Non-trade markers
// such as "startup" report false.
func ParseTradeAction(s string) (TradeAction, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "buy"):
		return ActionBuy, true
	case strings.Contains(s, "sell"), s == "stop_loss":
		return ActionSell, true
	default:
		return "", false
	}
}

// TradeLogEntry is one historical fill as recorded by a strategy worker.
type TradeLogEntry struct {
	Timestamp time.Time   `csv:"time"`
	Bot       string      `csv:"bot"`
	Symbol    string      `csv:"symbol"`
	Action    TradeAction `csv:"action"`
	Price     float64     `csv:"price"`
	Quantity  float64     `csv:"qty"`
	// Kind is the bot's own label for the trade, e.g. "grid_buy".
	Kind string `csv:"kind"`
}

// Value returns price times quantity.
func (e TradeLogEntry) Value() float64 {
	return e.Price * e.Quantity
}
