package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
)

// Order represents a trading order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	Quantity      float64
	Notional      float64 // dollar amount, used instead of Quantity for fractional crypto buys
	LimitPrice    float64
	Status        string
	FilledQty     float64
	AveragePrice  float64
	PlacedAt      time.Time
}

// Position represents an open position as reported by the broker.
// Quantity is signed: negative means short.
type Position struct {
	Symbol        string
	AssetClass    AssetClass
	Quantity      float64
	MarketValue   float64
	UnrealizedPL  float64
	AvgEntryPrice float64
	CurrentPrice  float64
}
