package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/models"
)

// PaperBroker simulates an account in memory. Market data is delegated to a
// real data source when one is configured, otherwise served from bars loaded
// with SetBars.
type PaperBroker struct {
	data MarketData

	positions  map[string]*models.Position
	orders     []models.Order
	cash       float64
	lastEquity float64
	marketOpen bool

	orderCounter int

	priceCache map[string]float64
	bars       map[string][]models.Candle

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	Data           MarketData
	InitialBalance float64
	MarketOpen     bool
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initialBalance := cfg.InitialBalance
	if initialBalance == 0 {
		initialBalance = 100000
	}

	return &PaperBroker{
		data:       cfg.Data,
		positions:  make(map[string]*models.Position),
		cash:       initialBalance,
		lastEquity: initialBalance,
		marketOpen: cfg.MarketOpen,
		priceCache: make(map[string]float64),
		bars:       make(map[string][]models.Candle),
	}
}

// GetAccount returns the simulated account, marking positions to the last
// known price.
func (p *PaperBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.cash
	for _, pos := range p.positions {
		equity += p.markLocked(pos).MarketValue
	}
	return &models.Account{
		Equity:         equity,
		LastEquity:     p.lastEquity,
		Cash:           p.cash,
		BuyingPower:    p.cash,
		PortfolioValue: equity,
	}, nil
}

// GetAllPositions returns simulated positions sorted by symbol.
func (p *PaperBroker) GetAllPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, p.markLocked(pos))
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// clockSource is a data source that also knows the session.
type clockSource interface {
	GetClock(ctx context.Context) (*models.Clock, error)
}

// GetClock asks the data source for the session when it can answer, else
// reports the simulated state.
func (p *PaperBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	if c, ok := p.data.(clockSource); ok {
		return c.GetClock(ctx)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &models.Clock{Timestamp: time.Now(), IsOpen: p.marketOpen}, nil
}

// GetHistorical serves bars from the data source, or from SetBars. Bars from
// the data source update the price orders fill at.
func (p *PaperBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	if p.data != nil {
		bars, err := p.data.GetHistorical(ctx, req)
		if err == nil && len(bars) > 0 {
			p.UpdatePrice(req.Symbol, bars[len(bars)-1].Close)
		}
		return bars, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	bars, ok := p.bars[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no bars for %s", ferrors.ErrInsufficientData, req.Symbol)
	}
	out := make([]models.Candle, len(bars))
	copy(out, bars)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}

// SubmitOrder fills market orders immediately at the cached price. Limit
// orders fill only when the cached price is at or through the limit.
func (p *PaperBroker) SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.priceCache[order.Symbol]
	if price <= 0 {
		return nil, ferrors.NewBrokerError("NO_PRICE", "no price for "+order.Symbol, nil)
	}

	execPrice := price
	canFill := true
	if order.Type == models.OrderTypeLimit {
		execPrice = order.LimitPrice
		if order.Side == models.OrderSideBuy && price > order.LimitPrice {
			canFill = false
		}
		if order.Side == models.OrderSideSell && price < order.LimitPrice {
			canFill = false
		}
	}

	qty := order.Quantity
	if qty <= 0 && order.Notional > 0 {
		qty = order.Notional / execPrice
	}
	if qty <= 0 {
		return nil, ferrors.NewValidationError("quantity", order.Quantity, "quantity or notional must be positive")
	}
	orderValue := execPrice * qty

	if order.Side == models.OrderSideBuy && canFill && p.cash < orderValue {
		return nil, ferrors.NewBrokerError("INSUFFICIENT_FUNDS",
			fmt.Sprintf("need %.2f, have %.2f", orderValue, p.cash), nil)
	}

	p.orderCounter++
	filled := *order
	filled.ID = fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)
	filled.Quantity = qty
	filled.PlacedAt = time.Now()

	if canFill {
		filled.Status = "filled"
		filled.FilledQty = qty
		filled.AveragePrice = execPrice
		p.updatePosition(order.Symbol, order.Side, qty, execPrice)
		if order.Side == models.OrderSideBuy {
			p.cash -= orderValue
		} else {
			p.cash += orderValue
		}
	} else {
		filled.Status = "new"
	}

	p.orders = append(p.orders, filled)
	out := filled
	return &out, nil
}

// updatePosition updates or creates a position based on trade.
func (p *PaperBroker) updatePosition(symbol string, side models.OrderSide, qty, price float64) {
	pos, exists := p.positions[symbol]
	if !exists {
		pos = &models.Position{Symbol: symbol, AssetClass: ClassOf(symbol)}
		p.positions[symbol] = pos
	}

	signed := qty
	if side == models.OrderSideSell {
		signed = -qty
	}

	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0):
		// Opening or adding in the same direction.
		total := pos.AvgEntryPrice*abs(pos.Quantity) + price*qty
		pos.Quantity += signed
		pos.AvgEntryPrice = total / abs(pos.Quantity)
	default:
		pos.Quantity += signed
		if abs(pos.Quantity) < 1e-9 {
			delete(p.positions, symbol)
			return
		}
		// Flipped through zero.
		if (pos.Quantity > 0) == (signed > 0) {
			pos.AvgEntryPrice = price
		}
	}
	pos.CurrentPrice = price
}

func (p *PaperBroker) markLocked(pos *models.Position) models.Position {
	out := *pos
	price := p.priceCache[pos.Symbol]
	if price <= 0 {
		price = pos.CurrentPrice
	}
	if price <= 0 {
		price = pos.AvgEntryPrice
	}
	out.CurrentPrice = price
	out.MarketValue = price * pos.Quantity
	out.UnrealizedPL = (price - pos.AvgEntryPrice) * pos.Quantity
	return out
}

// UpdatePrice updates the cached price for a symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// SetBars loads bars served by GetHistorical and caches the last close.
func (p *PaperBroker) SetBars(symbol string, bars []models.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[symbol] = append([]models.Candle(nil), bars...)
	if len(bars) > 0 {
		p.priceCache[symbol] = bars[len(bars)-1].Close
	}
}

// SetPosition seeds a position directly.
func (p *PaperBroker) SetPosition(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos.AssetClass == "" {
		pos.AssetClass = ClassOf(pos.Symbol)
	}
	if pos.CurrentPrice == 0 && pos.Quantity != 0 {
		pos.CurrentPrice = pos.MarketValue / pos.Quantity
	}
	p.positions[pos.Symbol] = &pos
}

// SetMarketOpen toggles the simulated session.
func (p *PaperBroker) SetMarketOpen(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketOpen = open
}

// Reset resets the paper broker to initial state.
func (p *PaperBroker) Reset(initialBalance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = make(map[string]*models.Position)
	p.orders = nil
	p.cash = initialBalance
	p.lastEquity = initialBalance
	p.orderCounter = 0
}

// GetTrades returns all filled orders in submission order.
func (p *PaperBroker) GetTrades() []models.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()

	trades := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if o.Status == "filled" {
			trades = append(trades, o)
		}
	}
	return trades
}

// classify infers the asset class from the symbol shape: crypto pairs carry a
// slash and OCC option symbols end in an 8 digit strike.
// ClassOf infers the asset class from the symbol's shape: pairs such as
// BTC/USD are crypto and OCC contract symbols are options.
func ClassOf(symbol string) models.AssetClass {
	if IsCryptoSymbol(symbol) {
		return models.AssetCrypto
	}
	if isOCCSymbol(symbol) {
		return models.AssetOption
	}
	return models.AssetEquity
}

func isOCCSymbol(symbol string) bool {
	// ROOT + YYMMDD + C|P + 8 digit strike.
	n := len(symbol)
	if n < 16 {
		return false
	}
	for _, c := range symbol[n-8:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	cp := symbol[n-9]
	if cp != 'C' && cp != 'P' {
		return false
	}
	for _, c := range symbol[n-15 : n-9] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ Client = (*PaperBroker)(nil)
var _ Client = (*AlpacaBroker)(nil)
