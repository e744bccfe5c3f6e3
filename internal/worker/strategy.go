package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"fleet-trader/internal/broker"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
	"fleet-trader/internal/regime"
)

// Input is what a strategy sees for one symbol.
type Input struct {
	Symbol string
	Regime fleet.RegimeTag
	// Position is the bot's current holding in Symbol, nil when flat.
	Position *models.Position
	Now      time.Time
}

// Signal is a strategy's request to trade. A nil Signal means hold.
type Signal struct {
	Symbol   string
	Side     models.OrderSide
	Quantity float64
	// Notional is used instead of Quantity for fractional crypto buys.
	Notional float64
	// Price is the reference price the decision was made at.
	Price  float64
	Kind   string
	Reason string
}

// Strategy decides per symbol. Implementations must be safe for concurrent
// use; the worker evaluates symbols in parallel.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (*Signal, error)
}

// SMACrossConfig tunes SMACross.
type SMACrossConfig struct {
	Period int
	// Notional is the dollar size of each entry.
	Notional float64
}

// SMACross buys when the daily close crosses above its moving average and
// exits a held position when it closes below.
type SMACross struct {
	data broker.MarketData
	cfg  SMACrossConfig
}

// NewSMACross creates the strategy, defaulting to a 20 day average and
// $1,000 entries.
func NewSMACross(data broker.MarketData, cfg SMACrossConfig) *SMACross {
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.Notional <= 0 {
		cfg.Notional = 1000
	}
	return &SMACross{data: data, cfg: cfg}
}

func (s *SMACross) Name() string { return fmt.Sprintf("sma_cross_%d", s.cfg.Period) }

func (s *SMACross) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	candles, err := s.data.GetHistorical(ctx, broker.HistoricalRequest{
		Symbol:    in.Symbol,
		Timeframe: broker.Timeframe1Day,
		From:      in.Now.AddDate(0, 0, -3*s.cfg.Period),
		To:        in.Now,
		Limit:     s.cfg.Period + 1,
	})
	if err != nil {
		return nil, err
	}
	ma, err := regime.SMA(candles, s.cfg.Period)
	if err != nil {
		return nil, err
	}
	last := candles[len(candles)-1].Close
	avg := ma[len(ma)-1]
	held := in.Position != nil && in.Position.Quantity > 0

	switch {
	case !held && last > avg:
		sig := &Signal{
			Symbol: in.Symbol,
			Side:   models.OrderSideBuy,
			Price:  last,
			Kind:   "buy",
			Reason: fmt.Sprintf("close %.2f above sma %.2f", last, avg),
		}
		if broker.IsCryptoSymbol(in.Symbol) {
			sig.Notional = s.cfg.Notional
		} else {
			sig.Quantity = math.Floor(s.cfg.Notional / last)
			if sig.Quantity < 1 {
				return nil, nil
			}
		}
		return sig, nil
	case held && last < avg:
		return &Signal{
			Symbol:   in.Symbol,
			Side:     models.OrderSideSell,
			Quantity: in.Position.Quantity,
			Price:    last,
			Kind:     "sell",
			Reason:   fmt.Sprintf("close %.2f below sma %.2f", last, avg),
		}, nil
	}
	return nil, nil
}
