package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/models"
)

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 10000, MarketOpen: true})
	p.UpdatePrice("NVDA", 100)

	_, err := p.SubmitOrder(ctx, &models.Order{Symbol: "NVDA", Side: models.OrderSideBuy, Quantity: 10})
	require.NoError(t, err)

	p.UpdatePrice("NVDA", 110)
	positions, err := p.GetAllPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1100, positions[0].MarketValue, 1e-9)
	assert.InDelta(t, 100, positions[0].UnrealizedPL, 1e-9)
	assert.Equal(t, models.AssetEquity, positions[0].AssetClass)

	_, err = p.SubmitOrder(ctx, &models.Order{Symbol: "NVDA", Side: models.OrderSideSell, Quantity: 10})
	require.NoError(t, err)

	acct, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10100, acct.Equity, 1e-9)
	assert.Len(t, p.GetTrades(), 2)

	positions, err = p.GetAllPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperNotionalCryptoOrder(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 1000})
	p.UpdatePrice("BTC/USD", 50000)

	order, err := p.SubmitOrder(ctx, &models.Order{Symbol: "BTC/USD", Side: models.OrderSideBuy, Notional: 500})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, order.FilledQty, 1e-12)

	positions, _ := p.GetAllPositions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, models.AssetCrypto, positions[0].AssetClass)
}

func TestPaperInsufficientFunds(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 100})
	p.UpdatePrice("SPY", 500)

	_, err := p.SubmitOrder(context.Background(), &models.Order{Symbol: "SPY", Side: models.OrderSideBuy, Quantity: 1})
	var berr *ferrors.BrokerError
	require.True(t, ferrors.As(err, &berr))
	assert.Equal(t, "INSUFFICIENT_FUNDS", berr.Code)
}

func TestPaperUnfilledLimit(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{})
	p.UpdatePrice("F", 12)

	order, err := p.SubmitOrder(context.Background(), &models.Order{
		Symbol: "F", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, LimitPrice: 11, Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "new", order.Status)
	assert.Empty(t, p.GetTrades())
}

func TestPaperHistoricalFromSetBars(t *testing.T) {
	p := NewPaperBroker(PaperBrokerConfig{})
	_, err := p.GetHistorical(context.Background(), HistoricalRequest{Symbol: "SPY"})
	assert.True(t, ferrors.Is(err, ferrors.ErrInsufficientData))

	p.SetBars("SPY", []models.Candle{{Close: 1}, {Close: 2}, {Close: 3}})
	bars, err := p.GetHistorical(context.Background(), HistoricalRequest{Symbol: "SPY", Limit: 2})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 2, bars[0].Close, 1e-9)
}

func TestClassifySymbols(t *testing.T) {
	assert.Equal(t, models.AssetCrypto, ClassOf("ETH/USD"))
	assert.Equal(t, models.AssetOption, ClassOf("DIS250117P00090000"))
	assert.Equal(t, models.AssetOption, ClassOf("F250117C00012000"))
	assert.Equal(t, models.AssetEquity, ClassOf("TQQQ"))
	assert.Equal(t, models.AssetEquity, ClassOf("AAPL"))
}

func TestCryptoPair(t *testing.T) {
	assert.Equal(t, "BTC/USD", CryptoPair("BTCUSD"))
	assert.Equal(t, "ETH/USDT", CryptoPair("ETHUSDT"))
	assert.Equal(t, "SOL/USDC", CryptoPair("SOLUSDC"))
	assert.Equal(t, "ETH/BTC", CryptoPair("ETHBTC"))
	assert.Equal(t, "BTC/USD", CryptoPair("BTC/USD"))
	assert.Equal(t, "USD", CryptoPair("USD"))
}

// liveFeed stands in for the Alpaca client behind a dry run.
type liveFeed struct {
	bars []models.Candle
	open bool
}

func (f liveFeed) GetHistorical(context.Context, HistoricalRequest) ([]models.Candle, error) {
	return f.bars, nil
}

func (f liveFeed) GetClock(context.Context) (*models.Clock, error) {
	return &models.Clock{Timestamp: time.Now(), IsOpen: f.open}, nil
}

func TestPaperDryRunUsesLiveFeed(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker(PaperBrokerConfig{
		Data:           liveFeed{bars: []models.Candle{{Close: 48}, {Close: 50}}},
		InitialBalance: 10000,
		MarketOpen:     true,
	})

	clock, err := p.GetClock(ctx)
	require.NoError(t, err)
	assert.False(t, clock.IsOpen, "session comes from the feed")

	_, err = p.SubmitOrder(ctx, &models.Order{Symbol: "NVDA", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: 10})
	assert.Error(t, err, "no price before bars were read")

	_, err = p.GetHistorical(ctx, HistoricalRequest{Symbol: "NVDA", Timeframe: Timeframe1Day})
	require.NoError(t, err)
	order, err := p.SubmitOrder(ctx, &models.Order{Symbol: "NVDA", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: 10})
	require.NoError(t, err)
	assert.InDelta(t, 50, order.AveragePrice, 1e-9)

	acct, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9500, acct.Cash, 1e-9)
}
