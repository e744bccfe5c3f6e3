package broker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/models"
)

func newTestAlpaca(t *testing.T, handler http.HandlerFunc) *AlpacaBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlpacaBroker(AlpacaConfig{
		APIKey:        "key",
		SecretKey:     "secret",
		BaseURL:       srv.URL,
		DataURL:       srv.URL,
		RatePerSecond: 1000,
		Timeout:       2 * time.Second,
		OrderPrefix:   "trend_bot",
		Logger:        zerolog.Nop(),
	})
}

func TestAlpacaGetAccount(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = io.WriteString(w, `{"equity":"50000.5","last_equity":"49000","cash":"12000","buying_power":"24000","portfolio_value":"50000.5"}`)
	})

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50000.5, acct.Equity, 1e-9)
	assert.InDelta(t, 24000, acct.BuyingPower, 1e-9)

	pnl, pct := acct.DayPnL()
	assert.InDelta(t, 1000.5, pnl, 1e-9)
	assert.InDelta(t, 2.0418, pct, 1e-3)
}

func TestAlpacaLogsCalls(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"forbidden"}`)
	})
	var buf bytes.Buffer
	b.logger = zerolog.New(&buf)

	_, err := b.GetAccount(context.Background())
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"event":"api_call"`)
	assert.Contains(t, out, `"method":"GET"`)
	assert.Contains(t, out, `/v2/account"`)
	assert.Contains(t, out, "forbidden")
	assert.NotContains(t, out, "secret")
}

func TestAlpacaGetAllPositions(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"symbol":"BTCUSD","asset_class":"crypto","qty":"0.5","side":"long","market_value":"30000","unrealized_pl":"500","avg_entry_price":"59000","current_price":"60000"},
			{"symbol":"TSLA","asset_class":"us_equity","qty":"10","side":"short","market_value":"-2500","unrealized_pl":"-20","avg_entry_price":"248","current_price":"250"},
			{"symbol":"DIS250117P00090000","asset_class":"us_option","qty":"-1","side":"short","market_value":"-120","unrealized_pl":"30","avg_entry_price":"1.5","current_price":"1.2"}
		]`)
	})

	positions, err := b.GetAllPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 3)

	assert.Equal(t, models.AssetCrypto, positions[0].AssetClass)
	assert.Equal(t, "BTC/USD", positions[0].Symbol, "crypto symbols come back in pair form")
	assert.Equal(t, "TSLA", positions[1].Symbol)
	assert.InDelta(t, 0.5, positions[0].Quantity, 1e-9)
	assert.InDelta(t, -10, positions[1].Quantity, 1e-9)
	assert.Equal(t, models.AssetOption, positions[2].AssetClass)
	assert.InDelta(t, -1, positions[2].Quantity, 1e-9)
}

func TestAlpacaSubmitOrderIsNotRetried(t *testing.T) {
	var calls int32
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"code":50010000,"message":"internal"}`)
	})

	_, err := b.SubmitOrder(context.Background(), &models.Order{Symbol: "NVDA", Side: models.OrderSideBuy, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var berr *ferrors.BrokerError
	require.True(t, ferrors.As(err, &berr))
	assert.Equal(t, "500", berr.Code)
	assert.Equal(t, "internal", berr.Message)
}

func TestAlpacaSubmitOrderPayload(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req orderRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "BTC/USD", req.Symbol)
		assert.Equal(t, "250.00", req.Notional)
		assert.Empty(t, req.Qty)
		assert.Equal(t, "gtc", req.TimeInForce)
		assert.True(t, strings.HasPrefix(req.ClientOrderID, "trend_bot-"))
		_, _ = io.WriteString(w, `{"id":"abc","client_order_id":"`+req.ClientOrderID+`","symbol":"BTC/USD","side":"buy","type":"market","time_in_force":"gtc","notional":"250","filled_qty":"0","status":"accepted","submitted_at":"2026-03-02T15:00:00Z"}`)
	})

	order, err := b.SubmitOrder(context.Background(), &models.Order{Symbol: "BTC/USD", Side: models.OrderSideBuy, Notional: 250})
	require.NoError(t, err)
	assert.Equal(t, "abc", order.ID)
	assert.Equal(t, "accepted", order.Status)
	assert.InDelta(t, 250, order.Notional, 1e-9)
}

func TestAlpacaRetriesTransientReads(t *testing.T) {
	var calls int32
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"timestamp":"2026-03-02T15:00:00Z","is_open":true,"next_open":"2026-03-03T14:30:00Z","next_close":"2026-03-02T21:00:00Z"}`)
	})

	clock, err := b.GetClock(context.Background())
	require.NoError(t, err)
	assert.True(t, clock.IsOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAlpacaClientErrorIsPermanent(t *testing.T) {
	var calls int32
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"forbidden"}`)
	})

	_, err := b.GetAccount(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAlpacaHistoricalPaginates(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/SPY/bars", r.URL.Path)
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		if r.URL.Query().Get("page_token") == "" {
			_, _ = io.WriteString(w, `{"bars":[{"t":"2026-03-02T05:00:00Z","o":1,"h":2,"l":0.5,"c":1.5,"v":100}],"next_page_token":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"bars":[{"t":"2026-03-03T05:00:00Z","o":1.5,"h":2.5,"l":1,"c":2,"v":200}],"next_page_token":null}`)
	})

	candles, err := b.GetHistorical(context.Background(), HistoricalRequest{Symbol: "SPY", Timeframe: Timeframe1Day})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.InDelta(t, 2.0, candles[1].Close, 1e-9)
	assert.Equal(t, int64(200), candles[1].Volume)
}

func TestAlpacaCryptoBars(t *testing.T) {
	b := newTestAlpaca(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta3/crypto/us/bars", r.URL.Path)
		assert.Equal(t, "BTC/USD", r.URL.Query().Get("symbols"))
		_, _ = io.WriteString(w, `{"bars":{"BTC/USD":[{"t":"2026-03-02T00:00:00Z","o":1,"h":2,"l":0.5,"c":1.5,"v":3.5}]}}`)
	})

	candles, err := b.GetHistorical(context.Background(), HistoricalRequest{Symbol: "BTC/USD", Timeframe: Timeframe1Hour})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.InDelta(t, 1.5, candles[0].Close, 1e-9)
}
