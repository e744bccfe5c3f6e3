package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/models"
)

const (
	PaperTradingURL = "https://paper-api.alpaca.markets"
	LiveTradingURL  = "https://api.alpaca.markets"
	MarketDataURL   = "https://data.alpaca.markets"

	defaultRatePerSecond = 3
	defaultCallTimeout   = 15 * time.Second
	maxRetries           = 3
)

// AlpacaConfig holds configuration for the Alpaca REST client.
type AlpacaConfig struct {
	APIKey        string
	SecretKey     string
	Paper         bool
	BaseURL       string // overrides the paper/live trading endpoint
	DataURL       string
	RatePerSecond float64
	Timeout       time.Duration
	// OrderPrefix is prepended to generated client order ids so orders can be
	// traced back to the bot that sent them.
	OrderPrefix string
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// AlpacaBroker talks to the Alpaca trading and market data REST APIs.
type AlpacaBroker struct {
	cfg     AlpacaConfig
	baseURL string
	dataURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewAlpacaBroker creates a new Alpaca client.
func NewAlpacaBroker(cfg AlpacaConfig) *AlpacaBroker {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = LiveTradingURL
		if cfg.Paper {
			baseURL = PaperTradingURL
		}
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = MarketDataURL
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &AlpacaBroker{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		dataURL: strings.TrimRight(dataURL, "/"),
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  cfg.Logger.With().Str("component", "alpaca").Logger(),
	}
}

type accountResponse struct {
	Equity         decimal.Decimal `json:"equity"`
	LastEquity     decimal.Decimal `json:"last_equity"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	AssetClass    string          `json:"asset_class"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
}

type clockResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	TimeInForce    string           `json:"time_in_force"`
	Qty            *decimal.Decimal `json:"qty"`
	Notional       *decimal.Decimal `json:"notional"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	Status         string           `json:"status"`
	SubmittedAt    time.Time        `json:"submitted_at"`
}

type barResponse struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type stockBarsResponse struct {
	Bars          []barResponse `json:"bars"`
	NextPageToken *string       `json:"next_page_token"`
}

type cryptoBarsResponse struct {
	Bars          map[string][]barResponse `json:"bars"`
	NextPageToken *string                  `json:"next_page_token"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetAccount returns the account snapshot.
func (a *AlpacaBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	var resp accountResponse
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/account", nil, &resp); err != nil {
		return nil, err
	}
	return &models.Account{
		Equity:         resp.Equity.InexactFloat64(),
		LastEquity:     resp.LastEquity.InexactFloat64(),
		Cash:           resp.Cash.InexactFloat64(),
		BuyingPower:    resp.BuyingPower.InexactFloat64(),
		PortfolioValue: resp.PortfolioValue.InexactFloat64(),
	}, nil
}

// GetAllPositions returns every open position.
func (a *AlpacaBroker) GetAllPositions(ctx context.Context) ([]models.Position, error) {
	var resp []positionResponse
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/positions", nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(resp))
	for _, p := range resp {
		qty := p.Qty
		// Alpaca reports short quantity as positive with side=short on some
		// asset classes.
		if strings.EqualFold(p.Side, "short") && qty.IsPositive() {
			qty = qty.Neg()
		}
		class := models.ParseAssetClass(p.AssetClass)
		symbol := p.Symbol
		if class == models.AssetCrypto {
			symbol = CryptoPair(symbol)
		}
		positions = append(positions, models.Position{
			Symbol:        symbol,
			AssetClass:    class,
			Quantity:      qty.InexactFloat64(),
			MarketValue:   p.MarketValue.InexactFloat64(),
			UnrealizedPL:  p.UnrealizedPL.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:  p.CurrentPrice.InexactFloat64(),
		})
	}
	return positions, nil
}

// GetClock returns the trading session state.
func (a *AlpacaBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	var resp clockResponse
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/clock", nil, &resp); err != nil {
		return nil, err
	}
	return &models.Clock{
		Timestamp: resp.Timestamp,
		IsOpen:    resp.IsOpen,
		NextOpen:  resp.NextOpen,
		NextClose: resp.NextClose,
	}, nil
}

// SubmitOrder places an order. Orders are never retried: a POST that timed
// out may still have reached the exchange.
func (a *AlpacaBroker) SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order == nil {
		return nil, ferrors.NewValidationError("order", nil, "order is required")
	}
	if order.Quantity <= 0 && order.Notional <= 0 {
		return nil, ferrors.NewValidationError("quantity", order.Quantity, "quantity or notional must be positive")
	}
	req := orderRequest{
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		TimeInForce:   string(order.TimeInForce),
		ClientOrderID: order.ClientOrderID,
	}
	if req.Type == "" {
		req.Type = string(models.OrderTypeMarket)
	}
	if req.TimeInForce == "" {
		req.TimeInForce = string(models.TimeInForceDay)
		if IsCryptoSymbol(order.Symbol) {
			req.TimeInForce = string(models.TimeInForceGTC)
		}
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = a.newClientOrderID()
	}
	if order.Notional > 0 {
		req.Notional = decimal.NewFromFloat(order.Notional).StringFixed(2)
	} else {
		req.Qty = decimal.NewFromFloat(order.Quantity).String()
	}
	if order.Type == models.OrderTypeLimit {
		req.LimitPrice = decimal.NewFromFloat(order.LimitPrice).String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, ferrors.Wrap(err, "encode order")
	}

	var resp orderResponse
	if err := a.doOnce(ctx, http.MethodPost, a.baseURL+"/v2/orders", body, &resp); err != nil {
		return nil, err
	}
	a.logger.Info().
		Str("symbol", resp.Symbol).
		Str("side", resp.Side).
		Str("order_id", resp.ID).
		Str("client_order_id", resp.ClientOrderID).
		Msg("order submitted")
	return resp.toModel(), nil
}

// GetHistorical fetches bars for a stock or crypto symbol, following
// pagination until the window is exhausted or Limit bars are collected.
func (a *AlpacaBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	if req.Timeframe == "" {
		req.Timeframe = Timeframe1Day
	}
	params := url.Values{}
	params.Set("timeframe", string(req.Timeframe))
	if !req.From.IsZero() {
		params.Set("start", req.From.UTC().Format(time.RFC3339))
	}
	if !req.To.IsZero() {
		params.Set("end", req.To.UTC().Format(time.RFC3339))
	}
	params.Set("limit", "10000")

	crypto := IsCryptoSymbol(req.Symbol)
	var endpoint string
	if crypto {
		params.Set("symbols", req.Symbol)
		endpoint = a.dataURL + "/v1beta3/crypto/us/bars"
	} else {
		params.Set("adjustment", "all")
		endpoint = a.dataURL + "/v2/stocks/" + url.PathEscape(req.Symbol) + "/bars"
	}

	var candles []models.Candle
	for {
		var bars []barResponse
		var next *string
		if crypto {
			var resp cryptoBarsResponse
			if err := a.do(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil, &resp); err != nil {
				return nil, err
			}
			bars, next = resp.Bars[req.Symbol], resp.NextPageToken
		} else {
			var resp stockBarsResponse
			if err := a.do(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil, &resp); err != nil {
				return nil, err
			}
			bars, next = resp.Bars, resp.NextPageToken
		}
		for _, b := range bars {
			candles = append(candles, models.Candle{
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    int64(b.Volume),
			})
		}
		if next == nil || *next == "" || (req.Limit > 0 && len(candles) >= req.Limit) {
			break
		}
		params.Set("page_token", *next)
	}

	if req.Limit > 0 && len(candles) > req.Limit {
		candles = candles[len(candles)-req.Limit:]
	}
	return candles, nil
}

func (a *AlpacaBroker) newClientOrderID() string {
	id := uuid.NewString()
	if a.cfg.OrderPrefix == "" {
		return id
	}
	return a.cfg.OrderPrefix + "-" + id
}

// do performs an idempotent request, retrying transient failures.
func (a *AlpacaBroker) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := a.doOnce(ctx, method, endpoint, body, out)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetries))
	return err
}

// retryable reports whether a failed read is worth repeating: network
// failures, throttling and server errors.
func retryable(err error) bool {
	var berr *ferrors.BrokerError
	if !ferrors.As(err, &berr) {
		return false
	}
	if berr.Code == "NETWORK" || berr.Code == "429" {
		return true
	}
	code, convErr := strconv.Atoi(berr.Code)
	return convErr == nil && code >= 500
}

// doOnce performs a single request.
func (a *AlpacaBroker) doOnce(ctx context.Context, method, endpoint string, body []byte, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		path, _, _ := strings.Cut(endpoint, "?")
		logging.LogAPICall(a.logger, method, path, time.Since(start), err)
	}()

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return ferrors.NewBrokerError("NETWORK", method+" "+req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var apiErr apiError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return ferrors.NewBrokerError(strconv.Itoa(resp.StatusCode), msg, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ferrors.NewBrokerError("DECODE", req.URL.Path, err)
	}
	return nil
}

func (r orderResponse) toModel() *models.Order {
	o := &models.Order{
		ID:            r.ID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          models.OrderSide(r.Side),
		Type:          models.OrderType(r.Type),
		TimeInForce:   models.TimeInForce(r.TimeInForce),
		Status:        r.Status,
		FilledQty:     r.FilledQty.InexactFloat64(),
		PlacedAt:      r.SubmittedAt,
	}
	if r.Qty != nil {
		o.Quantity = r.Qty.InexactFloat64()
	}
	if r.Notional != nil {
		o.Notional = r.Notional.InexactFloat64()
	}
	if r.LimitPrice != nil {
		o.LimitPrice = r.LimitPrice.InexactFloat64()
	}
	if r.FilledAvgPrice != nil {
		o.AveragePrice = r.FilledAvgPrice.InexactFloat64()
	}
	return o
}
