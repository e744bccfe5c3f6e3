// Package scout watches sector ETFs and publishes the symbols worth trading
// today to the targets side file read by strategy workers.
package scout

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"fleet-trader/internal/broker"
	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/logging"
	"fleet-trader/internal/metrics"
	"fleet-trader/internal/models"
)

// DefaultSectorMap maps each sector ETF to the stocks it activates.
func DefaultSectorMap() map[string][]string {
	return map[string][]string{
		"XLK":  {"NVDA", "AMD", "MSFT", "PLTR"},
		"XLE":  {"XOM", "CVX", "OXY"},
		"XLF":  {"JPM", "BAC", "GS"},
		"XLV":  {"LLY", "UNH", "PFE"},
		"GLD":  {"GLD", "NEM", "GOLD"},
		"SLV":  {"SLV", "AG", "PAAS"},
		"BITO": {"BITI", "MSTR", "COIN", "MARA", "CLSK"},
		"XBI":  {"LABU", "XBI"},
		"SMH":  {"SOXL", "NVDA", "TSM"},
	}
}

// DefaultBaseList is always part of the targets.
var DefaultBaseList = []string{"SPY", "QQQ", "IWM"}

// Config tunes the scout.
type Config struct {
	SectorMap map[string][]string
	BaseList  []string
	// MomentumThreshold is the absolute daily move that activates a sector.
	MomentumThreshold float64
	TargetsPath       string
	// StartHour and EndHour bound the local hours the scout scans in.
	StartHour   int
	EndHour     int
	Concurrency int
}

// DefaultConfig returns a 2% threshold scanned between 08:00 and 17:59.
func DefaultConfig() Config {
	return Config{
		SectorMap:         DefaultSectorMap(),
		BaseList:          DefaultBaseList,
		MomentumThreshold: 0.02,
		TargetsPath:       "active_targets.json",
		StartHour:         8,
		EndHour:           17,
		Concurrency:       4,
	}
}

// Options wires a Scout.
type Options struct {
	Data   broker.MarketData
	Sink   metrics.Sink
	Config Config
	Logger zerolog.Logger
}

// Scout runs sector scans.
type Scout struct {
	data   broker.MarketData
	sink   metrics.Sink
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a Scout.
func New(opts Options) *Scout {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.SectorMap == nil {
		cfg.SectorMap = def.SectorMap
	}
	if cfg.BaseList == nil {
		cfg.BaseList = def.BaseList
	}
	if cfg.MomentumThreshold <= 0 {
		cfg.MomentumThreshold = def.MomentumThreshold
	}
	if cfg.TargetsPath == "" {
		cfg.TargetsPath = def.TargetsPath
	}
	if cfg.StartHour == 0 && cfg.EndHour == 0 {
		cfg.StartHour, cfg.EndHour = def.StartHour, def.EndHour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop{}
	}
	return &Scout{
		data:   opts.Data,
		sink:   opts.Sink,
		cfg:    cfg,
		now:    time.Now,
		logger: logging.WithComponent(opts.Logger, "scout"),
	}
}

// SectorMove is one ETF's daily change.
type SectorMove struct {
	Sector string
	Move   float64
	Active bool
	Err    error
}

// Result summarises a scan.
type Result struct {
	Skipped bool
	Moves   []SectorMove
	Targets []string
}

// RunCycle scans every sector, publishes the moves and rewrites the targets
// file. Outside scanning hours it does nothing.
func (s *Scout) RunCycle(ctx context.Context) (Result, error) {
	now := s.now()
	if h := now.Hour(); h < s.cfg.StartHour || h > s.cfg.EndHour {
		s.logger.Debug().Int("hour", h).Msg("outside scanning hours")
		return Result{Skipped: true}, nil
	}

	moves := s.scan(ctx, now)
	var failed int
	points := make([]metrics.Point, 0, len(moves))
	for _, m := range moves {
		if m.Err != nil {
			failed++
			s.logger.Warn().Err(m.Err).Str("sector", m.Sector).Msg("sector skipped")
			continue
		}
		status := "Inactive"
		if m.Active {
			status = "Active"
		}
		s.logger.Info().Str("sector", m.Sector).Float64("move_pct", m.Move*100).Bool("active", m.Active).Msg("sector")
		points = append(points, metrics.Point{
			Measurement: metrics.MeasurementSectorScout,
			Tags:        map[string]string{"sector": m.Sector},
			Fields:      map[string]interface{}{"move_pct": m.Move, "status": status},
			Time:        now,
		})
	}
	metrics.Publish(ctx, s.sink, s.logger, points...)

	if len(moves) > 0 && failed == len(moves) {
		return Result{Moves: moves}, fmt.Errorf("scout: every sector fetch failed: %w", moves[0].Err)
	}

	targets := Targets(s.cfg.BaseList, moves, s.cfg.SectorMap)
	if err := fleet.WriteTargets(s.cfg.TargetsPath, targets, now); err != nil {
		return Result{Moves: moves}, ferrors.Wrap(err, "write targets")
	}
	s.logger.Info().Int("targets", len(targets)).Str("path", s.cfg.TargetsPath).Msg("target list updated")
	return Result{Moves: moves, Targets: targets}, nil
}

func (s *Scout) scan(ctx context.Context, now time.Time) []SectorMove {
	sectors := make([]string, 0, len(s.cfg.SectorMap))
	for etf := range s.cfg.SectorMap {
		sectors = append(sectors, etf)
	}
	sort.Strings(sectors)

	p := pool.NewWithResults[SectorMove]().WithMaxGoroutines(s.cfg.Concurrency)
	for _, etf := range sectors {
		etf := etf
		p.Go(func() SectorMove {
			candles, err := s.data.GetHistorical(ctx, broker.HistoricalRequest{
				Symbol:    etf,
				Timeframe: broker.Timeframe1Day,
				From:      now.AddDate(0, 0, -7),
				To:        now,
				Limit:     5,
			})
			if err != nil {
				return SectorMove{Sector: etf, Err: err}
			}
			move, err := Move(candles)
			if err != nil {
				return SectorMove{Sector: etf, Err: err}
			}
			return SectorMove{Sector: etf, Move: move, Active: math.Abs(move) >= s.cfg.MomentumThreshold}
		})
	}
	moves := p.Wait()
	sort.Slice(moves, func(i, j int) bool { return moves[i].Sector < moves[j].Sector })
	return moves
}

// Move is the last close against the one before it.
func Move(candles []models.Candle) (float64, error) {
	if len(candles) < 2 {
		return 0, fmt.Errorf("%w: need 2 daily bars, have %d", ferrors.ErrInsufficientData, len(candles))
	}
	prev := candles[len(candles)-2].Close
	if prev == 0 {
		return 0, fmt.Errorf("%w: zero previous close", ferrors.ErrInsufficientData)
	}
	return (candles[len(candles)-1].Close - prev) / prev, nil
}

// Targets is the base list plus the stocks of every active sector,
// de-duplicated and sorted.
func Targets(base []string, moves []SectorMove, sectorMap map[string][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(sym string) {
		if _, ok := seen[sym]; ok {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	for _, sym := range base {
		add(sym)
	}
	for _, m := range moves {
		if m.Err != nil || !m.Active {
			continue
		}
		for _, sym := range sectorMap[m.Sector] {
			add(sym)
		}
	}
	sort.Strings(out)
	return out
}
