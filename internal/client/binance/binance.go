// Package binanceclient adapts the Binance spot API to the engine's market
// collaborator interfaces.
package binanceclient

import (
	"context"
	"sort"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcaladder/internal/market"
)

const (
	klineInterval = "4h"
	klineLimit    = 200
	// Swing detection looks this many candles to each side of a pivot.
	swingWindow = 2
	rsiPeriod   = 14
)

// Client implements market.MarketData, market.TickConformer and
// market.OrderGateway against Binance spot.
type Client struct {
	api    *binance.Client
	logger *zap.Logger

	mu      sync.RWMutex
	filters map[string]priceFilter
}

type priceFilter struct {
	tickSize decimal.Decimal
}

func New(apiKey, secretKey string, logger *zap.Logger) *Client {
	return &Client{
		api:     binance.NewClient(apiKey, secretKey),
		logger:  logger,
		filters: make(map[string]priceFilter),
	}
}

// GetSupportResistance derives supports and resistances from recent 4h
// candles: swing lows below the current price become supports ordered
// nearest-first, swing highs above it become resistances.
func (c *Client) GetSupportResistance(ctx context.Context, symbol string) (*market.SupportResistance, error) {
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(klineInterval).
		Limit(klineLimit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "klines for %s", symbol)
	}
	if len(klines) == 0 {
		return nil, errors.Errorf("no klines for %s", symbol)
	}

	lows := make([]decimal.Decimal, 0, len(klines))
	highs := make([]decimal.Decimal, 0, len(klines))
	for _, k := range klines {
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline low")
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline high")
		}
		lows = append(lows, low)
		highs = append(highs, high)
	}
	current, err := decimal.NewFromString(klines[len(klines)-1].Close)
	if err != nil {
		return nil, errors.Wrap(err, "parse kline close")
	}

	sr := &market.SupportResistance{CurrentPrice: current}
	for _, p := range swingPivots(lows, true) {
		if p.LessThan(current) {
			sr.Supports = append(sr.Supports, market.PriceLevel{Price: p, Source: "swing_low"})
		}
	}
	for _, p := range swingPivots(highs, false) {
		if p.GreaterThan(current) {
			sr.Resistances = append(sr.Resistances, market.PriceLevel{Price: p, Source: "swing_high"})
		}
	}
	sortLevelsNearest(sr.Supports, true)
	sortLevelsNearest(sr.Resistances, false)
	return sr, nil
}

// GetIndicator supports "rsi" (14-period, Wilder smoothing on 4h closes).
func (c *Client) GetIndicator(ctx context.Context, symbol, name string) (*market.IndicatorValue, error) {
	if name != "rsi" {
		return nil, errors.Errorf("unsupported indicator %q", name)
	}
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(klineInterval).
		Limit(rsiPeriod * 5).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "klines for %s", symbol)
	}
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		d, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline close")
		}
		f, _ := d.Float64()
		closes = append(closes, f)
	}
	v, ok := rsiWilder(closes, rsiPeriod)
	if !ok {
		return nil, errors.Errorf("not enough candles for rsi(%d) on %s", rsiPeriod, symbol)
	}
	return &market.IndicatorValue{Value: v}, nil
}

// swingPivots returns local extrema: entries lower (or higher) than every
// neighbor within swingWindow candles on both sides.
func swingPivots(series []decimal.Decimal, lows bool) []decimal.Decimal {
	var out []decimal.Decimal
	for i := swingWindow; i < len(series)-swingWindow; i++ {
		pivot := true
		for j := i - swingWindow; j <= i+swingWindow; j++ {
			if j == i {
				continue
			}
			if lows && series[j].LessThan(series[i]) {
				pivot = false
				break
			}
			if !lows && series[j].GreaterThan(series[i]) {
				pivot = false
				break
			}
		}
		if pivot {
			out = append(out, series[i])
		}
	}
	return out
}

func sortLevelsNearest(levels []market.PriceLevel, descending bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}
