package binanceclient

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"dcaladder/internal/market"
	"dcaladder/internal/models"
)

// Conform snaps a price onto the symbol's PRICE_FILTER tick grid. Buys round
// down (never quote above the intended level), sells round up. Filters are
// fetched once per symbol and cached for the client's lifetime.
func (c *Client) Conform(ctx context.Context, symbol string, price decimal.Decimal, _ models.MarketClass, side market.Side) (decimal.Decimal, error) {
	filter, err := c.filterFor(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if filter.tickSize.IsZero() {
		return price, nil
	}

	ticks := price.Div(filter.tickSize)
	if side == market.SideBuy {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	return ticks.Mul(filter.tickSize), nil
}

func (c *Client) filterFor(ctx context.Context, symbol string) (priceFilter, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return priceFilter{}, errors.Wrapf(err, "exchange info for %s", symbol)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		pf := s.PriceFilter()
		if pf == nil {
			return priceFilter{}, errors.Errorf("no price filter for %s", symbol)
		}
		tick, err := decimal.NewFromString(pf.TickSize)
		if err != nil {
			return priceFilter{}, errors.Wrapf(err, "parse tick size %q", pf.TickSize)
		}
		f = priceFilter{tickSize: tick}
		c.mu.Lock()
		c.filters[symbol] = f
		c.mu.Unlock()
		return f, nil
	}
	return priceFilter{}, errors.Errorf("symbol %s not found in exchange info", symbol)
}
