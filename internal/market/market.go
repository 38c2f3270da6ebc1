// Package market declares the external collaborators the planning engine
// talks to: price/indicator discovery, tick-size conformance and the order
// gateway. Implementations are injected at construction time so tests can
// substitute fakes.
package market

import (
	"context"

	"github.com/shopspring/decimal"

	"dcaladder/internal/models"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceLevel is one detected support or resistance level. Source carries the
// detector's own tag and is persisted verbatim on the step it produces.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
}

// SupportResistance is a snapshot of the technical picture for a symbol.
// Supports are expected below the current price, nearest first; the engine
// re-sorts defensively before planning.
type SupportResistance struct {
	CurrentPrice decimal.Decimal `json:"current_price"`
	Supports     []PriceLevel    `json:"supports"`
	Resistances  []PriceLevel    `json:"resistances"`
}

// IndicatorValue is a single technical-indicator reading.
type IndicatorValue struct {
	Value float64 `json:"value"`
}

// MarketData supplies current price, support/resistance levels and indicator
// readings. Discovery itself (clustering, detection) lives behind this
// interface and is not part of the engine.
type MarketData interface {
	GetSupportResistance(ctx context.Context, symbol string) (*SupportResistance, error)
	GetIndicator(ctx context.Context, symbol, name string) (*IndicatorValue, error)
}

// TickConformer rounds a price to a valid exchange increment for a market.
// Direction matters: buys round toward cheaper, sells toward pricier.
type TickConformer interface {
	Conform(ctx context.Context, symbol string, price decimal.Decimal, market models.MarketClass, side Side) (decimal.Decimal, error)
}

// PlaceOrderRequest describes one limit order. Reason tags the request with
// plan/step provenance for downstream auditing.
type PlaceOrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	ClientOrderID string          `json:"client_order_id"`
	Reason        string          `json:"reason"`
}

// OrderGateway places orders against the brokerage/exchange.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error)
}
