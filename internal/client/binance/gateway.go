package binanceclient

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dcaladder/internal/market"
)

// PlaceOrder submits a limit order. Only limit buys are used by the ladder
// executor, but sells go through for completeness.
func (c *Client) PlaceOrder(ctx context.Context, req market.PlaceOrderRequest) (*market.PlaceOrderResponse, error) {
	side := binance.SideTypeBuy
	if req.Side == market.SideSell {
		side = binance.SideTypeSell
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.Quantity.String()).
		Price(req.Price.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return &market.PlaceOrderResponse{Success: false, Message: err.Error()}, errors.Wrap(err, "create order")
	}

	if c.logger != nil {
		c.logger.Info("order submitted",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(side)),
			zap.String("price", req.Price.String()),
			zap.String("quantity", req.Quantity.String()),
			zap.Int64("order_id", resp.OrderID),
			zap.String("reason", req.Reason))
	}

	raw, _ := json.Marshal(resp)
	return &market.PlaceOrderResponse{
		Success: true,
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Raw:     raw,
	}, nil
}
