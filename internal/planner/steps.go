package planner

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"dcaladder/internal/market"
	"dcaladder/internal/models"
)

var satoshi = decimal.New(1, -8)

// StepSpec is one fully derived ladder step, ready to persist.
type StepSpec struct {
	StepNumber    int
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	TickAdjusted  bool
	Amount        decimal.Decimal
	Quantity      decimal.Decimal
	Source        string
	DistancePct   decimal.Decimal
}

// ZeroQuantityError reports a step whose allocated amount cannot buy a single
// unit (or satoshi) at its target price. The whole plan is rejected rather
// than silently shrinking the ladder.
type ZeroQuantityError struct {
	StepNumber int
	Price      decimal.Decimal
	MinAmount  decimal.Decimal
}

func (e *ZeroQuantityError) Error() string {
	return fmt.Sprintf("step %d allocates zero quantity at price %s, minimum viable amount is %s",
		e.StepNumber, e.Price.String(), e.MinAmount.String())
}

// BuildSteps derives the per-step amounts and quantities from the weight
// vector and level ladder. Prices are conformed to the venue tick before
// quantity math so what we persist is what we would actually quote.
func BuildSteps(ctx context.Context, symbol string, mkt models.MarketClass, total decimal.Decimal, weights []decimal.Decimal, levels []Level, currentPrice decimal.Decimal, conformer market.TickConformer) ([]StepSpec, error) {
	if len(weights) != len(levels) {
		return nil, fmt.Errorf("weight count %d does not match level count %d", len(weights), len(levels))
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("total amount must be positive, got %s", total.String())
	}

	steps := make([]StepSpec, 0, len(levels))
	for i, lvl := range levels {
		stepNo := i + 1
		price := lvl.Price
		spec := StepSpec{
			StepNumber: stepNo,
			Price:      price,
			Source:     lvl.Source,
		}

		if conformer != nil {
			conformed, err := conformer.Conform(ctx, symbol, price, mkt, market.SideBuy)
			if err != nil {
				return nil, fmt.Errorf("conform step %d price: %w", stepNo, err)
			}
			if !conformed.Equal(price) {
				orig := price
				spec.OriginalPrice = &orig
				spec.TickAdjusted = true
				spec.Price = conformed
				price = conformed
			}
		}

		// Amounts are stored at numeric(30,10) scale; rounding here also
		// collapses the residue a repeating-fraction weight leaves behind.
		spec.Amount = total.Mul(weights[i]).Round(10)

		qty := spec.Amount.Div(price)
		if mkt.FractionalQuantity() {
			qty = qty.RoundDown(8)
		} else {
			qty = qty.Floor()
		}
		if qty.IsZero() {
			minAmount := price
			if mkt.FractionalQuantity() {
				minAmount = price.Mul(satoshi)
			}
			return nil, &ZeroQuantityError{StepNumber: stepNo, Price: price, MinAmount: minAmount}
		}
		spec.Quantity = qty

		spec.DistancePct = price.Sub(currentPrice).Div(currentPrice).Mul(hundred).Round(2)
		steps = append(steps, spec)
	}
	return steps, nil
}
