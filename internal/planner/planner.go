// Package planner turns a price snapshot and a strategy into an ordered
// ladder of buy levels with a normalized capital-weight vector. Everything
// here is pure: no clock, no IO, no storage.
package planner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dcaladder/internal/models"
)

// Level-source tags produced by the planner itself. Detector-supplied levels
// keep whatever tag the detector gave them.
const (
	SourceInterpolated    = "interpolated"
	SourceSynthetic       = "synthetic"
	SourceEqualSpaced     = "equal_spaced"
	SourceAggressiveFirst = "aggressive_first"
)

// Weight modes reported in the plan summary.
const (
	WeightFrontLoaded = "front_loaded"
	WeightBackLoaded  = "back_loaded"
	WeightEqual       = "equal"
)

const (
	MinSplitCount = 2
	MaxSplitCount = 5

	// RSI bands: below oversold the ladder front-loads capital, above
	// overbought it back-loads, in between (or with no reading) it splits
	// evenly.
	oversoldRSI   = 30.0
	overboughtRSI = 50.0
)

var (
	one = decimal.NewFromInt(1)
	// 2% ladder spacing used for synthetic levels and single-support
	// interpolation.
	defaultDecrementPct = decimal.NewFromFloat(0.02)
	// Floor for the equal strategy when no supports exist: 10% below.
	equalFallbackFloor = decimal.NewFromFloat(0.90)
	// First aggressive level sits 0.5% under the current price.
	aggressiveFirstFactor = decimal.NewFromFloat(0.995)
	hundred               = decimal.NewFromInt(100)
)

// Level is one planned buy price with its provenance tag.
type Level struct {
	Price  decimal.Decimal
	Source string
}

// ComputeWeights returns splitCount non-negative weights summing to 1 and the
// mode that produced them. rsi is nil when no indicator reading exists.
func ComputeWeights(rsi *float64, splitCount int) ([]decimal.Decimal, string, error) {
	if splitCount < MinSplitCount || splitCount > MaxSplitCount {
		return nil, "", fmt.Errorf("split count must be between %d and %d, got %d", MinSplitCount, MaxSplitCount, splitCount)
	}

	mode := WeightEqual
	if rsi != nil {
		switch {
		case *rsi < oversoldRSI:
			mode = WeightFrontLoaded
		case *rsi > overboughtRSI:
			mode = WeightBackLoaded
		}
	}

	n := int64(splitCount)
	weights := make([]decimal.Decimal, splitCount)
	switch mode {
	case WeightEqual:
		each := one.Div(decimal.NewFromInt(n))
		for i := range weights {
			weights[i] = each
		}
	default:
		// Linear ramp: weight_i ∝ rank_i, normalized by 1+2+...+N.
		denom := decimal.NewFromInt(n * (n + 1) / 2)
		for i := 1; i <= splitCount; i++ {
			rank := int64(i)
			if mode == WeightFrontLoaded {
				rank = n + 1 - int64(i)
			}
			weights[i-1] = decimal.NewFromInt(rank).Div(denom)
		}
	}
	return weights, mode, nil
}

// ComputeLevels returns exactly splitCount levels for the strategy. supports
// must be sorted nearest-to-current first (descending price) with every entry
// below currentPrice; callers sort and filter before handing them in.
func ComputeLevels(strategy models.PlanStrategy, splitCount int, currentPrice decimal.Decimal, supports []Level) ([]Level, error) {
	if splitCount < MinSplitCount || splitCount > MaxSplitCount {
		return nil, fmt.Errorf("split count must be between %d and %d, got %d", MinSplitCount, MaxSplitCount, splitCount)
	}
	if currentPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("current price must be positive, got %s", currentPrice.String())
	}

	switch strategy {
	case models.StrategySupport:
		return supportLevels(splitCount, currentPrice, supports), nil
	case models.StrategyEqual:
		return equalLevels(splitCount, currentPrice, supports), nil
	case models.StrategyAggressive:
		levels := make([]Level, 0, splitCount)
		levels = append(levels, Level{
			Price:  currentPrice.Mul(aggressiveFirstFactor),
			Source: SourceAggressiveFirst,
		})
		// Remaining levels reuse the support algorithm one size down.
		levels = append(levels, supportLevels(splitCount-1, currentPrice, supports)...)
		return levels, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// supportLevels takes detected supports verbatim while they last, then
// extends the ladder by repeating the last known gap (interpolated) or, with
// no supports at all, synthesizes a 2%-spaced ladder under the current price.
func supportLevels(count int, currentPrice decimal.Decimal, supports []Level) []Level {
	levels := make([]Level, 0, count)

	if len(supports) == 0 {
		for k := 1; k <= count; k++ {
			factor := one.Sub(defaultDecrementPct.Mul(decimal.NewFromInt(int64(k))))
			levels = append(levels, Level{Price: currentPrice.Mul(factor), Source: SourceSynthetic})
		}
		return levels
	}

	for i := 0; i < len(supports) && i < count; i++ {
		levels = append(levels, supports[i])
	}
	if len(levels) == count {
		return levels
	}

	last := supports[len(supports)-1].Price
	var gap decimal.Decimal
	if len(supports) >= 2 {
		gap = supports[len(supports)-2].Price.Sub(last)
	} else {
		gap = last.Mul(defaultDecrementPct)
	}
	for k := 1; len(levels) < count; k++ {
		levels = append(levels, Level{
			Price:  last.Sub(gap.Mul(decimal.NewFromInt(int64(k)))),
			Source: SourceInterpolated,
		})
	}
	return levels
}

// equalLevels spaces the ladder linearly from just below the current price
// down to a floor: the deepest support when any exist, otherwise 10% below.
func equalLevels(count int, currentPrice decimal.Decimal, supports []Level) []Level {
	floor := currentPrice.Mul(equalFallbackFloor)
	if len(supports) > 0 {
		floor = supports[0].Price
		for _, s := range supports[1:] {
			if s.Price.LessThan(floor) {
				floor = s.Price
			}
		}
	}

	span := currentPrice.Sub(floor).Div(decimal.NewFromInt(int64(count)))
	levels := make([]Level, 0, count)
	for k := 1; k <= count; k++ {
		levels = append(levels, Level{
			Price:  currentPrice.Sub(span.Mul(decimal.NewFromInt(int64(k)))),
			Source: SourceEqualSpaced,
		})
	}
	return levels
}
