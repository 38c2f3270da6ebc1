package planner

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dcaladder/internal/market"
	"dcaladder/internal/models"
)

func f64(v float64) *float64 { return &v }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func supportsAt(prices ...string) []Level {
	out := make([]Level, 0, len(prices))
	for _, p := range prices {
		out = append(out, Level{Price: dec(p), Source: "swing_low"})
	}
	return out
}

func sumWeights(t *testing.T, ws []decimal.Decimal) {
	t.Helper()
	sum := decimal.Zero
	for _, w := range ws {
		require.True(t, w.GreaterThan(decimal.Zero), "weight must be positive")
		sum = sum.Add(w)
	}
	diff := sum.Sub(decimal.NewFromInt(1)).Abs()
	require.True(t, diff.LessThanOrEqual(dec("0.000001")), "weights sum to %s", sum)
}

func TestComputeWeightsEqual(t *testing.T) {
	cases := []*float64{nil, f64(30), f64(40), f64(50)}
	for _, rsi := range cases {
		ws, mode, err := ComputeWeights(rsi, 4)
		require.NoError(t, err)
		require.Equal(t, WeightEqual, mode)
		require.Len(t, ws, 4)
		sumWeights(t, ws)
		for _, w := range ws {
			require.True(t, w.Equal(ws[0]))
		}
	}
}

func TestComputeWeightsFrontLoaded(t *testing.T) {
	ws, mode, err := ComputeWeights(f64(25), 3)
	require.NoError(t, err)
	require.Equal(t, WeightFrontLoaded, mode)
	sumWeights(t, ws)

	require.True(t, ws[0].Equal(dec("0.5")), "got %s", ws[0])
	require.True(t, ws[0].GreaterThan(ws[1]))
	require.True(t, ws[1].GreaterThan(ws[2]))
}

func TestComputeWeightsBackLoaded(t *testing.T) {
	ws, mode, err := ComputeWeights(f64(65), 5)
	require.NoError(t, err)
	require.Equal(t, WeightBackLoaded, mode)
	sumWeights(t, ws)
	for i := 1; i < len(ws); i++ {
		require.True(t, ws[i].GreaterThan(ws[i-1]), "weights must strictly increase")
	}
}

func TestComputeWeightsSplitBounds(t *testing.T) {
	_, _, err := ComputeWeights(nil, 1)
	require.Error(t, err)
	_, _, err = ComputeWeights(nil, 6)
	require.Error(t, err)
}

func TestComputeLevelsSupportVerbatim(t *testing.T) {
	levels, err := ComputeLevels(models.StrategySupport, 3, dec("100000"), supportsAt("99000", "98000", "97000"))
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.True(t, levels[0].Price.Equal(dec("99000")))
	require.True(t, levels[1].Price.Equal(dec("98000")))
	require.True(t, levels[2].Price.Equal(dec("97000")))
	for _, l := range levels {
		require.Equal(t, "swing_low", l.Source)
	}
}

func TestComputeLevelsSupportInterpolatesGap(t *testing.T) {
	levels, err := ComputeLevels(models.StrategySupport, 4, dec("100000"), supportsAt("99000", "97500"))
	require.NoError(t, err)
	require.Len(t, levels, 4)
	// Gap between last two supports is 1500.
	require.True(t, levels[2].Price.Equal(dec("96000")), "got %s", levels[2].Price)
	require.True(t, levels[3].Price.Equal(dec("94500")), "got %s", levels[3].Price)
	require.Equal(t, SourceInterpolated, levels[2].Source)
	require.Equal(t, SourceInterpolated, levels[3].Source)
}

func TestComputeLevelsSingleSupportUsesPctGap(t *testing.T) {
	levels, err := ComputeLevels(models.StrategySupport, 3, dec("100000"), supportsAt("95000"))
	require.NoError(t, err)
	require.True(t, levels[0].Price.Equal(dec("95000")))
	// 2% of 95000 = 1900 per extension step.
	require.True(t, levels[1].Price.Equal(dec("93100")), "got %s", levels[1].Price)
	require.True(t, levels[2].Price.Equal(dec("91200")), "got %s", levels[2].Price)
}

func TestComputeLevelsSupportSynthetic(t *testing.T) {
	levels, err := ComputeLevels(models.StrategySupport, 2, dec("100000"), nil)
	require.NoError(t, err)
	require.True(t, levels[0].Price.Equal(dec("98000")))
	require.True(t, levels[1].Price.Equal(dec("96000")))
	require.Equal(t, SourceSynthetic, levels[0].Source)
	require.Equal(t, SourceSynthetic, levels[1].Source)
}

func TestComputeLevelsEqualSpacing(t *testing.T) {
	levels, err := ComputeLevels(models.StrategyEqual, 4, dec("100"), supportsAt("92"))
	require.NoError(t, err)
	require.Len(t, levels, 4)
	require.True(t, levels[0].Price.Equal(dec("98")))
	require.True(t, levels[1].Price.Equal(dec("96")))
	require.True(t, levels[2].Price.Equal(dec("94")))
	require.True(t, levels[3].Price.Equal(dec("92")), "deepest level lands on the floor")
	for _, l := range levels {
		require.Equal(t, SourceEqualSpaced, l.Source)
	}
}

func TestComputeLevelsEqualNoSupports(t *testing.T) {
	levels, err := ComputeLevels(models.StrategyEqual, 2, dec("200"), nil)
	require.NoError(t, err)
	require.True(t, levels[0].Price.Equal(dec("190")))
	require.True(t, levels[1].Price.Equal(dec("180")), "floor defaults to 10%% below current")
}

func TestComputeLevelsAggressive(t *testing.T) {
	levels, err := ComputeLevels(models.StrategyAggressive, 3, dec("100000"), supportsAt("99000", "98000"))
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.True(t, levels[0].Price.Equal(dec("99500")))
	require.Equal(t, SourceAggressiveFirst, levels[0].Source)
	require.True(t, levels[1].Price.Equal(dec("99000")))
	require.True(t, levels[2].Price.Equal(dec("98000")))
}

func TestComputeLevelsStrictlyDescending(t *testing.T) {
	for _, strat := range []models.PlanStrategy{models.StrategySupport, models.StrategyEqual, models.StrategyAggressive} {
		levels, err := ComputeLevels(strat, 5, dec("50000"), supportsAt("49500", "48800"))
		require.NoError(t, err)
		prev := dec("50000")
		for _, l := range levels {
			require.True(t, l.Price.LessThan(prev), "%s: level %s not below %s", strat, l.Price, prev)
			prev = l.Price
		}
	}
}

type fixedConformer struct {
	table map[string]string
}

func (c fixedConformer) Conform(_ context.Context, _ string, price decimal.Decimal, _ models.MarketClass, _ market.Side) (decimal.Decimal, error) {
	if out, ok := c.table[price.String()]; ok {
		return dec(out), nil
	}
	return price, nil
}

func TestBuildStepsCrypto(t *testing.T) {
	rsi := f64(25)
	ws, _, err := ComputeWeights(rsi, 3)
	require.NoError(t, err)
	levels, err := ComputeLevels(models.StrategySupport, 3, dec("100000"), supportsAt("99000", "98000", "97000"))
	require.NoError(t, err)

	steps, err := BuildSteps(context.Background(), "BTCUSDT", models.MarketCrypto, dec("300000"), ws, levels, dec("100000"), nil)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	require.True(t, steps[0].Amount.Equal(dec("150000")))
	require.True(t, steps[1].Amount.Equal(dec("100000")))
	require.True(t, steps[2].Amount.Equal(dec("50000")))

	// 150000 / 99000 = 1.51515151..., truncated to 8 decimals.
	require.True(t, steps[0].Quantity.Equal(dec("1.51515151")), "got %s", steps[0].Quantity)
	require.True(t, steps[0].DistancePct.Equal(dec("-1")), "got %s", steps[0].DistancePct)
	require.True(t, steps[2].DistancePct.Equal(dec("-3")))
	require.Equal(t, 1, steps[0].StepNumber)
	require.Equal(t, 3, steps[2].StepNumber)
}

func TestBuildStepsEquityFloorsQuantity(t *testing.T) {
	ws, _, err := ComputeWeights(nil, 2)
	require.NoError(t, err)
	levels := []Level{
		{Price: dec("70000"), Source: SourceSynthetic},
		{Price: dec("68000"), Source: SourceSynthetic},
	}
	steps, err := BuildSteps(context.Background(), "005930", models.MarketDomesticEquity, dec("1000000"), ws, levels, dec("72000"), nil)
	require.NoError(t, err)
	// 500000 / 70000 = 7.14 -> 7 shares.
	require.True(t, steps[0].Quantity.Equal(dec("7")))
	require.True(t, steps[1].Quantity.Equal(dec("7")))
}

func TestBuildStepsZeroQuantityFailsWholePlan(t *testing.T) {
	ws, _, err := ComputeWeights(nil, 2)
	require.NoError(t, err)
	levels := []Level{
		{Price: dec("70000"), Source: SourceSynthetic},
		{Price: dec("68000"), Source: SourceSynthetic},
	}
	_, err = BuildSteps(context.Background(), "005930", models.MarketDomesticEquity, dec("100000"), ws, levels, dec("72000"), nil)
	require.Error(t, err)
	var zqe *ZeroQuantityError
	require.ErrorAs(t, err, &zqe)
	require.Equal(t, 1, zqe.StepNumber)
	require.True(t, zqe.MinAmount.Equal(dec("70000")))
}

func TestBuildStepsTickAdjustment(t *testing.T) {
	ws, _, err := ComputeWeights(nil, 2)
	require.NoError(t, err)
	levels := []Level{
		{Price: dec("99123.456"), Source: SourceSynthetic},
		{Price: dec("97000"), Source: SourceSynthetic},
	}
	conf := fixedConformer{table: map[string]string{"99123.456": "99123.45"}}

	steps, err := BuildSteps(context.Background(), "BTCUSDT", models.MarketCrypto, dec("20000"), ws, levels, dec("100000"), conf)
	require.NoError(t, err)

	require.True(t, steps[0].TickAdjusted)
	require.NotNil(t, steps[0].OriginalPrice)
	require.True(t, steps[0].OriginalPrice.Equal(dec("99123.456")))
	require.True(t, steps[0].Price.Equal(dec("99123.45")))

	require.False(t, steps[1].TickAdjusted)
	require.Nil(t, steps[1].OriginalPrice)
}

func TestBuildStepsAmountConservation(t *testing.T) {
	ws, _, err := ComputeWeights(f64(70), 5)
	require.NoError(t, err)
	levels, err := ComputeLevels(models.StrategySupport, 5, dec("64000"), nil)
	require.NoError(t, err)

	total := dec("250000")
	steps, err := BuildSteps(context.Background(), "BTCUSDT", models.MarketCrypto, total, ws, levels, dec("64000"), nil)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, s := range steps {
		sum = sum.Add(s.Amount)
	}
	diff := sum.Sub(total).Abs()
	require.True(t, diff.LessThanOrEqual(dec("0.01")), "amounts sum to %s", sum)
}
