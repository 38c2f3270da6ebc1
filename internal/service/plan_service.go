package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcaladder/internal/market"
	"dcaladder/internal/metrics"
	"dcaladder/internal/models"
	"dcaladder/internal/planner"
	"dcaladder/internal/repository"
)

// CreatePlanInput is the plan-creation request after HTTP binding.
type CreatePlanInput struct {
	OwnerID      string
	Symbol       string
	Market       models.MarketClass
	TotalAmount  decimal.Decimal
	SplitCount   int
	Strategy     models.PlanStrategy
	DryRun       *bool
	ExecuteSteps []int
}

// PlannedStep is the per-step view returned from plan creation.
type PlannedStep struct {
	Step          int              `json:"step"`
	Price         decimal.Decimal  `json:"price"`
	DistancePct   decimal.Decimal  `json:"distance_pct"`
	Amount        decimal.Decimal  `json:"amount"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Source        string           `json:"source"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	TickAdjusted  bool             `json:"tick_adjusted,omitempty"`
}

// PlanSummary aggregates the ladder for the creation response.
type PlanSummary struct {
	Symbol        string          `json:"symbol"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	RSI14         *float64        `json:"rsi_14"`
	Strategy      string          `json:"strategy"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AvgTarget     decimal.Decimal `json:"avg_target_price"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	PriceRangePct decimal.Decimal `json:"price_range_pct"`
	WeightMode    string          `json:"weight_mode"`
}

// CreatePlanResult is the full creation outcome, success or failure. On
// failure Error is set and PlanID is zero unless the plan was persisted
// before the failure (mid-execution abort).
type CreatePlanResult struct {
	Success          bool                  `json:"success"`
	Error            string                `json:"error,omitempty"`
	DryRun           bool                  `json:"dryRun"`
	Executed         bool                  `json:"executed"`
	PlanID           uint64                `json:"planId,omitempty"`
	Plans            []PlannedStep         `json:"plans,omitempty"`
	Summary          *PlanSummary          `json:"summary,omitempty"`
	ExecutionResults []StepExecutionResult `json:"executionResults,omitempty"`
	ExecutedSteps    []int                 `json:"executedSteps,omitempty"`
}

// PlanService builds and persists DCA ladders.
type PlanService struct {
	Repo      repository.PlanRepository
	Market    market.MarketData
	Conformer market.TickConformer
	Executor  *ExecutorService
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

func failure(format string, args ...any) *CreatePlanResult {
	return &CreatePlanResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// CreatePlan validates the request, derives the ladder, persists it
// atomically and, unless dryRun, hands it to the executor. Validation and
// allocation failures come back as a structured result, not a Go error.
func (s *PlanService) CreatePlan(ctx context.Context, in CreatePlanInput) (*CreatePlanResult, error) {
	if s == nil || s.Repo == nil || s.Market == nil {
		return nil, errors.New("plan service not initialized")
	}

	if in.Symbol == "" {
		return failure("symbol is required"), nil
	}
	if in.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return failure("total amount must be positive"), nil
	}
	if in.SplitCount < planner.MinSplitCount || in.SplitCount > planner.MaxSplitCount {
		return failure("split count must be between %d and %d", planner.MinSplitCount, planner.MaxSplitCount), nil
	}
	if !in.Strategy.Valid() {
		return failure("unknown strategy %q", in.Strategy), nil
	}
	if in.Market == "" {
		in.Market = models.MarketCrypto
	}
	if !in.Market.Valid() {
		return failure("unknown market %q", in.Market), nil
	}
	for _, n := range in.ExecuteSteps {
		if n < 1 || n > in.SplitCount {
			return failure("execute step %d is outside 1..%d", n, in.SplitCount), nil
		}
	}
	dryRun := true
	if in.DryRun != nil {
		dryRun = *in.DryRun
	}

	sr, err := s.Market.GetSupportResistance(ctx, in.Symbol)
	if err != nil {
		return failure("market data unavailable for %s: %s", in.Symbol, err.Error()), nil
	}
	if sr == nil || sr.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return failure("no current price for %s", in.Symbol), nil
	}

	// RSI is advisory: without a reading the weights fall back to equal.
	var rsi *float64
	if iv, err := s.Market.GetIndicator(ctx, in.Symbol, "rsi"); err == nil && iv != nil {
		v := iv.Value
		rsi = &v
	} else if err != nil && s.Logger != nil {
		s.Logger.Warn("rsi unavailable, using equal weights",
			zap.String("symbol", in.Symbol), zap.Error(err))
	}

	supports := usableSupports(sr)
	weights, weightMode, err := planner.ComputeWeights(rsi, in.SplitCount)
	if err != nil {
		return failure("%s", err.Error()), nil
	}
	levels, err := planner.ComputeLevels(in.Strategy, in.SplitCount, sr.CurrentPrice, supports)
	if err != nil {
		return failure("%s", err.Error()), nil
	}
	specs, err := planner.BuildSteps(ctx, in.Symbol, in.Market, in.TotalAmount, weights, levels, sr.CurrentPrice, s.Conformer)
	if err != nil {
		var zqe *planner.ZeroQuantityError
		if errors.As(err, &zqe) {
			return failure("%s", zqe.Error()), nil
		}
		return nil, err
	}

	plan, err := s.persist(ctx, in, rsi, specs)
	if err != nil {
		return nil, errors.Wrap(err, "persist plan")
	}
	if s.Metrics != nil {
		s.Metrics.PlansCreated.Inc()
	}
	if s.Logger != nil {
		s.Logger.Info("plan created",
			zap.Uint64("plan_id", plan.ID),
			zap.String("symbol", in.Symbol),
			zap.String("strategy", string(in.Strategy)),
			zap.Int("splits", in.SplitCount),
			zap.Bool("dry_run", dryRun))
	}

	result := &CreatePlanResult{
		Success: true,
		DryRun:  dryRun,
		PlanID:  plan.ID,
		Plans:   plannedSteps(specs),
		Summary: buildSummary(in, sr.CurrentPrice, rsi, specs, weightMode),
	}

	if dryRun || s.Executor == nil {
		return result, nil
	}

	// Reload so the executor sees persisted step ids.
	persisted, err := s.Repo.GetPlanByID(ctx, plan.ID, "")
	if err != nil {
		return nil, err
	}
	if persisted == nil || len(persisted.Steps) != len(specs) {
		result.Success = false
		result.Error = fmt.Sprintf("plan %d steps missing on reload", plan.ID)
		return result, nil
	}

	report, err := s.Executor.Execute(ctx, persisted, in.ExecuteSteps)
	if report != nil {
		result.ExecutionResults = report.Steps
		for _, r := range report.Steps {
			if r.Success {
				result.ExecutedSteps = append(result.ExecutedSteps, r.StepNumber)
			}
		}
		result.Executed = report.Succeeded > 0
		if report.Aborted {
			result.Success = false
			result.Error = report.AbortReason
		}
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	return result, nil
}

func (s *PlanService) persist(ctx context.Context, in CreatePlanInput, rsi *float64, specs []planner.StepSpec) (*models.Plan, error) {
	plan := &models.Plan{
		OwnerID:     in.OwnerID,
		Symbol:      in.Symbol,
		Market:      in.Market,
		TotalAmount: in.TotalAmount,
		SplitCount:  in.SplitCount,
		Strategy:    in.Strategy,
		Status:      models.PlanActive,
		RSISnapshot: rsi,
	}
	for _, spec := range specs {
		step := models.Step{
			StepNumber:     spec.StepNumber,
			Status:         models.StepPending,
			TargetPrice:    spec.Price,
			TargetAmount:   spec.Amount,
			TargetQuantity: spec.Quantity,
			LevelSource:    spec.Source,
		}
		if spec.TickAdjusted {
			meta, err := models.EncodeTickMeta(*spec.OriginalPrice)
			if err != nil {
				return nil, err
			}
			step.TickMeta = meta
		}
		plan.Steps = append(plan.Steps, step)
	}
	if err := s.Repo.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// usableSupports filters to supports strictly below the current price and
// orders them nearest-first. Detectors should already do both, this guards
// against ones that do not.
func usableSupports(sr *market.SupportResistance) []planner.Level {
	out := make([]planner.Level, 0, len(sr.Supports))
	for _, s := range sr.Supports {
		if s.Price.GreaterThan(decimal.Zero) && s.Price.LessThan(sr.CurrentPrice) {
			out = append(out, planner.Level{Price: s.Price, Source: s.Source})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.GreaterThan(out[j].Price)
	})
	return out
}

func plannedSteps(specs []planner.StepSpec) []PlannedStep {
	out := make([]PlannedStep, 0, len(specs))
	for _, spec := range specs {
		out = append(out, PlannedStep{
			Step:          spec.StepNumber,
			Price:         spec.Price,
			DistancePct:   spec.DistancePct,
			Amount:        spec.Amount,
			Quantity:      spec.Quantity,
			Source:        spec.Source,
			OriginalPrice: spec.OriginalPrice,
			TickAdjusted:  spec.TickAdjusted,
		})
	}
	return out
}

func buildSummary(in CreatePlanInput, current decimal.Decimal, rsi *float64, specs []planner.StepSpec, weightMode string) *PlanSummary {
	totalQty := decimal.Zero
	weighted := decimal.Zero
	for _, spec := range specs {
		totalQty = totalQty.Add(spec.Quantity)
		weighted = weighted.Add(spec.Price.Mul(spec.Quantity))
	}
	avg := decimal.Zero
	if totalQty.GreaterThan(decimal.Zero) {
		avg = weighted.Div(totalQty).Round(8)
	}
	first := specs[0].Price
	last := specs[len(specs)-1].Price
	rangePct := first.Sub(last).Div(current).Mul(decimal.NewFromInt(100)).Round(2)

	return &PlanSummary{
		Symbol:        in.Symbol,
		CurrentPrice:  current,
		RSI14:         rsi,
		Strategy:      string(in.Strategy),
		TotalAmount:   in.TotalAmount,
		AvgTarget:     avg,
		TotalQuantity: totalQty,
		PriceRangePct: rangePct,
		WeightMode:    weightMode,
	}
}
