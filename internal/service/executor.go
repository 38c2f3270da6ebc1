package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcaladder/internal/market"
	"dcaladder/internal/metrics"
	"dcaladder/internal/models"
	"dcaladder/internal/repository"
)

// ExecutorConfig bounds what a single run may do.
type ExecutorConfig struct {
	// MaxStepAmount is a per-step capital ceiling. Zero disables the check.
	MaxStepAmount decimal.Decimal
}

// StepExecutionResult is the outcome of one submitted step.
type StepExecutionResult struct {
	StepNumber    int             `json:"step_number"`
	StepID        uint64          `json:"step_id"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	Success       bool            `json:"success"`
	Message       string          `json:"message,omitempty"`
}

// ExecutionReport is what an execution run returns, complete or aborted.
type ExecutionReport struct {
	PlanID         uint64                `json:"plan_id"`
	Attempted      int                   `json:"attempted"`
	Succeeded      int                   `json:"succeeded"`
	Aborted        bool                  `json:"aborted"`
	AbortReason    string                `json:"abort_reason,omitempty"`
	Steps          []StepExecutionResult `json:"steps"`
}

// ExecutorService submits the pending steps of a plan to the order gateway,
// one at a time in ascending step order. The first failure of any kind stops
// the run; already-submitted steps keep their ordered status and the report
// carries everything attempted so far.
type ExecutorService struct {
	Repo      repository.PlanRepository
	Gateway   market.OrderGateway
	Lifecycle *LifecycleService
	Config    ExecutorConfig
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Execute submits steps for the plan. stepNumbers optionally restricts the
// run to a subset; an empty slice means every pending step.
func (s *ExecutorService) Execute(ctx context.Context, plan *models.Plan, stepNumbers []int) (*ExecutionReport, error) {
	if s == nil || s.Repo == nil || s.Gateway == nil || s.Lifecycle == nil {
		return nil, errors.New("executor service not initialized")
	}
	if plan == nil {
		return nil, errors.New("plan is required")
	}

	report := &ExecutionReport{PlanID: plan.ID}

	targets, err := selectSteps(plan, stepNumbers)
	if err != nil {
		return report, err
	}

	for _, step := range targets {
		res := StepExecutionResult{
			StepNumber: step.StepNumber,
			StepID:     step.ID,
			Price:      step.TargetPrice,
			Quantity:   step.TargetQuantity,
			Amount:     step.TargetAmount,
		}
		report.Attempted++

		if !s.Config.MaxStepAmount.IsZero() && step.TargetAmount.GreaterThan(s.Config.MaxStepAmount) {
			res.Message = fmt.Sprintf("step amount %s exceeds per-step ceiling %s",
				step.TargetAmount.String(), s.Config.MaxStepAmount.String())
			report.Steps = append(report.Steps, res)
			report.Aborted = true
			report.AbortReason = res.Message
			return report, nil
		}

		orderID, err := s.submit(ctx, plan, step)
		if err != nil {
			res.Message = err.Error()
			report.Steps = append(report.Steps, res)
			report.Aborted = true
			report.AbortReason = fmt.Sprintf("step %d: %s", step.StepNumber, err.Error())
			if s.Metrics != nil {
				s.Metrics.OrdersFailed.Inc()
			}
			if s.Logger != nil {
				s.Logger.Warn("execution aborted",
					zap.Uint64("plan_id", plan.ID),
					zap.Int("step_number", step.StepNumber),
					zap.Error(err))
			}
			return report, nil
		}

		res.Success = true
		res.BrokerOrderID = orderID
		report.Steps = append(report.Steps, res)
		report.Succeeded++
		if s.Metrics != nil {
			s.Metrics.OrdersPlaced.Inc()
		}
		if s.Logger != nil {
			s.Logger.Info("step order placed",
				zap.Uint64("plan_id", plan.ID),
				zap.Int("step_number", step.StepNumber),
				zap.String("broker_order_id", orderID))
		}
	}
	return report, nil
}

// submit places the order and records the broker order id. A gateway failure,
// a success without a usable order id, and a persistence failure are all
// fatal for the run.
func (s *ExecutorService) submit(ctx context.Context, plan *models.Plan, step *models.Step) (string, error) {
	req := market.PlaceOrderRequest{
		Symbol:        plan.Symbol,
		Side:          market.SideBuy,
		Type:          "limit",
		Quantity:      step.TargetQuantity,
		Price:         step.TargetPrice,
		ClientOrderID: uuid.NewString(),
		Reason:        fmt.Sprintf("DCA plan %d step %d/%d", plan.ID, step.StepNumber, plan.SplitCount),
	}

	resp, err := s.Gateway.PlaceOrder(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "place order")
	}
	if resp == nil || !resp.Success {
		msg := "order rejected"
		if resp != nil && resp.Message != "" {
			msg = resp.Message
		}
		return "", errors.New(msg)
	}
	orderID, ok := resp.ExtractOrderID()
	if !ok {
		// An order may have been placed that we cannot track. Not safe to
		// continue down the ladder.
		return "", errors.New("order accepted but response carries no order id")
	}
	if err := s.Lifecycle.MarkStepOrdered(ctx, step.ID, orderID); err != nil {
		return "", errors.Wrapf(err, "record order id %s", orderID)
	}
	return orderID, nil
}

// selectSteps picks the steps to run: the named subset when stepNumbers is
// non-empty (each must exist and be pending), otherwise every pending step.
// Output is always in ascending step order.
func selectSteps(plan *models.Plan, stepNumbers []int) ([]*models.Step, error) {
	byNumber := make(map[int]*models.Step, len(plan.Steps))
	for i := range plan.Steps {
		byNumber[plan.Steps[i].StepNumber] = &plan.Steps[i]
	}

	var targets []*models.Step
	if len(stepNumbers) > 0 {
		seen := make(map[int]bool, len(stepNumbers))
		for _, n := range stepNumbers {
			if seen[n] {
				continue
			}
			seen[n] = true
			step, ok := byNumber[n]
			if !ok {
				return nil, fmt.Errorf("plan has no step %d", n)
			}
			if step.Status != models.StepPending {
				return nil, fmt.Errorf("step %d is %s, only pending steps can be executed", n, step.Status)
			}
			targets = append(targets, step)
		}
	} else {
		for i := range plan.Steps {
			if plan.Steps[i].Status == models.StepPending {
				targets = append(targets, &plan.Steps[i])
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].StepNumber < targets[j].StepNumber
	})
	return targets, nil
}
