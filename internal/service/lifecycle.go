package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcaladder/internal/metrics"
	"dcaladder/internal/models"
	"dcaladder/internal/repository"
)

// LifecycleService owns every status transition of plans and steps. All
// mutations funnel through here so the transition rules live in one place.
type LifecycleService struct {
	Repo    repository.PlanRepository
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

var (
	ErrStepNotFound = errors.New("step not found")
	ErrPlanNotFound = errors.New("plan not found")
)

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// MarkStepOrdered records the broker order id against a step. The write is
// last-write-wins on purpose: a retried submission overwrites the stale order
// id, and callers own dedup.
func (s *LifecycleService) MarkStepOrdered(ctx context.Context, stepID uint64, brokerOrderID string) error {
	if s == nil || s.Repo == nil {
		return errors.New("lifecycle service not initialized")
	}
	step, err := s.Repo.GetStepByID(ctx, stepID)
	if err != nil {
		return err
	}
	if step == nil {
		return ErrStepNotFound
	}
	now := time.Now().UTC()
	return s.Repo.UpdateStepStatus(ctx, stepID, models.StepOrdered, map[string]any{
		"broker_order_id": brokerOrderID,
		"ordered_at":      now,
	})
}

// MarkStepFilled applies a fill to a step. fillAmount may be nil, in which
// case it is derived as price*quantity. A full fill that leaves no open steps
// on an active plan completes the plan.
func (s *LifecycleService) MarkStepFilled(ctx context.Context, stepID uint64, fillPrice, fillQty decimal.Decimal, fillAmount *decimal.Decimal, partial bool) error {
	if s == nil || s.Repo == nil {
		return errors.New("lifecycle service not initialized")
	}
	step, err := s.Repo.GetStepByID(ctx, stepID)
	if err != nil {
		return err
	}
	if step == nil {
		return ErrStepNotFound
	}

	target := models.StepFilled
	if partial {
		target = models.StepPartial
	}
	if !stepFillAllowed(step.Status, target) {
		return &InvalidTransitionError{Entity: "step", From: string(step.Status), To: string(target)}
	}

	amount := decimal.Decimal{}
	if fillAmount != nil {
		amount = *fillAmount
	} else {
		amount = fillPrice.Mul(fillQty)
	}

	updates := map[string]any{
		"filled_price":    fillPrice,
		"filled_quantity": fillQty,
		"filled_amount":   amount,
	}
	if target == models.StepFilled {
		updates["filled_at"] = time.Now().UTC()
	}
	if err := s.Repo.UpdateStepStatus(ctx, stepID, target, updates); err != nil {
		return err
	}
	if s.Metrics != nil {
		s.Metrics.FillsApplied.Inc()
	}

	if target == models.StepFilled {
		if err := s.maybeCompletePlan(ctx, step.PlanID); err != nil {
			return err
		}
	}
	return nil
}

func stepFillAllowed(from, to models.StepStatus) bool {
	switch to {
	case models.StepPartial:
		return from == models.StepOrdered || from == models.StepPartial
	case models.StepFilled:
		return from == models.StepOrdered || from == models.StepPartial
	default:
		return false
	}
}

// maybeCompletePlan flips an active plan to completed once no open steps
// remain. Plans in any other status are left alone: a cancelled plan that
// receives a late fill stays cancelled.
func (s *LifecycleService) maybeCompletePlan(ctx context.Context, planID uint64) error {
	plan, err := s.Repo.GetPlanByID(ctx, planID, "")
	if err != nil {
		return err
	}
	if plan == nil || plan.Status != models.PlanActive {
		return nil
	}
	open, err := s.Repo.CountStepsInStatuses(ctx, planID, models.OpenStepStatuses())
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	now := time.Now().UTC()
	if s.Logger != nil {
		s.Logger.Info("plan completed", zap.Uint64("plan_id", planID))
	}
	if s.Metrics != nil {
		s.Metrics.PlansCompleted.Inc()
	}
	return s.Repo.UpdatePlanStatus(ctx, planID, models.PlanCompleted, map[string]any{
		"completed_at": now,
	})
}

// MarkStepCancelled cancels a single step. Filled and skipped steps cannot be
// cancelled.
func (s *LifecycleService) MarkStepCancelled(ctx context.Context, stepID uint64) error {
	if s == nil || s.Repo == nil {
		return errors.New("lifecycle service not initialized")
	}
	step, err := s.Repo.GetStepByID(ctx, stepID)
	if err != nil {
		return err
	}
	if step == nil {
		return ErrStepNotFound
	}
	switch step.Status {
	case models.StepPending, models.StepOrdered, models.StepPartial:
		return s.Repo.UpdateStepStatus(ctx, stepID, models.StepCancelled, nil)
	default:
		return &InvalidTransitionError{Entity: "step", From: string(step.Status), To: string(models.StepCancelled)}
	}
}

// MarkStepSkipped skips a pending step. Any other starting status is an
// error: skipping is for steps the executor never reached.
func (s *LifecycleService) MarkStepSkipped(ctx context.Context, stepID uint64) error {
	if s == nil || s.Repo == nil {
		return errors.New("lifecycle service not initialized")
	}
	step, err := s.Repo.GetStepByID(ctx, stepID)
	if err != nil {
		return err
	}
	if step == nil {
		return ErrStepNotFound
	}
	if step.Status != models.StepPending {
		return &InvalidTransitionError{Entity: "step", From: string(step.Status), To: string(models.StepSkipped)}
	}
	return s.Repo.UpdateStepStatus(ctx, stepID, models.StepSkipped, nil)
}

// CancelPlan cancels a plan and cascades to its open steps. Filled,
// cancelled and skipped steps keep their status. Returns the refreshed plan,
// or nil when no plan matches the id and owner.
func (s *LifecycleService) CancelPlan(ctx context.Context, planID uint64, ownerID string) (*models.Plan, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("lifecycle service not initialized")
	}
	plan, err := s.Repo.GetPlanByID(ctx, planID, ownerID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	if plan.Status.Terminal() {
		return nil, &InvalidTransitionError{Entity: "plan", From: string(plan.Status), To: string(models.PlanCancelled)}
	}
	if err := s.Repo.CancelPlanCascade(ctx, planID, models.PlanCancelled); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("plan cancelled", zap.Uint64("plan_id", planID), zap.String("owner_id", ownerID))
	}
	if s.Metrics != nil {
		s.Metrics.PlansCancelled.Inc()
	}
	return s.Repo.GetPlanByID(ctx, planID, ownerID)
}

// ExpirePlan moves a stale active plan to expired, cascading open steps to
// cancelled. Expiry is driven externally (cron sweep or operator call), the
// state machine never times plans out on its own.
func (s *LifecycleService) ExpirePlan(ctx context.Context, planID uint64) error {
	if s == nil || s.Repo == nil {
		return errors.New("lifecycle service not initialized")
	}
	plan, err := s.Repo.GetPlanByID(ctx, planID, "")
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if plan.Status != models.PlanActive {
		return &InvalidTransitionError{Entity: "plan", From: string(plan.Status), To: string(models.PlanExpired)}
	}
	return s.Repo.CancelPlanCascade(ctx, planID, models.PlanExpired)
}

// FindStepByOrderID resolves a broker order id to its step and parent plan.
func (s *LifecycleService) FindStepByOrderID(ctx context.Context, brokerOrderID string) (*models.Step, *models.Plan, error) {
	if s == nil || s.Repo == nil {
		return nil, nil, errors.New("lifecycle service not initialized")
	}
	return s.Repo.FindStepByOrderID(ctx, brokerOrderID)
}

// NextPendingStep returns the lowest-numbered pending step of a plan, or nil
// when none remain.
func (s *LifecycleService) NextPendingStep(ctx context.Context, planID uint64) (*models.Step, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("lifecycle service not initialized")
	}
	return s.Repo.NextPendingStep(ctx, planID)
}
