package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dcaladder/internal/models"
	"dcaladder/internal/repository"
)

// stubRepo is a test-only in-memory implementation of
// repository.PlanRepository. Updates apply the same column keys the gorm
// store writes so lifecycle tests observe realistic state.
type stubRepo struct {
	plans  map[uint64]*models.Plan
	steps  map[uint64]*models.Step
	nextID uint64

	failUpdateStep bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		plans: make(map[uint64]*models.Plan),
		steps: make(map[uint64]*models.Step),
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) CreatePlan(ctx context.Context, plan *models.Plan) error {
	s.nextID++
	plan.ID = s.nextID
	plan.CreatedAt = time.Now().UTC()
	plan.UpdatedAt = plan.CreatedAt
	for i := range plan.Steps {
		s.nextID++
		plan.Steps[i].ID = s.nextID
		plan.Steps[i].PlanID = plan.ID
		step := plan.Steps[i]
		s.steps[step.ID] = &step
	}
	stored := *plan
	s.plans[plan.ID] = &stored
	return nil
}

func (s *stubRepo) GetPlanByID(ctx context.Context, id uint64, ownerID string) (*models.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, nil
	}
	if ownerID != "" && plan.OwnerID != ownerID {
		return nil, nil
	}
	out := *plan
	out.Steps = s.planSteps(id)
	return &out, nil
}

func (s *stubRepo) planSteps(planID uint64) []models.Step {
	var steps []models.Step
	for _, step := range s.steps {
		if step.PlanID == planID {
			steps = append(steps, *step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	return steps
}

func (s *stubRepo) ListPlans(ctx context.Context, params repository.ListPlansParams) ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range s.plans {
		if !s.matches(plan, params) {
			continue
		}
		p := *plan
		p.Steps = s.planSteps(plan.ID)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubRepo) matches(plan *models.Plan, params repository.ListPlansParams) bool {
	if params.OwnerID != "" && plan.OwnerID != params.OwnerID {
		return false
	}
	if params.Status != nil && plan.Status != *params.Status {
		return false
	}
	if params.Symbol != nil && plan.Symbol != *params.Symbol {
		return false
	}
	return true
}

func (s *stubRepo) CountPlans(ctx context.Context, params repository.ListPlansParams) (int64, error) {
	var n int64
	for _, plan := range s.plans {
		if s.matches(plan, params) {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) UpdatePlanStatus(ctx context.Context, id uint64, status models.PlanStatus, updates map[string]any) error {
	plan, ok := s.plans[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	plan.Status = status
	plan.UpdatedAt = time.Now().UTC()
	if v, ok := updates["completed_at"]; ok {
		t := v.(time.Time)
		plan.CompletedAt = &t
	}
	return nil
}

func (s *stubRepo) GetStepByID(ctx context.Context, id uint64) (*models.Step, error) {
	step, ok := s.steps[id]
	if !ok {
		return nil, nil
	}
	out := *step
	return &out, nil
}

func (s *stubRepo) FindStepByOrderID(ctx context.Context, orderID string) (*models.Step, *models.Plan, error) {
	for _, step := range s.steps {
		if step.BrokerOrderID == orderID {
			out := *step
			plan, _ := s.GetPlanByID(ctx, step.PlanID, "")
			return &out, plan, nil
		}
	}
	return nil, nil, nil
}

func (s *stubRepo) NextPendingStep(ctx context.Context, planID uint64) (*models.Step, error) {
	var next *models.Step
	for _, step := range s.steps {
		if step.PlanID != planID || step.Status != models.StepPending {
			continue
		}
		if next == nil || step.StepNumber < next.StepNumber {
			next = step
		}
	}
	if next == nil {
		return nil, nil
	}
	out := *next
	return &out, nil
}

func (s *stubRepo) UpdateStepStatus(ctx context.Context, id uint64, status models.StepStatus, updates map[string]any) error {
	if s.failUpdateStep {
		return gorm.ErrInvalidTransaction
	}
	step, ok := s.steps[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	step.Status = status
	step.UpdatedAt = time.Now().UTC()
	for k, v := range updates {
		switch k {
		case "broker_order_id":
			step.BrokerOrderID = v.(string)
		case "ordered_at":
			t := v.(time.Time)
			step.OrderedAt = &t
		case "filled_at":
			t := v.(time.Time)
			step.FilledAt = &t
		case "filled_price":
			d := v.(decimal.Decimal)
			step.FilledPrice = &d
		case "filled_quantity":
			d := v.(decimal.Decimal)
			step.FilledQuantity = &d
		case "filled_amount":
			d := v.(decimal.Decimal)
			step.FilledAmount = &d
		}
	}
	return nil
}

func (s *stubRepo) CountStepsInStatuses(ctx context.Context, planID uint64, statuses []models.StepStatus) (int64, error) {
	var n int64
	for _, step := range s.steps {
		if step.PlanID != planID {
			continue
		}
		for _, st := range statuses {
			if step.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *stubRepo) CancelPlanCascade(ctx context.Context, planID uint64, status models.PlanStatus) error {
	plan, ok := s.plans[planID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	plan.Status = status
	plan.UpdatedAt = time.Now().UTC()
	for _, step := range s.steps {
		if step.PlanID != planID {
			continue
		}
		switch step.Status {
		case models.StepPending, models.StepOrdered, models.StepPartial:
			step.Status = models.StepCancelled
		}
	}
	return nil
}

func (s *stubRepo) ListActivePlansCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range s.plans {
		if plan.Status == models.PlanActive && plan.CreatedAt.Before(cutoff) {
			out = append(out, *plan)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
