package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"dcaladder/internal/models"
)

// ListPlansParams filters the plan listing. A nil Status means all statuses;
// a nil Symbol means all symbols. Limit must be in [1,1000] — out-of-range is
// rejected, not clamped.
type ListPlansParams struct {
	OwnerID string
	Status  *models.PlanStatus
	Symbol  *string
	Limit   int
	Offset  int
}

// PlanRepository is durable storage for plans and their steps.
//
// CreatePlan persists the plan and every attached step as one transaction:
// either all rows become visible or none do. Step mutations are last-write-
// wins; the lifecycle layer above owns the transition rules.
type PlanRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	CreatePlan(ctx context.Context, plan *models.Plan) error
	// GetPlanByID loads a plan with steps ordered by step_number. An empty
	// ownerID skips the ownership scope. Returns nil, nil when absent.
	GetPlanByID(ctx context.Context, id uint64, ownerID string) (*models.Plan, error)
	ListPlans(ctx context.Context, params ListPlansParams) ([]models.Plan, error)
	CountPlans(ctx context.Context, params ListPlansParams) (int64, error)
	UpdatePlanStatus(ctx context.Context, id uint64, status models.PlanStatus, updates map[string]any) error

	GetStepByID(ctx context.Context, id uint64) (*models.Step, error)
	// FindStepByOrderID maps a broker order id back to its step, with the
	// parent plan attached. Returns nil, nil, nil when no step carries the id.
	FindStepByOrderID(ctx context.Context, orderID string) (*models.Step, *models.Plan, error)
	// NextPendingStep returns the lowest-numbered pending step of a plan,
	// or nil, nil when none remain.
	NextPendingStep(ctx context.Context, planID uint64) (*models.Step, error)
	UpdateStepStatus(ctx context.Context, id uint64, status models.StepStatus, updates map[string]any) error
	CountStepsInStatuses(ctx context.Context, planID uint64, statuses []models.StepStatus) (int64, error)

	// CancelPlanCascade moves the plan to the given terminal status and every
	// open step (pending/ordered/partial) to cancelled, in one transaction.
	CancelPlanCascade(ctx context.Context, planID uint64, status models.PlanStatus) error
	// ListActivePlansCreatedBefore feeds the expiry sweep.
	ListActivePlansCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Plan, error)
}
