package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"dcaladder/internal/models"
	"dcaladder/internal/repository"
)

// StatusAll is the sentinel that disables the status filter.
const StatusAll = "all"

const (
	defaultQueryLimit = 10
	maxQueryLimit     = 1000
)

// StatusQuery selects plans: by id, by symbol+status, or by status alone.
type StatusQuery struct {
	OwnerID string
	PlanID  *uint64
	Symbol  string
	Status  string
	Limit   int
}

// PlanProgress tallies a plan's steps and capital consumption.
type PlanProgress struct {
	TotalSteps     int              `json:"total_steps"`
	Filled         int              `json:"filled"`
	Ordered        int              `json:"ordered"`
	Pending        int              `json:"pending"`
	Cancelled      int              `json:"cancelled"`
	Partial        int              `json:"partial"`
	Skipped        int              `json:"skipped"`
	Invested       decimal.Decimal  `json:"invested"`
	Remaining      decimal.Decimal  `json:"remaining"`
	AvgFilledPrice *decimal.Decimal `json:"avg_filled_price"`
}

// PlanView is one plan with its steps and progress block.
type PlanView struct {
	PlanID      uint64          `json:"plan_id"`
	Symbol      string          `json:"symbol"`
	Market      string          `json:"market"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Splits      int             `json:"splits"`
	Strategy    string          `json:"strategy"`
	RSI14       *float64        `json:"rsi_14"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Steps       []models.Step   `json:"steps"`
	Progress    PlanProgress    `json:"progress"`
}

// StatusResult is the query response.
type StatusResult struct {
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Plans      []PlanView `json:"plans"`
	TotalPlans int64      `json:"total_plans"`
}

// StatusService answers read-only plan queries.
type StatusService struct {
	Repo repository.PlanRepository
}

// Query resolves a status query. Invalid filters come back as a structured
// failure with no repository call made.
func (s *StatusService) Query(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("status service not initialized")
	}

	if q.PlanID != nil {
		plan, err := s.Repo.GetPlanByID(ctx, *q.PlanID, q.OwnerID)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return &StatusResult{Success: true, Plans: []PlanView{}, TotalPlans: 0}, nil
		}
		return &StatusResult{Success: true, Plans: []PlanView{planView(plan)}, TotalPlans: 1}, nil
	}

	status := q.Status
	if status == "" {
		status = string(models.PlanActive)
	}
	var statusFilter *models.PlanStatus
	if status != StatusAll {
		st := models.PlanStatus(status)
		if !st.Valid() {
			return &StatusResult{Success: false, Error: "invalid status filter " + status}, nil
		}
		statusFilter = &st
	}

	limit := q.Limit
	if limit == 0 {
		limit = defaultQueryLimit
	}
	if limit < 1 || limit > maxQueryLimit {
		return &StatusResult{Success: false, Error: "limit must be between 1 and 1000"}, nil
	}

	params := repository.ListPlansParams{
		OwnerID: q.OwnerID,
		Status:  statusFilter,
		Limit:   limit,
	}
	if q.Symbol != "" {
		params.Symbol = &q.Symbol
	}

	plans, err := s.Repo.ListPlans(ctx, params)
	if err != nil {
		return nil, err
	}
	total, err := s.Repo.CountPlans(ctx, params)
	if err != nil {
		return nil, err
	}

	views := make([]PlanView, 0, len(plans))
	for i := range plans {
		views = append(views, planView(&plans[i]))
	}
	return &StatusResult{Success: true, Plans: views, TotalPlans: total}, nil
}

func planView(plan *models.Plan) PlanView {
	return PlanView{
		PlanID:      plan.ID,
		Symbol:      plan.Symbol,
		Market:      string(plan.Market),
		Status:      string(plan.Status),
		TotalAmount: plan.TotalAmount,
		Splits:      plan.SplitCount,
		Strategy:    string(plan.Strategy),
		RSI14:       plan.RSISnapshot,
		CreatedAt:   plan.CreatedAt,
		UpdatedAt:   plan.UpdatedAt,
		CompletedAt: plan.CompletedAt,
		Steps:       plan.Steps,
		Progress:    buildProgress(plan),
	}
}

func buildProgress(plan *models.Plan) PlanProgress {
	p := PlanProgress{
		TotalSteps: len(plan.Steps),
		Invested:   decimal.Zero,
	}
	filledQty := decimal.Zero
	for i := range plan.Steps {
		step := &plan.Steps[i]
		switch step.Status {
		case models.StepFilled:
			p.Filled++
		case models.StepOrdered:
			p.Ordered++
		case models.StepPending:
			p.Pending++
		case models.StepCancelled:
			p.Cancelled++
		case models.StepPartial:
			p.Partial++
		case models.StepSkipped:
			p.Skipped++
		}
		if step.FilledAmount != nil {
			p.Invested = p.Invested.Add(*step.FilledAmount)
		}
		if step.FilledQuantity != nil {
			filledQty = filledQty.Add(*step.FilledQuantity)
		}
	}
	p.Remaining = plan.TotalAmount.Sub(p.Invested)
	if filledQty.GreaterThan(decimal.Zero) {
		avg := p.Invested.Div(filledQty).Round(8)
		p.AvgFilledPrice = &avg
	}
	return p
}
