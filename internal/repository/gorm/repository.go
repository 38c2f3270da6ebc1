package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"dcaladder/internal/models"
	"dcaladder/internal/repository"
)

// ErrInvalidLimit is returned when a listing limit falls outside [1,1000].
// The bound is enforced here rather than clamped so callers cannot silently
// page past it.
var ErrInvalidLimit = errors.New("limit must be between 1 and 1000")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Plans -------------------------------------------------------------------

func (s *Store) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if s == nil || s.db == nil || plan == nil {
		return nil
	}
	// Create inserts the plan row and all association rows (steps) inside a
	// single transaction; a failure on any step rolls back the plan row too.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(plan).Error
	})
}

func (s *Store) GetPlanByID(ctx context.Context, id uint64, ownerID string) (*models.Plan, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Plan{}).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number asc")
		}).
		Where("id = ?", id)
	if strings.TrimSpace(ownerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(ownerID))
	}
	var item models.Plan
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func applyPlanFilters(query *gorm.DB, params repository.ListPlansParams) *gorm.DB {
	if strings.TrimSpace(params.OwnerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(params.OwnerID))
	}
	if params.Status != nil && strings.TrimSpace(string(*params.Status)) != "" {
		query = query.Where("status = ?", strings.TrimSpace(string(*params.Status)))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	return query
}

func (s *Store) ListPlans(ctx context.Context, params repository.ListPlansParams) ([]models.Plan, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if params.Limit < 1 || params.Limit > 1000 {
		return nil, ErrInvalidLimit
	}
	query := applyPlanFilters(s.db.WithContext(ctx).Model(&models.Plan{}), params)
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []models.Plan
	err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number asc")
		}).
		Order("created_at desc").
		Limit(params.Limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPlans(ctx context.Context, params repository.ListPlansParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyPlanFilters(s.db.WithContext(ctx).Model(&models.Plan{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) UpdatePlanStatus(ctx context.Context, id uint64, status models.PlanStatus, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || !status.Valid() {
		return nil
	}
	next := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		next[k] = v
	}
	return s.db.WithContext(ctx).Model(&models.Plan{}).Where("id = ?", id).Updates(next).Error
}

// --- Steps -------------------------------------------------------------------

func (s *Store) GetStepByID(ctx context.Context, id uint64) (*models.Step, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Step
	err := s.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindStepByOrderID(ctx context.Context, orderID string) (*models.Step, *models.Plan, error) {
	if s == nil || s.db == nil || strings.TrimSpace(orderID) == "" {
		return nil, nil, nil
	}
	var step models.Step
	err := s.db.WithContext(ctx).
		Model(&models.Step{}).
		Where("broker_order_id = ?", strings.TrimSpace(orderID)).
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.GetPlanByID(ctx, step.PlanID, "")
	if err != nil {
		return nil, nil, err
	}
	return &step, plan, nil
}

func (s *Store) NextPendingStep(ctx context.Context, planID uint64) (*models.Step, error) {
	if s == nil || s.db == nil || planID == 0 {
		return nil, nil
	}
	var item models.Step
	err := s.db.WithContext(ctx).
		Model(&models.Step{}).
		Where("plan_id = ? AND status = ?", planID, string(models.StepPending)).
		Order("step_number asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateStepStatus(ctx context.Context, id uint64, status models.StepStatus, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || !status.Valid() {
		return nil
	}
	next := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		next[k] = v
	}
	return s.db.WithContext(ctx).Model(&models.Step{}).Where("id = ?", id).Updates(next).Error
}

func (s *Store) CountStepsInStatuses(ctx context.Context, planID uint64, statuses []models.StepStatus) (int64, error) {
	if s == nil || s.db == nil || planID == 0 || len(statuses) == 0 {
		return 0, nil
	}
	raw := make([]string, 0, len(statuses))
	for _, st := range statuses {
		raw = append(raw, string(st))
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Step{}).
		Where("plan_id = ? AND status IN ?", planID, raw).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// --- Cascades & sweeps -------------------------------------------------------

func (s *Store) CancelPlanCascade(ctx context.Context, planID uint64, status models.PlanStatus) error {
	if s == nil || s.db == nil || planID == 0 || !status.Terminal() {
		return nil
	}
	open := models.OpenStepStatuses()
	raw := make([]string, 0, len(open))
	for _, st := range open {
		raw = append(raw, string(st))
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Plan{}).
			Where("id = ?", planID).
			Updates(map[string]any{"status": string(status), "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Step{}).
			Where("plan_id = ? AND status IN ?", planID, raw).
			Updates(map[string]any{"status": string(models.StepCancelled), "updated_at": now}).Error
	})
}

func (s *Store) ListActivePlansCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Plan, error) {
	if s == nil || s.db == nil || cutoff.IsZero() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	var items []models.Plan
	err := s.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("status = ? AND created_at < ?", string(models.PlanActive), cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
