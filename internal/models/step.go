package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// StepStatus is the per-step lifecycle state.
// pending → ordered → {partial → filled | filled}; pending/ordered/partial →
// cancelled; pending → skipped. filled, cancelled and skipped are terminal.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepOrdered   StepStatus = "ordered"
	StepPartial   StepStatus = "partial"
	StepFilled    StepStatus = "filled"
	StepCancelled StepStatus = "cancelled"
	StepSkipped   StepStatus = "skipped"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepOrdered, StepPartial, StepFilled, StepCancelled, StepSkipped:
		return true
	}
	return false
}

func (s StepStatus) Terminal() bool {
	return s == StepFilled || s == StepCancelled || s == StepSkipped
}

// OpenStepStatuses are the states a cancel cascade moves to cancelled and the
// states that keep a plan from auto-completing.
func OpenStepStatuses() []StepStatus {
	return []StepStatus{StepPending, StepOrdered, StepPartial}
}

// Step is one scheduled buy within a plan, 1-indexed by StepNumber.
type Step struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"step_id"`
	PlanID     uint64 `gorm:"not null;uniqueIndex:idx_steps_plan_number,priority:1" json:"plan_id"`
	StepNumber int    `gorm:"not null;uniqueIndex:idx_steps_plan_number,priority:2" json:"step"`

	TargetPrice    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"target_price"`
	TargetAmount   decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"target_amount"`
	TargetQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"target_quantity"`

	Status StepStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	FilledPrice    *decimal.Decimal `gorm:"type:numeric(30,10)" json:"filled_price"`
	FilledQuantity *decimal.Decimal `gorm:"type:numeric(30,10)" json:"filled_quantity"`
	FilledAmount   *decimal.Decimal `gorm:"type:numeric(30,10)" json:"filled_amount"`

	BrokerOrderID string `gorm:"type:varchar(100);index" json:"broker_order_id,omitempty"`

	// LevelSource records where the step's price came from: a support
	// detector tag carried verbatim, or one of the planner's own tags
	// (interpolated, synthetic, equal_spaced, aggressive_first).
	LevelSource string `gorm:"type:varchar(50);not null" json:"source"`

	// TickMeta holds {"original_price": "...", "tick_adjusted": true} when
	// the raw level price had to be rounded to the venue's price grid.
	// Empty when no adjustment happened.
	TickMeta datatypes.JSON `gorm:"type:jsonb" json:"tick_meta,omitempty"`

	OrderedAt *time.Time `json:"ordered_at"`
	FilledAt  *time.Time `json:"filled_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Step) TableName() string {
	return "dca_plan_steps"
}

type tickMeta struct {
	OriginalPrice decimal.Decimal `json:"original_price"`
	TickAdjusted  bool            `json:"tick_adjusted"`
}

// EncodeTickMeta builds the TickMeta payload for a tick-adjusted step.
func EncodeTickMeta(originalPrice decimal.Decimal) (datatypes.JSON, error) {
	raw, err := json.Marshal(tickMeta{OriginalPrice: originalPrice, TickAdjusted: true})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// OriginalPrice returns the pre-adjustment price when the step was
// tick-adjusted, nil otherwise.
func (s *Step) OriginalPrice() *decimal.Decimal {
	if len(s.TickMeta) == 0 {
		return nil
	}
	var meta tickMeta
	if err := json.Unmarshal(s.TickMeta, &meta); err != nil {
		return nil
	}
	if !meta.TickAdjusted {
		return nil
	}
	return &meta.OriginalPrice
}
