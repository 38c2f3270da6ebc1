package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketClass identifies the venue rules a symbol trades under. Tick-size
// conformance and quantity rounding depend on it.
type MarketClass string

const (
	MarketDomesticEquity MarketClass = "domestic_equity"
	MarketForeignEquity  MarketClass = "foreign_equity"
	MarketCrypto         MarketClass = "crypto"
)

func (m MarketClass) Valid() bool {
	switch m {
	case MarketDomesticEquity, MarketForeignEquity, MarketCrypto:
		return true
	}
	return false
}

// FractionalQuantity reports whether the market allows sub-unit order sizes.
func (m MarketClass) FractionalQuantity() bool {
	return m == MarketCrypto
}

// PlanStrategy selects the price-level algorithm used when a plan is built.
type PlanStrategy string

const (
	StrategySupport    PlanStrategy = "support"
	StrategyEqual      PlanStrategy = "equal"
	StrategyAggressive PlanStrategy = "aggressive"
)

func (s PlanStrategy) Valid() bool {
	switch s {
	case StrategySupport, StrategyEqual, StrategyAggressive:
		return true
	}
	return false
}

// PlanStatus is the plan lifecycle state. Transitions out of active are
// terminal; expiry is driven by an external sweep, never by the engine itself.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
	PlanExpired   PlanStatus = "expired"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanCompleted, PlanCancelled, PlanExpired:
		return true
	}
	return false
}

func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanCancelled || s == PlanExpired
}

// Plan is one DCA campaign for one instrument, owned by one user. It is
// created atomically with its steps and never physically deleted in normal
// operation.
type Plan struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"plan_id"`
	OwnerID string `gorm:"type:varchar(64);not null;index" json:"owner_id"`

	Symbol string      `gorm:"type:varchar(32);not null;index" json:"symbol"`
	Market MarketClass `gorm:"type:varchar(20);not null" json:"market"`

	TotalAmount decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_amount"`
	SplitCount  int             `gorm:"not null" json:"splits"`
	Strategy    PlanStrategy    `gorm:"type:varchar(20);not null" json:"strategy"`
	Status      PlanStatus      `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	// RSI(14) observed when the plan was created. Nil when the indicator
	// source had no value for the symbol.
	RSISnapshot *float64 `gorm:"type:numeric(10,4)" json:"rsi_14"`

	Steps []Step `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Plan) TableName() string {
	return "dca_plans"
}
