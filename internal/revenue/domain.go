// internal/revenue/domain.go
package revenue

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format of a revenue day.
const DateLayout = "2006-01-02"

// Record is the bookkeeping entry for one day. There is at most one record
// per day.
type Record struct {
	ID              uuid.UUID `json:"id"`
	RevenueDate     string    `json:"revenue_date"`
	IncomeFromPlans float64   `json:"income_from_plans"`
	TrainerSalaries float64   `json:"trainer_salaries"`
	EquipmentCosts  float64   `json:"equipment_costs"`
	Profit          float64   `json:"profit"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Input is the admin-editable part of a record.
type Input struct {
	RevenueDate     string  `json:"revenue_date"`
	IncomeFromPlans float64 `json:"income_from_plans"`
	TrainerSalaries float64 `json:"trainer_salaries"`
	EquipmentCosts  float64 `json:"equipment_costs"`
}

// Range bounds a listing by day, both ends inclusive. Nil ends are open.
type Range struct {
	From *time.Time
	To   *time.Time
}
