// internal/plan/domain.go
package plan

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a purchasable membership subscription.
type Plan struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Price          float64   `json:"price"`
	DurationInDays int       `json:"duration_in_days"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Input is the admin-editable part of a plan.
type Input struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Price          float64 `json:"price"`
	DurationInDays int     `json:"duration_in_days"`
	Active         *bool   `json:"active"`
}
