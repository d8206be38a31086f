// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Session is a scheduled class run by one trainer.
type Session struct {
	ID          uuid.UUID `json:"id"`
	TrainerID   uuid.UUID `json:"trainer_id"`
	TrainerName string    `json:"trainer_name"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ScheduledAt time.Time `json:"scheduled_at"`
	// MaxCapacity is nil for sessions without a seat limit.
	MaxCapacity *int      `json:"max_capacity"`
	Booked      int       `json:"booked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasCapacity reports whether the session has a finite seat limit.
func (s *Session) HasCapacity() bool {
	return s.MaxCapacity != nil
}

// SessionInput is the trainer-editable part of a session.
type SessionInput struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ScheduledAt time.Time `json:"scheduled_at"`
	MaxCapacity *int      `json:"max_capacity"`
}
