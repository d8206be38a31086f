// internal/revenue/service.go
package revenue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service interface {
	CreateRecord(ctx context.Context, in Input) (*Record, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByDate(ctx context.Context, day time.Time) (*Record, error)
	ListRecords(ctx context.Context, r Range) ([]Record, error)
	UpdateRecord(ctx context.Context, id uuid.UUID, in Input) (*Record, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}
