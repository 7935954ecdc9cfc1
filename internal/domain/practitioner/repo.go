package practitioner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("practitioner profile not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Practitioner, error)
	// ListSpecialists returns approved, active specialists.
	ListSpecialists(ctx context.Context, limit, offset int) ([]*Practitioner, int, error)
	// ListAvailable orders by last_active, most recent first, never-active
	// last.
	ListAvailable(ctx context.Context, f AvailableFilter) ([]*Practitioner, error)
	SetStatus(ctx context.Context, id uuid.UUID, online bool, at time.Time) (*Practitioner, error)
}
