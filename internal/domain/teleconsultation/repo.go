package teleconsultation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists teleconsultations. MarkActive and MarkCompleted are
// compare-and-set updates: they return ErrInvalidTransition when the stored
// status no longer matches the expected one.
type Repository interface {
	Create(ctx context.Context, t *Teleconsultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Teleconsultation, error)
	MarkActive(ctx context.Context, id, specialistID uuid.UUID, startedAt time.Time) (*Teleconsultation, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (*Teleconsultation, error)
	// ListPendingForSpecialist returns PENDING records addressed to
	// specialistID created at or after since, newest first.
	ListPendingForSpecialist(ctx context.Context, specialistID uuid.UUID, since time.Time) ([]*Teleconsultation, error)
	ListActiveForSpecialist(ctx context.Context, specialistID uuid.UUID) ([]*Teleconsultation, error)
	ListForParticipant(ctx context.Context, userID uuid.UUID, practitionerID *uuid.UUID, limit, offset int) ([]*Teleconsultation, int, error)
}
