package teleconsultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a Repository backed by the teleconsultations table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, consultation_id, practitioner_id, requested_by_user_id, target_specialist_id,
	specialist_id, room_name, status, started_at, ended_at, duration_seconds, created_at`

func scan(row pgx.Row) (*Teleconsultation, error) {
	var t Teleconsultation
	err := row.Scan(&t.ID, &t.ConsultationID, &t.PractitionerID, &t.RequestedByUserID, &t.TargetSpecialistID,
		&t.SpecialistID, &t.RoomName, &t.Status, &t.StartedAt, &t.EndedAt, &t.DurationSeconds, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Teleconsultation) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO teleconsultations (id, consultation_id, practitioner_id, requested_by_user_id,
			target_specialist_id, room_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		t.ID, t.ConsultationID, t.PractitionerID, t.RequestedByUserID,
		t.TargetSpecialistID, t.RoomName, t.Status,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert teleconsultation: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Teleconsultation, error) {
	t, err := scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM teleconsultations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get teleconsultation %s: %w", id, err)
	}
	return t, nil
}

// transition runs a status-gated UPDATE. No returned row means either the
// record is gone or another caller already moved it.
func (r *repoPG) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*Teleconsultation, error) {
	t, err := scan(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update teleconsultation %s: %w", id, err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrInvalidTransition
}

func (r *repoPG) MarkActive(ctx context.Context, id, specialistID uuid.UUID, startedAt time.Time) (*Teleconsultation, error) {
	return r.transition(ctx, id, `
		UPDATE teleconsultations
		SET status = 'ACTIVE', specialist_id = $2, started_at = $3
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+cols, id, specialistID, startedAt)
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (*Teleconsultation, error) {
	return r.transition(ctx, id, `
		UPDATE teleconsultations
		SET status = 'COMPLETED', ended_at = $2, duration_seconds = $3
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+cols, id, endedAt, durationSeconds)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Teleconsultation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list teleconsultations: %w", err)
	}
	defer rows.Close()

	var out []*Teleconsultation
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan teleconsultation: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) ListPendingForSpecialist(ctx context.Context, specialistID uuid.UUID, since time.Time) ([]*Teleconsultation, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM teleconsultations
		WHERE target_specialist_id = $1 AND status = 'PENDING' AND created_at >= $2
		ORDER BY created_at DESC`, specialistID, since)
}

func (r *repoPG) ListActiveForSpecialist(ctx context.Context, specialistID uuid.UUID) ([]*Teleconsultation, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM teleconsultations
		WHERE specialist_id = $1 AND status = 'ACTIVE'
		ORDER BY started_at DESC`, specialistID)
}

func (r *repoPG) ListForParticipant(ctx context.Context, userID uuid.UUID, practitionerID *uuid.UUID, limit, offset int) ([]*Teleconsultation, int, error) {
	const where = ` WHERE requested_by_user_id = $1
		OR ($2::uuid IS NOT NULL AND (specialist_id = $2 OR practitioner_id = $2))`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM teleconsultations`+where, userID, practitionerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count teleconsultations: %w", err)
	}
	items, err := r.list(ctx, `SELECT `+cols+` FROM teleconsultations`+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, practitionerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
