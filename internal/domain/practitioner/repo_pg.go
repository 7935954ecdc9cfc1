package practitioner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a Repository backed by the practitioners table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, user_id, practitioner_type, approval_status, expertise, is_active, is_online, last_active, created_at`

func scan(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	if err := row.Scan(&p.ID, &p.UserID, &p.Type, &p.ApprovalStatus, &p.Expertise, &p.Active, &p.Online, &p.LastActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) getOne(ctx context.Context, where string, arg uuid.UUID) (*Practitioner, error) {
	p, err := scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM practitioners WHERE `+where+` = $1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("practitioner by %s: %w", where, err)
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return r.getOne(ctx, "id", id)
}

func (r *repoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Practitioner, error) {
	return r.getOne(ctx, "user_id", userID)
}

const specialistFilter = `practitioner_type = 'SPECIALIST' AND approval_status = 'APPROVED' AND is_active`

func (r *repoPG) ListSpecialists(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM practitioners WHERE `+specialistFilter).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count specialists: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+cols+` FROM practitioners WHERE `+specialistFilter+` ORDER BY created_at, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list specialists: %w", err)
	}
	defer rows.Close()

	out := make([]*Practitioner, 0, limit)
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan specialist: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListAvailable(ctx context.Context, f AvailableFilter) ([]*Practitioner, error) {
	where := []string{"approval_status = 'APPROVED'", "is_active"}
	var args []any
	if f.OnlineOnly {
		where = append(where, "is_online")
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, "practitioner_type = $"+strconv.Itoa(len(args)))
	}
	if f.ExcludeUserID != nil {
		args = append(args, *f.ExcludeUserID)
		where = append(where, "user_id <> $"+strconv.Itoa(len(args)))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+cols+` FROM practitioners WHERE `+strings.Join(where, " AND ")+
			` ORDER BY last_active DESC NULLS LAST, created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list available practitioners: %w", err)
	}
	defer rows.Close()

	var out []*Practitioner
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan practitioner: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, online bool, at time.Time) (*Practitioner, error) {
	p, err := scan(r.pool.QueryRow(ctx,
		`UPDATE practitioners SET is_online = $2, last_active = $3 WHERE id = $1 RETURNING `+cols,
		id, online, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set practitioner status: %w", err)
	}
	return p, nil
}
