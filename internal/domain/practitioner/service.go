package practitioner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dermoai/dermoai/internal/platform/websocket"
)

// Service reads practitioner profiles and maintains their availability.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService returns a Service over repo using the wall clock.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserID(ctx context.Context, userID uuid.UUID) (*Practitioner, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// PractitionerIDForUser returns the practitioner id of userID or ErrNotFound.
func (s *Service) PractitionerIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	p, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// ResolveRecipient maps a connecting user to the id their specialist socket is
// registered under.
func (s *Service) ResolveRecipient(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	id, err := s.PractitionerIDForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return uuid.Nil, websocket.ErrNoRecipient
	}
	return id, err
}

func (s *Service) ListSpecialists(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	return s.repo.ListSpecialists(ctx, limit, offset)
}

// SetStatus records the online flag of practitioner id and stamps
// last_active.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, online bool) (*Practitioner, error) {
	return s.repo.SetStatus(ctx, id, online, s.now().UTC())
}

func (s *Service) SetMyStatus(ctx context.Context, userID uuid.UUID, online bool) (*Practitioner, error) {
	id, err := s.PractitionerIDForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.SetStatus(ctx, id, online)
}

// ListAvailable lists approved, active practitioners other than the caller.
func (s *Service) ListAvailable(ctx context.Context, callerID uuid.UUID, practitionerType string, onlineOnly bool) ([]*Practitioner, error) {
	f := AvailableFilter{Type: practitionerType, OnlineOnly: onlineOnly}
	if callerID != uuid.Nil {
		f.ExcludeUserID = &callerID
	}
	items, err := s.repo.ListAvailable(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Practitioner{}
	}
	return items, nil
}
