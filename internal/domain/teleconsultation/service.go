package teleconsultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dermoai/dermoai/internal/domain/practitioner"
	"github.com/dermoai/dermoai/internal/platform/auth"
	"github.com/dermoai/dermoai/internal/platform/livekit"
	"github.com/dermoai/dermoai/internal/platform/websocket"
)

// Defaults for Options.
const (
	DefaultPendingMaxAge = 15 * time.Minute
	DefaultTokenTTL      = 2 * time.Hour
)

// RoomService provisions and tears down video rooms.
type RoomService interface {
	CreateRoom(ctx context.Context, name string) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// TokenMinter signs room join credentials.
type TokenMinter interface {
	MintToken(roomName, identity, name string, ttl time.Duration, grants livekit.Grants) (string, error)
}

// Notifier delivers events to connected practitioners. Delivery is advisory.
type Notifier interface {
	Publish(ctx context.Context, env websocket.Envelope) error
}

// PractitionerLookup resolves practitioner profiles. Get returns
// practitioner.ErrNotFound for unknown ids.
type PractitionerLookup interface {
	PractitionerIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*practitioner.Practitioner, error)
}

// Options tunes a Service. Zero values fall back to the defaults above and
// time.Now.
type Options struct {
	PendingMaxAge time.Duration
	TokenTTL      time.Duration
	Now           func() time.Time
}

// Service runs the teleconsultation state machine. It holds no lock; the
// repository's status-gated updates order concurrent callers.
type Service struct {
	repo          Repository
	practitioners PractitionerLookup
	rooms         RoomService
	tokens        TokenMinter
	notifier      Notifier
	log           zerolog.Logger

	pendingMaxAge time.Duration
	tokenTTL      time.Duration
	now           func() time.Time
}

// NewService wires a Service. notifier is usually the websocket Registry or
// the Redis relay in front of it.
func NewService(repo Repository, practitioners PractitionerLookup, rooms RoomService, tokens TokenMinter, notifier Notifier, log zerolog.Logger, opts Options) *Service {
	s := &Service{
		repo:          repo,
		practitioners: practitioners,
		rooms:         rooms,
		tokens:        tokens,
		notifier:      notifier,
		log:           log.With().Str("component", "teleconsultation").Logger(),
		pendingMaxAge: opts.PendingMaxAge,
		tokenTTL:      opts.TokenTTL,
		now:           opts.Now,
	}
	if s.pendingMaxAge <= 0 {
		s.pendingMaxAge = DefaultPendingMaxAge
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RequestInput carries the optional fields of a new request.
type RequestInput struct {
	ConsultationID *uuid.UUID
	SpecialistID   *uuid.UUID
}

// Token is a join credential for a session's room.
type Token struct {
	Token     string    `json:"token"`
	RoomName  string    `json:"room_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) initiator(ctx context.Context, requester auth.Identity, target *uuid.UUID) (Initiator, error) {
	if !requester.IsPractitioner() {
		return Initiator{Kind: PatientInitiated, TargetSpecialistID: target}, nil
	}
	id, err := s.practitioners.PractitionerIDForUser(ctx, requester.UserID)
	if err != nil {
		return Initiator{}, err
	}
	return Initiator{Kind: ClinicianInitiated, PractitionerID: id, TargetSpecialistID: target}, nil
}

// Request creates a PENDING session and notifies the target specialist, or
// every connected specialist when no target is given.
func (s *Service) Request(ctx context.Context, requester auth.Identity, in RequestInput) (*Teleconsultation, error) {
	if in.SpecialistID != nil && *in.SpecialistID == uuid.Nil {
		in.SpecialistID = nil
	}

	origin, err := s.initiator(ctx, requester, in.SpecialistID)
	if err != nil {
		return nil, err
	}
	if err := origin.validate(); err != nil {
		return nil, err
	}
	if origin.TargetSpecialistID != nil {
		if err := s.checkTarget(ctx, *origin.TargetSpecialistID); err != nil {
			return nil, err
		}
	}

	t := &Teleconsultation{
		ID:                 uuid.New(),
		ConsultationID:     in.ConsultationID,
		RequestedByUserID:  requester.UserID,
		TargetSpecialistID: origin.TargetSpecialistID,
		RoomName:           NewRoomName(),
		Status:             StatusPending,
	}
	if origin.Kind == ClinicianInitiated {
		pid := origin.PractitionerID
		t.PractitionerID = &pid
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create teleconsultation: %w", err)
	}

	var env websocket.Envelope
	if t.TargetSpecialistID != nil {
		env, err = websocket.NewTargetedEnvelope(*t.TargetSpecialistID, newRequestEvent(t))
	} else {
		env, err = websocket.NewBroadcastEnvelope(newRequestEvent(t), nil)
	}
	s.notify(ctx, t, EventRequest, env, err)

	s.log.Info().
		Str("teleconsultation_id", t.ID.String()).
		Str("initiator", origin.Kind.String()).
		Bool("targeted", t.TargetSpecialistID != nil).
		Msg("teleconsultation requested")
	return t, nil
}

// checkTarget rejects targets that are not approved, active specialists.
func (s *Service) checkTarget(ctx context.Context, id uuid.UUID) error {
	p, err := s.practitioners.Get(ctx, id)
	if errors.Is(err, practitioner.ErrNotFound) {
		return invalidRequest("specialist not found")
	}
	if err != nil {
		return fmt.Errorf("load target specialist: %w", err)
	}
	if !p.AcceptsReferrals() {
		return invalidRequest("specialist is not accepting teleconsultations")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, t *Teleconsultation, event string, env websocket.Envelope, buildErr error) {
	err := buildErr
	if err == nil {
		err = s.notifier.Publish(ctx, env)
	}
	if err != nil {
		s.log.Warn().Err(err).
			Str("teleconsultation_id", t.ID.String()).
			Str("event", event).
			Msg("teleconsultation notification failed")
	}
}

// Accept provisions the room and moves a PENDING session to ACTIVE. Of
// several concurrent callers exactly one wins; the rest get
// ErrInvalidTransition.
func (s *Service) Accept(ctx context.Context, id, specialistID uuid.UUID) (*Teleconsultation, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	if _, err := s.rooms.CreateRoom(ctx, t.RoomName); err != nil {
		return nil, fmt.Errorf("%w: room %s: %w", ErrUpstreamProvisioning, t.RoomName, err)
	}

	accepted, err := s.repo.MarkActive(ctx, id, specialistID, s.now().UTC())
	if err != nil {
		s.releaseRoom(ctx, t, err)
		return nil, err
	}
	t = accepted

	if origin := t.Initiator(); origin.Kind == ClinicianInitiated {
		env, err := websocket.NewTargetedEnvelope(origin.PractitionerID, newAcceptedEvent(t))
		s.notify(ctx, t, EventAccepted, env, err)
	}

	s.log.Info().
		Str("teleconsultation_id", t.ID.String()).
		Str("specialist_id", specialistID.String()).
		Msg("teleconsultation accepted")
	return t, nil
}

// releaseRoom runs after a failed MarkActive. A lost race leaves the room to
// the winner unless the winner already ended the session, in which case our
// CreateRoom may have brought the room back. Any other failure means nobody
// owns the room.
func (s *Service) releaseRoom(ctx context.Context, t *Teleconsultation, cause error) {
	if errors.Is(cause, ErrInvalidTransition) {
		current, err := s.repo.GetByID(ctx, t.ID)
		if err != nil || current.Status != StatusCompleted {
			return
		}
	}
	if err := s.rooms.DeleteRoom(ctx, t.RoomName); err != nil {
		s.log.Warn().Err(err).
			Str("teleconsultation_id", t.ID.String()).
			Str("room", t.RoomName).
			Msg("room release after failed accept")
	}
}

// End completes an ACTIVE session and tears its room down. Teardown errors
// are logged and never undo the completion.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*Teleconsultation, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusActive {
		return nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	duration := 0
	if t.StartedAt != nil {
		duration = durationSeconds(*t.StartedAt, now)
	}

	t, err = s.repo.MarkCompleted(ctx, id, now, duration)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.DeleteRoom(ctx, t.RoomName); err != nil {
		s.log.Warn().Err(err).
			Str("teleconsultation_id", t.ID.String()).
			Str("room", t.RoomName).
			Msg("room teardown failed")
	}

	s.log.Info().
		Str("teleconsultation_id", t.ID.String()).
		Int("duration_seconds", duration).
		Msg("teleconsultation ended")
	return t, nil
}

// Get returns the session or ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Teleconsultation, error) {
	return s.repo.GetByID(ctx, id)
}

// GetToken mints a publish+subscribe join token for the session's room.
// Issuance does not depend on the session status.
func (s *Service) GetToken(ctx context.Context, id uuid.UUID, requester auth.Identity) (*Token, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	name := requester.Name
	if name == "" {
		name = requester.UserID.String()
	}
	signed, err := s.tokens.MintToken(t.RoomName, requester.UserID.String(), name, s.tokenTTL,
		livekit.Grants{CanPublish: true, CanSubscribe: true})
	if err != nil {
		return nil, fmt.Errorf("mint room token: %w", err)
	}
	return &Token{
		Token:     signed,
		RoomName:  t.RoomName,
		ExpiresAt: s.now().UTC().Add(s.tokenTTL),
	}, nil
}

// ListPendingForSpecialist returns requests addressed to specialistID that
// are still PENDING and younger than maxAge, newest first. A non-positive
// maxAge uses the configured window.
func (s *Service) ListPendingForSpecialist(ctx context.Context, specialistID uuid.UUID, maxAge time.Duration) ([]*Teleconsultation, error) {
	if maxAge <= 0 {
		maxAge = s.pendingMaxAge
	}
	return s.repo.ListPendingForSpecialist(ctx, specialistID, s.now().UTC().Add(-maxAge))
}

// ListActiveForSpecialist returns the ACTIVE sessions specialistID accepted.
func (s *Service) ListActiveForSpecialist(ctx context.Context, specialistID uuid.UUID) ([]*Teleconsultation, error) {
	return s.repo.ListActiveForSpecialist(ctx, specialistID)
}

// ListForParticipant pages through sessions the user requested or, as a
// practitioner, requested or accepted.
func (s *Service) ListForParticipant(ctx context.Context, requester auth.Identity, limit, offset int) ([]*Teleconsultation, int, error) {
	var practitionerID *uuid.UUID
	if requester.IsPractitioner() {
		id, err := s.practitioners.PractitionerIDForUser(ctx, requester.UserID)
		switch {
		case err == nil:
			practitionerID = &id
		case !errors.Is(err, practitioner.ErrNotFound):
			return nil, 0, err
		}
	}
	return s.repo.ListForParticipant(ctx, requester.UserID, practitionerID, limit, offset)
}

// PractitionerIDForUser resolves the calling practitioner's profile id.
func (s *Service) PractitionerIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.practitioners.PractitionerIDForUser(ctx, userID)
}
