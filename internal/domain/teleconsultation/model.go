package teleconsultation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Teleconsultation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

const roomPrefix = "telecons_"

// Teleconsultation is a video session between a requester and a specialist.
// It moves PENDING -> ACTIVE -> COMPLETED and never back.
type Teleconsultation struct {
	ID                 uuid.UUID  `json:"teleconsultation_id"`
	ConsultationID     *uuid.UUID `json:"consultation_id"`
	PractitionerID     *uuid.UUID `json:"practitioner_id"`
	RequestedByUserID  uuid.UUID  `json:"requested_by_user_id"`
	TargetSpecialistID *uuid.UUID `json:"target_specialist_id"`
	SpecialistID       *uuid.UUID `json:"specialist_id"`
	RoomName           string     `json:"room_name"`
	Status             Status     `json:"status"`
	StartedAt          *time.Time `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at"`
	DurationSeconds    *int       `json:"duration_seconds"`
	CreatedAt          time.Time  `json:"created_at"`
}

type InitiatorKind int

const (
	ClinicianInitiated InitiatorKind = iota + 1
	PatientInitiated
)

func (k InitiatorKind) String() string {
	switch k {
	case ClinicianInitiated:
		return "clinician"
	case PatientInitiated:
		return "patient"
	default:
		return "unknown"
	}
}

// Initiator says who opened a request. A clinician request carries the
// clinician's practitioner id and may omit the target; a patient request
// always names its target specialist.
type Initiator struct {
	Kind               InitiatorKind
	PractitionerID     uuid.UUID
	TargetSpecialistID *uuid.UUID
}

func (in Initiator) validate() error {
	switch in.Kind {
	case ClinicianInitiated:
		if in.PractitionerID == uuid.Nil {
			return invalidRequest("practitioner_id is required for clinician requests")
		}
	case PatientInitiated:
		if in.TargetSpecialistID == nil || *in.TargetSpecialistID == uuid.Nil {
			return invalidRequest("specialist_id is required when requesting as a patient")
		}
	default:
		return invalidRequest("unknown requester kind")
	}
	return nil
}

// Initiator recovers the tagged initiator from the nullable columns.
func (t *Teleconsultation) Initiator() Initiator {
	if t.PractitionerID != nil {
		return Initiator{Kind: ClinicianInitiated, PractitionerID: *t.PractitionerID, TargetSpecialistID: t.TargetSpecialistID}
	}
	return Initiator{Kind: PatientInitiated, TargetSpecialistID: t.TargetSpecialistID}
}

// NewRoomName returns "telecons_" followed by 12 random hex characters.
func NewRoomName() string {
	return roomPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func durationSeconds(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
