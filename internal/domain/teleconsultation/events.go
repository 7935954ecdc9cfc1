package teleconsultation

import "github.com/google/uuid"

const (
	EventRequest  = "teleconsultation_request"
	EventAccepted = "teleconsultation_accepted"
)

// RequestEvent is pushed to specialists when a session is requested.
type RequestEvent struct {
	Type               string     `json:"type"`
	TeleconsultationID uuid.UUID  `json:"teleconsultation_id"`
	ConsultationID     *uuid.UUID `json:"consultation_id"`
	PractitionerID     *uuid.UUID `json:"practitioner_id"`
	RequestedByUserID  uuid.UUID  `json:"requested_by_user_id"`
}

// AcceptedEvent is pushed to the requesting clinician once a specialist
// accepts.
type AcceptedEvent struct {
	Type               string    `json:"type"`
	TeleconsultationID uuid.UUID `json:"teleconsultation_id"`
	SpecialistID       uuid.UUID `json:"specialist_id"`
}

func newRequestEvent(t *Teleconsultation) RequestEvent {
	return RequestEvent{
		Type:               EventRequest,
		TeleconsultationID: t.ID,
		ConsultationID:     t.ConsultationID,
		PractitionerID:     t.PractitionerID,
		RequestedByUserID:  t.RequestedByUserID,
	}
}

func newAcceptedEvent(t *Teleconsultation) AcceptedEvent {
	return AcceptedEvent{
		Type:               EventAccepted,
		TeleconsultationID: t.ID,
		SpecialistID:       *t.SpecialistID,
	}
}
