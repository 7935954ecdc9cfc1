package practitioner

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeGeneral    = "GENERAL"
	TypeSpecialist = "SPECIALIST"
)

const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
)

// Practitioner is the clinical profile attached to a PRACTITIONER user.
// General practitioners request teleconsultations; specialists accept them.
type Practitioner struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Type           string     `json:"practitioner_type"`
	ApprovalStatus string     `json:"approval_status"`
	Expertise      *string    `json:"expertise,omitempty"`
	Active         bool       `json:"is_active"`
	Online         bool       `json:"is_online"`
	LastActive     *time.Time `json:"last_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AcceptsReferrals reports whether a patient may address a teleconsultation
// to this practitioner.
func (p *Practitioner) AcceptsReferrals() bool {
	return p.Active && p.Type == TypeSpecialist && p.ApprovalStatus == ApprovalApproved
}

// AvailableFilter narrows the availability listing. Only approved, active
// practitioners are ever listed.
type AvailableFilter struct {
	Type          string
	OnlineOnly    bool
	ExcludeUserID *uuid.UUID
}
