package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles carried in the access token.
const (
	RoleUser         = "USER"
	RolePractitioner = "PRACTITIONER"
	RoleAdmin        = "ADMIN"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID uuid.UUID
	Role   string
	Name   string
}

func (i Identity) IsPractitioner() bool { return i.Role == RolePractitioner }

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
