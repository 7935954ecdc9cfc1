package teleconsultation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("teleconsultation not found")
	ErrInvalidRequest       = errors.New("invalid teleconsultation request")
	ErrInvalidTransition    = errors.New("teleconsultation already handled")
	ErrUpstreamProvisioning = errors.New("video room provisioning failed")
)

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
