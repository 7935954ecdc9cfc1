package teleconsultation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dermoai/dermoai/internal/domain/practitioner"
	"github.com/dermoai/dermoai/internal/platform/auth"
	"github.com/dermoai/dermoai/pkg/pagination"
)

// Handler serves the /teleconsultations routes.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the routes under api. Accepting, ending and the
// specialist inboxes require the PRACTITIONER role.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/teleconsultations")
	g.POST("", h.Create)
	g.GET("", h.List)

	pract := auth.RequireRole(auth.RolePractitioner)
	g.GET("/incoming", h.ListIncoming, pract)
	g.GET("/active", h.ListActive, pract)
	g.POST("/:id/accept", h.Accept, pract)
	g.POST("/:id/end", h.End, pract)

	g.GET("/:id", h.Get)
	g.GET("/:id/token", h.GetToken)
}

// CreateRequest is the body of POST /teleconsultations.
type CreateRequest struct {
	ConsultationID *string `json:"consultation_id" validate:"omitempty,uuid"`
	SpecialistID   *string `json:"specialist_id" validate:"omitempty,uuid"`
}

// parseOptionalID treats a missing or empty field as unset.
func parseOptionalID(field string, s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+field)
	}
	return &id, nil
}

func (h *Handler) Create(c echo.Context) error {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}

	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(&req); err != nil {
			return err
		}
	}

	consultationID, err := parseOptionalID("consultation_id", req.ConsultationID)
	if err != nil {
		return err
	}
	specialistID, err := parseOptionalID("specialist_id", req.SpecialistID)
	if err != nil {
		return err
	}

	t, err := h.svc.Request(c.Request().Context(), identity, RequestInput{
		ConsultationID: consultationID,
		SpecialistID:   specialistID,
	})
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) List(c echo.Context) error {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForParticipant(c.Request().Context(), identity, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*Teleconsultation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// callerPractitionerID resolves the caller's practitioner profile.
func (h *Handler) callerPractitionerID(c echo.Context) (uuid.UUID, error) {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := h.svc.PractitionerIDForUser(c.Request().Context(), identity.UserID)
	if err != nil {
		return uuid.Nil, toHTTP(err)
	}
	return id, nil
}

func (h *Handler) ListIncoming(c echo.Context) error {
	pid, err := h.callerPractitionerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPendingForSpecialist(c.Request().Context(), pid, 0)
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*Teleconsultation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListActive(c echo.Context) error {
	pid, err := h.callerPractitionerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListActiveForSpecialist(c.Request().Context(), pid)
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*Teleconsultation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Accept(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pid, err := h.callerPractitionerID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Accept(c.Request().Context(), id, pid)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) End(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.End(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetToken(c echo.Context) error {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	tok, err := h.svc.GetToken(c.Request().Context(), id, identity)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, tok)
}

func toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, practitioner.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, practitioner.ErrNotFound.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, ErrInvalidTransition.Error())
	case errors.Is(err, ErrUpstreamProvisioning):
		return echo.NewHTTPError(http.StatusBadGateway, ErrUpstreamProvisioning.Error())
	default:
		return internalError(err)
	}
}

// internalError hides err from the client. The request logger still records
// it through HTTPError.Internal.
func internalError(err error) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
