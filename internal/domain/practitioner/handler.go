package practitioner

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dermoai/dermoai/internal/platform/auth"
	"github.com/dermoai/dermoai/pkg/pagination"
)

// Handler serves the /practitioners routes.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/practitioners")
	g.GET("/specialists", h.ListSpecialists)
	g.GET("/available", h.ListAvailable)
	g.GET("/me", h.GetMe, auth.RequireRole(auth.RolePractitioner))
	g.PUT("/me/status", h.SetMyStatus, auth.RequireRole(auth.RolePractitioner))
	g.GET("/:id", h.Get)
}

func (h *Handler) ListSpecialists(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSpecialists(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// ListAvailable serves GET /practitioners/available. online_only defaults to
// true.
func (h *Handler) ListAvailable(c echo.Context) error {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}

	onlineOnly := true
	if v := c.QueryParam("online_only"); v != "" {
		onlineOnly, err = strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid online_only")
		}
	}
	pt := c.QueryParam("practitioner_type")
	if pt != "" && pt != TypeGeneral && pt != TypeSpecialist {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_type")
	}

	items, err := h.svc.ListAvailable(c.Request().Context(), identity.UserID, pt, onlineOnly)
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// StatusRequest is the body of PUT /practitioners/me/status.
type StatusRequest struct {
	Online *bool `json:"is_online"`
}

func (h *Handler) SetMyStatus(c echo.Context) error {
	identity, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}

	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Online == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_online is required")
	}

	p, err := h.svc.SetMyStatus(c.Request().Context(), identity.UserID, *req.Online)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetMe(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetByUserID(c.Request().Context(), id.UserID)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func toHTTP(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return internalError(err)
}

func internalError(err error) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
