package billing

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/middleware"
)

// Handler handles HTTP requests for the upgrade flow.
type Handler struct {
	service *Service
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Plans returns the plan catalog (GET /api/v1/billing/plans).
func (h *Handler) Plans(c echo.Context) error {
	return c.JSON(http.StatusOK, Plans())
}

// Upgrade runs the simulated checkout (POST /api/v1/billing/upgrade).
func (h *Handler) Upgrade(c echo.Context) error {
	var req UpgradeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ident, err := h.service.Upgrade(c.Request().Context(), middleware.GetVisitorID(c), req.Plan)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"state":   ident.State.String(),
		"premium": ident.Premium,
		"plan":    req.Plan,
	})
}
