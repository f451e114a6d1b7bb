package chat

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/middleware"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
	"github.com/isadetaseek/andrea/internal/plugins/quota"
)

// Handler handles HTTP requests for the chat loop and quota readout.
type Handler struct {
	registry   *Registry
	identities *identity.Registry
	counter    *quota.Counter
}

// NewHandler creates a new chat handler.
func NewHandler(registry *Registry, identities *identity.Registry, counter *quota.Counter) *Handler {
	return &Handler{
		registry:   registry,
		identities: identities,
		counter:    counter,
	}
}

// SubmitTurn accepts a user message (POST /api/v1/chat/turns). Allowed turns
// come back 202 with the user entry and the new quota state; the assistant
// reply arrives over the gateway once the simulated latency elapses. Denied
// turns come back 200 with the upsell entry.
func (h *Handler) SubmitTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctl := h.registry.Controller(middleware.GetVisitorID(c))
	result, err := ctl.SubmitTurn(c.Request().Context(), req.Message)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if result.Phase == PhasePending {
		status = http.StatusAccepted
	}
	return c.JSON(status, result)
}

// Transcript returns the visitor's transcript (GET /api/v1/chat/transcript).
func (h *Handler) Transcript(c echo.Context) error {
	ctl := h.registry.Controller(middleware.GetVisitorID(c))
	entries := ctl.Transcript()
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// Clear empties the visitor's transcript (POST /api/v1/chat/clear).
func (h *Handler) Clear(c echo.Context) error {
	ctl := h.registry.Controller(middleware.GetVisitorID(c))
	ctl.Clear()
	return c.NoContent(http.StatusNoContent)
}

// Export serializes the transcript as plain text (GET /api/v1/chat/export).
func (h *Handler) Export(c echo.Context) error {
	ctl := h.registry.Controller(middleware.GetVisitorID(c))

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="conversation.txt"`)
	return c.String(http.StatusOK, ctl.Export())
}

// Quota reports the caller's current quota state (GET /api/v1/quota).
func (h *Handler) Quota(c echo.Context) error {
	visitorID := middleware.GetVisitorID(c)
	ident := h.identities.Machine(visitorID).Current()

	state, err := h.counter.Load(c.Request().Context(), visitorID, ident)
	if err != nil {
		return apperror.NewInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"quota":   state,
		"allowed": quota.CanChat(ident, state),
	})
}
