package accounts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/middleware"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// sessionCookieName is the HTTP cookie used to store the session token.
const sessionCookieName = "andrea_session"

// errorResponse is the JSON body for failed auth requests. Code is one of
// the closed provider codes so the widget can branch on it; Message is the
// fixed user-facing text.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// identityResponse is the JSON body for successful auth requests.
type identityResponse struct {
	State     string `json:"state"`
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Premium   bool   `json:"premium"`
}

// Handler handles HTTP requests for registration, sign-in, and sign-out.
// Handlers are thin: they validate the request, call the provider, drive the
// identity machine, and render the response. No business logic lives here.
type Handler struct {
	provider Provider
	registry *identity.Registry
}

// NewHandler creates a new accounts handler.
func NewHandler(provider Provider, registry *identity.Registry) *Handler {
	return &Handler{provider: provider, registry: registry}
}

// Register processes a sign-up submission (POST /api/v1/auth/register).
// Client-side validation failures (bad email shape, short password, mismatch)
// are rejected here without calling the provider at all.
func (h *Handler) Register(c echo.Context) error {
	if !h.registry.Available() {
		return providerUnavailable(c)
	}

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if code, ok := validateRegisterRequest(&req); !ok {
		return c.JSON(code.HTTPStatus(), errorResponse{
			Code:    string(code),
			Message: code.Message(),
		})
	}
	if req.Confirm != req.Password {
		return apperror.NewValidation("Passwords do not match")
	}

	input := RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	}

	acct, err := h.provider.CreateAccount(c.Request().Context(), input)
	if err != nil {
		return renderProviderError(c, err)
	}

	// Auto sign-in after successful registration.
	token, _, err := h.provider.SignIn(c.Request().Context(), LoginInput(input))
	if err != nil {
		// Registration succeeded but auto sign-in failed. The account
		// exists; the widget should show the sign-in form.
		return renderProviderError(c, err)
	}

	setSessionCookie(c, token)

	// Drive the identity machine: migrate the guest count and transition.
	machine := h.registry.Machine(middleware.GetVisitorID(c))
	if err := machine.RegisterSucceeded(c.Request().Context(), acct.ID, acct.Email); err != nil {
		slog.Warn("identity transition after registration failed",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
	}

	return c.JSON(http.StatusCreated, identityFrom(machine))
}

// Login processes a sign-in submission (POST /api/v1/auth/login).
func (h *Handler) Login(c echo.Context) error {
	if !h.registry.Available() {
		return providerUnavailable(c)
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if code, ok := validateLoginRequest(&req); !ok {
		return c.JSON(code.HTTPStatus(), errorResponse{
			Code:    string(code),
			Message: code.Message(),
		})
	}

	token, acct, err := h.provider.SignIn(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return renderProviderError(c, err)
	}

	setSessionCookie(c, token)

	// Drive the identity machine: load the document and restore premium.
	machine := h.registry.Machine(middleware.GetVisitorID(c))
	if err := machine.LoginSucceeded(c.Request().Context(), acct.ID, acct.Email); err != nil {
		slog.Warn("identity transition after sign-in failed",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
	}

	return c.JSON(http.StatusOK, identityFrom(machine))
}

// Logout destroys the session and clears the cookie (POST /api/v1/auth/logout).
// Always succeeds from the client's point of view.
func (h *Handler) Logout(c echo.Context) error {
	if token := getSessionToken(c); token != "" {
		// Destroy the session in Redis. Ignore errors -- the cookie will
		// be cleared regardless.
		_ = h.provider.SignOut(c.Request().Context(), token)
	}

	clearSessionCookie(c)

	if h.registry.Available() {
		machine := h.registry.Machine(middleware.GetVisitorID(c))
		machine.SignedOut(c.Request().Context())
		return c.JSON(http.StatusOK, identityFrom(machine))
	}

	return c.JSON(http.StatusOK, identityResponse{State: identity.StateGuest.String()})
}

// Me reports the caller's current identity (GET /api/v1/auth/me).
func (h *Handler) Me(c echo.Context) error {
	if !h.registry.Available() {
		return c.JSON(http.StatusOK, identityResponse{State: identity.StateGuest.String()})
	}

	machine := h.registry.Machine(middleware.GetVisitorID(c))
	return c.JSON(http.StatusOK, identityFrom(machine))
}

// --- Response helpers ---

// identityFrom snapshots a machine's current identity into a response body.
func identityFrom(machine *identity.Machine) identityResponse {
	ident := machine.Current()
	return identityResponse{
		State:     ident.State.String(),
		AccountID: ident.AccountID,
		Email:     ident.Email,
		Premium:   ident.Premium,
	}
}

// renderProviderError maps a provider failure onto its fixed status and
// message. Anything that is not a ProviderError gets the generic fallback.
func renderProviderError(c echo.Context, err error) error {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.Internal != nil {
			slog.Error("provider failure",
				slog.String("code", string(provErr.Code)),
				slog.Any("error", provErr.Internal),
			)
		}
		return c.JSON(provErr.Code.HTTPStatus(), errorResponse{
			Code:    string(provErr.Code),
			Message: provErr.Code.Message(),
		})
	}

	slog.Error("unexpected provider failure", slog.Any("error", err))
	code := Code("unknown")
	return c.JSON(http.StatusInternalServerError, errorResponse{
		Code:    string(code),
		Message: code.Message(),
	})
}

// providerUnavailable is returned when the backing store never came up and
// the application is running in guest-only mode.
func providerUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{
		Code:    string(CodeNetworkFailure),
		Message: CodeNetworkFailure.Message(),
	})
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax.
func setSessionCookie(c echo.Context, token string) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   30 * 24 * 60 * 60, // 30 days in seconds
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// --- Validation helpers ---

// validateRegisterRequest checks a sign-up submission before it reaches the
// provider. Returns the failing code, or ok=true when the request is clean.
func validateRegisterRequest(req *RegisterRequest) (Code, bool) {
	if !emailPattern.MatchString(req.Email) {
		return CodeInvalidEmail, false
	}
	if len(req.Password) < minPasswordLen {
		return CodeWeakPassword, false
	}
	return "", true
}

// validateLoginRequest checks a sign-in submission before it reaches the
// provider.
func validateLoginRequest(req *LoginRequest) (Code, bool) {
	if !emailPattern.MatchString(req.Email) {
		return CodeInvalidEmail, false
	}
	if req.Password == "" {
		return CodeWrongPassword, false
	}
	return "", true
}
