package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/auth"
	"github.com/healthdash/backend/internal/config"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/middleware"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/services"
	"go.uber.org/zap"
)

// Authenticator is implemented by services.AuthService.
type Authenticator interface {
	Signup(ctx context.Context, in services.SignupInput) (*models.Identity, error)
	Signin(ctx context.Context, in services.SigninInput) (*models.Identity, error)
	SigninWithWallet(ctx context.Context, address string) (*models.Identity, error)
}

// AuditStore is implemented by repositories.AuditRepo.
type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListByActor(ctx context.Context, userID int64, limit, offset int) ([]models.AuditLog, error)
}

type AuthHandler struct {
	auth    Authenticator
	audit   AuditStore
	metrics *metrics.Collector
	cfg     *config.Config
	log     *zap.Logger
	now     func() time.Time
}

func NewAuthHandler(a Authenticator, audit AuditStore, m *metrics.Collector, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: a, audit: audit, metrics: m, cfg: cfg, log: log, now: time.Now}
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var in services.SignupInput
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}

	start := time.Now()
	identity, err := h.auth.Signup(c.UserContext(), in)
	h.metrics.RecordAuth("signup", outcome(err), time.Since(start))
	if err != nil {
		return h.authError(c, err)
	}

	h.record(c, identity.ID, models.AuditActionSignup, map[string]any{"role": identity.Role})
	return h.issue(c, fiber.StatusCreated, *identity)
}

func (h *AuthHandler) Signin(c *fiber.Ctx) error {
	var in services.SigninInput
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}

	start := time.Now()
	identity, err := h.auth.Signin(c.UserContext(), in)
	h.metrics.RecordAuth("password", outcome(err), time.Since(start))
	if err != nil {
		if services.IsCredentialError(err) {
			h.record(c, 0, models.AuditActionSigninFailed, map[string]any{"reason": outcome(err)})
		}
		return h.authError(c, err)
	}

	h.record(c, identity.ID, models.AuditActionSignin, nil)
	return h.issue(c, fiber.StatusOK, *identity)
}

func (h *AuthHandler) SigninWithWallet(c *fiber.Ctx) error {
	var req dto.WalletSigninRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	start := time.Now()
	identity, err := h.auth.SigninWithWallet(c.UserContext(), req.Address)
	h.metrics.RecordAuth("wallet", outcome(err), time.Since(start))
	if err != nil {
		if services.IsCredentialError(err) {
			h.record(c, 0, models.AuditActionWalletSigninErr, map[string]any{"reason": outcome(err)})
		}
		return h.authError(c, err)
	}

	h.record(c, identity.ID, models.AuditActionWalletSignin, nil)
	return h.issue(c, fiber.StatusOK, *identity)
}

// Logout drops the session cookie. The token itself stays valid until it
// expires; nothing is kept server side.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AuthHandler) issue(c *fiber.Ctx, status int, identity models.Identity) error {
	now := h.now()
	sess := models.NewSession(identity, now, h.cfg.SessionTTL)

	token, err := auth.GenerateSessionToken(h.cfg.JWTSecret, sess, now)
	if err != nil {
		h.log.Error("failed to sign session token", zap.Error(err))
		return internalError(c)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.Status(status).JSON(dto.AuthResponse{
		Token:     token,
		Identity:  sess.Identity,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *AuthHandler) authError(c *fiber.Ctx, err error) error {
	reqID := middleware.GetRequestID(c)

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "validation failed",
			Details:   verr.Fields,
			RequestID: reqID,
		})
	case errors.Is(err, services.ErrPendingVerification):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrNoAccountForWallet):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, services.ErrEmailAlreadyExists), errors.Is(err, services.ErrWalletAlreadyLinked):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	}

	h.log.Error("auth request failed", zap.String("request_id", reqID), zap.Error(err))
	return internalError(c)
}

func (h *AuthHandler) record(c *fiber.Ctx, userID int64, action string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["ip"] = c.IP()

	entry := models.AuditLog{
		ActorType:  "anonymous",
		Action:     action,
		EntityType: "user",
		Meta:       meta,
	}
	if userID != 0 {
		entry.ActorUserID = &userID
		entry.EntityID = &userID
		entry.ActorType = "user"
	}

	if err := h.audit.Log(c.UserContext(), entry); err != nil {
		h.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func outcome(err error) string {
	var verr *services.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid_input"
	case errors.Is(err, services.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, services.ErrPendingVerification):
		return "pending_verification"
	case errors.Is(err, services.ErrNoAccountForWallet):
		return "no_account"
	case errors.Is(err, services.ErrEmailAlreadyExists), errors.Is(err, services.ErrWalletAlreadyLinked):
		return "conflict"
	default:
		return "error"
	}
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     "invalid request body",
		RequestID: middleware.GetRequestID(c),
	})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error:     "internal server error",
		RequestID: middleware.GetRequestID(c),
	})
}
