package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/middleware"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/healthdash/backend/internal/session"
	"go.uber.org/zap"
)

type SessionHandler struct {
	audit AuditStore
	log   *zap.Logger
}

func NewSessionHandler(audit AuditStore, log *zap.Logger) *SessionHandler {
	return &SessionHandler{audit: audit, log: log}
}

// GetMe returns the identity snapshot carried by the session token.
func (h *SessionHandler) GetMe(c *fiber.Ctx) error {
	sess := middleware.GetSession(c)
	return c.JSON(dto.MeResponse{
		Identity:  sess.Identity,
		ExpiresAt: sess.ExpiresAt,
		Home:      rbac.HomeFor(sess.Identity.Role),
	})
}

func (h *SessionHandler) Activity(c *fiber.Ctx) error {
	sess := middleware.GetSession(c)
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := h.audit.ListByActor(c.UserContext(), sess.Identity.ID, limit, offset)
	if err != nil {
		h.log.Error("failed to list activity", zap.Int64("user_id", sess.Identity.ID), zap.Error(err))
		return internalError(c)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

// Authorize reports what the route guard would do with ?path= for the caller.
func (h *SessionHandler) Authorize(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "path is required",
			RequestID: middleware.GetRequestID(c),
		})
	}

	sess := middleware.GetSession(c)
	d := session.Authorize(sess, path)
	return c.JSON(dto.AuthorizeResponse{
		Path:          rbac.Clean(path),
		Authenticated: sess != nil,
		Allow:         d.Allow,
		RedirectTo:    d.RedirectTo,
	})
}
