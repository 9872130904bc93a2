package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/auth"
	"github.com/healthdash/backend/internal/config"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/models"
	"go.uber.org/zap"
)

const CtxSession = "session"

// SessionMiddleware reads the session token from the Authorization header or
// the session cookie. A missing or invalid token leaves the request signed out.
func SessionMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenStr == "" {
			tokenStr = c.Cookies(cfg.SessionCookieName)
		}
		if tokenStr == "" {
			return c.Next()
		}

		claims, err := auth.ParseSessionToken(cfg.JWTSecret, tokenStr, time.Now())
		if err != nil {
			log.Debug("session token rejected", zap.Error(err))
			return c.Next()
		}

		sess := claims.Session()
		c.Locals(CtxSession, &sess)
		return c.Next()
	}
}

// RequireSession rejects signed out requests with 401.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetSession(c) == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:     "authentication required",
				RequestID: GetRequestID(c),
			})
		}
		return c.Next()
	}
}

func GetSession(c *fiber.Ctx) *models.Session {
	sess, _ := c.Locals(CtxSession).(*models.Session)
	return sess
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
