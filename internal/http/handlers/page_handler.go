package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/middleware"
	"github.com/healthdash/backend/internal/rbac"
)

// PageHandler renders the JSON envelope of a page that passed the route guard.
type PageHandler struct{}

func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

func (h *PageHandler) Render(c *fiber.Ctx) error {
	route := rbac.Clean(c.Path())
	resp := dto.PageResponse{Route: route, Page: pageName(route)}

	if sess := middleware.GetSession(c); sess != nil {
		id := sess.Identity
		resp.Identity = &id
	}
	if route == rbac.RouteNotFound {
		return c.Status(fiber.StatusNotFound).JSON(resp)
	}
	return c.JSON(resp)
}

func pageName(route string) string {
	switch route {
	case rbac.RouteLanding:
		return "landing"
	case rbac.RouteNotFound:
		return "not_found"
	}
	name := strings.Trim(route, "/")
	if role, ok := rbac.ScopeOf(route); ok {
		name = strings.TrimPrefix(name, role+"/")
		if name == role {
			name = "dashboard"
		}
		return role + "_" + strings.ReplaceAll(name, "/", "_")
	}
	return strings.ReplaceAll(name, "/", "_")
}
