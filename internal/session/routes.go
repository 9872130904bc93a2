package session

import (
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/rbac"
)

// Decision is the outcome of authorizing a route: allow, or redirect.
type Decision struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func Allow() Decision { return Decision{Allow: true} }

func RedirectTo(target string) Decision { return Decision{RedirectTo: target} }

// Authorize decides whether the holder of sess may open route. A nil session
// means the visitor is signed out. Expiry is the caller's concern.
//
// Public-only and alias routes are resolved before role scopes, so a signed in
// doctor opening /signin lands on the doctor dashboard rather than not-found.
func Authorize(sess *models.Session, route string) Decision {
	route = rbac.Clean(route)

	if sess == nil {
		if rbac.IsPublic(route) {
			return Allow()
		}
		return RedirectTo(rbac.RouteSignin)
	}

	role := sess.Identity.Role
	switch {
	case rbac.IsPublicOnly(route), rbac.IsDashboardAlias(route):
		return RedirectTo(rbac.HomeFor(role))
	case !rbac.CanAccess(role, route):
		return RedirectTo(rbac.RouteNotFound)
	}
	return Allow()
}
