package rbac

import (
	"path"
	"strings"

	"github.com/healthdash/backend/internal/models"
)

// Routes
const (
	RouteLanding   = "/"
	RouteSignin    = "/signin"
	RouteSignup    = "/signup"
	RouteNotFound  = "/not-found"
	RouteDashboard = "/dashboard"
)

// Scope describes the part of the site owned by a role.
type Scope struct {
	Prefix string
	Home   string
}

// RoleScopes defines which route prefix each role owns.
var RoleScopes = map[string]Scope{
	models.RoleDoctor: {
		Prefix: "/doctor",
		Home:   "/doctor/dashboard",
	},
	models.RolePatient: {
		Prefix: "/patient",
		Home:   "/patient/dashboard",
	},
}

var publicRoutes = map[string]bool{
	RouteLanding:  true,
	RouteSignin:   true,
	RouteSignup:   true,
	RouteNotFound: true,
}

var publicOnlyRoutes = map[string]bool{
	RouteSignin: true,
	RouteSignup: true,
}

// Clean reduces a route to its canonical form: no query or fragment, lower
// case, dot segments resolved, no trailing slash. Every route check goes
// through it, so /Doctor/ and /patient/../doctor are both /doctor.
func Clean(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	route = strings.ToLower(strings.TrimSpace(route))
	if route == "" {
		return RouteLanding
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}

// IsPublic reports whether the route can be seen without a session.
func IsPublic(route string) bool {
	return publicRoutes[Clean(route)]
}

// IsPublicOnly reports whether the route is meant for signed-out visitors only.
func IsPublicOnly(route string) bool {
	return publicOnlyRoutes[Clean(route)]
}

func IsDashboardAlias(route string) bool {
	return Clean(route) == RouteDashboard
}

// ScopeOf returns the role that owns the route, if any.
func ScopeOf(route string) (string, bool) {
	route = Clean(route)
	for role, scope := range RoleScopes {
		if route == scope.Prefix || strings.HasPrefix(route, scope.Prefix+"/") {
			return role, true
		}
	}
	return "", false
}

// HomeFor returns the dashboard a role lands on.
func HomeFor(role string) string {
	if scope, ok := RoleScopes[role]; ok {
		return scope.Home
	}
	return RouteLanding
}

// CanAccess checks if a role may open a role-scoped route.
// Unscoped routes are open to every role.
func CanAccess(role, route string) bool {
	owner, scoped := ScopeOf(route)
	if !scoped {
		return true
	}
	return owner == role
}
