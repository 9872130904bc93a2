package session

import (
	"slices"

	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/rbac"
)

type View int

const (
	ViewLoading View = iota
	ViewPlaceholder
	ViewContent
)

func (v View) String() string {
	switch v {
	case ViewLoading:
		return "loading"
	case ViewPlaceholder:
		return "placeholder"
	case ViewContent:
		return "content"
	default:
		return "unknown"
	}
}

// Guard gates a protected screen. An empty Allow list admits both roles.
type Guard struct {
	Allow []string
}

func NewGuard(roles ...string) Guard {
	return Guard{Allow: roles}
}

func (g Guard) allows(role string) bool {
	if len(g.Allow) == 0 {
		return models.IsValidRole(role)
	}
	return slices.Contains(g.Allow, role)
}

// Evaluate never returns ViewContent before the controller finished checking
// the session, while a redirect is pending, or for a role the screen does not
// admit.
func (g Guard) Evaluate(snap Snapshot) View {
	switch snap.State {
	case Uninitialized, Checking:
		return ViewLoading
	case AuthenticatedOK:
	default:
		return ViewPlaceholder
	}

	if snap.Identity == nil || snap.RedirectTo != "" {
		return ViewPlaceholder
	}
	role := snap.Identity.Role
	if !g.allows(role) || !rbac.CanAccess(role, snap.Route) {
		return ViewPlaceholder
	}
	return ViewContent
}
