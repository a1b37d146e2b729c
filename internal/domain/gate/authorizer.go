package gate

import (
	"context"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// Subject is what an Authorizer decides on.
type Subject struct {
	User    *auth.User
	Profile *auth.Profile
	Path    string
}

// Authorizer decides whether a logged-in user may see a page.
type Authorizer interface {
	Authorize(ctx context.Context, s Subject) (bool, error)
}

// RoleSet admits users whose profile role is in the set.
type RoleSet map[auth.Role]struct{}

// NewRoleSet builds a RoleSet from role names. Empty names are ignored.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			set[auth.Role(r)] = struct{}{}
		}
	}
	return set
}

// DefaultRoles admits admin and super_admin.
func DefaultRoles() RoleSet {
	return NewRoleSet(string(auth.RoleAdmin), string(auth.RoleSuperAdmin))
}

// Authorize reports whether the subject's role is in the set.
func (rs RoleSet) Authorize(_ context.Context, s Subject) (bool, error) {
	if s.Profile == nil {
		return false, nil
	}
	_, ok := rs[s.Profile.Role]
	return ok, nil
}

var _ Authorizer = RoleSet(nil)
