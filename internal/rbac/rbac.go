// Package rbac resolves per-document permission tiers.
package rbac

type Role string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
)

// rank orders the tiers: viewer < commenter < editor. Unknown roles
// rank below viewer so a malformed grant never widens access.
func rank(role Role) int {
	switch role {
	case RoleEditor:
		return 3
	case RoleCommenter:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r satisfies the required tier.
func (r Role) AtLeast(required Role) bool {
	return rank(r) >= rank(required)
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Grant is one explicit collaborator entry on a document.
type Grant struct {
	UserID string
	Role   Role
}

// PublicPolicy is a document-level floor role for any joining identity.
type PublicPolicy struct {
	Enabled bool
	Role    Role
}

// Access is the permission metadata of one document.
type Access struct {
	OwnerID       string
	Collaborators []Grant
	Public        PublicPolicy
}

// Resolve returns the highest tier available to userID on the document.
// The owner is always an editor. An explicit collaborator grant and an
// enabled public policy combine by taking the stronger of the two: public
// access can only grant, never revoke. An empty userID is an anonymous
// identity and can only be admitted through the public policy.
func Resolve(a Access, userID string) (Role, bool) {
	explicit := Role("")
	if userID != "" {
		if userID == a.OwnerID {
			explicit = RoleEditor
		} else {
			for _, grant := range a.Collaborators {
				if grant.UserID == userID {
					explicit = grant.Role
					break
				}
			}
		}
	}

	floor := Role("")
	if a.Public.Enabled {
		floor = a.Public.Role
	}

	if explicit == "" && floor == "" {
		return "", false
	}
	if rank(floor) > rank(explicit) {
		return floor, true
	}
	return explicit, true
}

// Permits reports whether userID holds at least the required tier.
func Permits(a Access, userID string, required Role) bool {
	role, ok := Resolve(a, userID)
	return ok && role.AtLeast(required)
}
