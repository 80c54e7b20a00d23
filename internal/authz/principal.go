package authz

import "github.com/google/uuid"

// Principal is the authenticated actor behind a request. It is built from a
// verified token and holds no reference to the stored user row.
type Principal struct {
	UserID      uuid.UUID
	Permissions Set
}

func NewPrincipal(userID uuid.UUID, perms Set) Principal {
	return Principal{UserID: userID, Permissions: perms}
}

// Authorize reports whether the principal holds the required permission.
func Authorize(p Principal, required Permission) bool {
	return p.Permissions.Has(required)
}

// IsSelfOrAuthorized allows an actor to act on their own user record, or on
// anyone else's when they hold the required permission.
func IsSelfOrAuthorized(p Principal, target uuid.UUID, required Permission) bool {
	if p.UserID != uuid.Nil && p.UserID == target {
		return true
	}
	return Authorize(p, required)
}
