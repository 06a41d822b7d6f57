// Package auth defines the acting user identity consumed by the time
// tracking core and the JWT tokens that carry it. The core never asks
// who a user is; it receives a resolved Actor and applies one
// capability predicate.
package auth

import (
	"github.com/google/uuid"
)

// Role is the coarse capability level of an actor.
type Role string

const (
	// RoleEmployee may only read and mutate their own entries.
	RoleEmployee Role = "EMPLOYEE"
	// RoleManager may manage all entries in the company: approve,
	// reject, lock and unlock.
	RoleManager Role = "MANAGER"
)

// Actor is the resolved identity behind a request: the user, their
// tenant and their capability level.
type Actor struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      Role
}

// CanManageAll reports whether the actor holds the manage-all
// capability used by approval and locking operations.
func (a Actor) CanManageAll() bool {
	return a.Role == RoleManager
}
