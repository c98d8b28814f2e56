// Package directory resolves users for notification fan-out: supervisor
// role listings for escalations and creations, and per-user contact
// details for the email side channel.
package directory

import (
	"context"
)

// SupervisoryRoles are the roles fanned out to on escalation and case
// creation.
var SupervisoryRoles = []string{"supervisor", "manager", "admin"}

// User is a directory entry.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Lookup resolves users from the directory.
type Lookup interface {
	UserByID(ctx context.Context, id int64) (*User, error)
	UsersWithRoles(ctx context.Context, roles []string) ([]User, error)
}
