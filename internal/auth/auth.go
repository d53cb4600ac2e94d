// Package auth defines who is calling and what they may do to a report.
package auth

import (
	"context"

	"github.com/patrickwarner/civicreport/internal/models"
)

// Role distinguishes citizens filing reports from staff handling them.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a claim value to a Role. Unknown values fall back to citizen.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleCitizen
}

// Principal is the authenticated actor behind a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether p carries the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Anonymous is used when authentication is disabled. It acts as an admin so
// that every operation stays reachable in local setups.
var Anonymous = Principal{ID: "anonymous", Role: RoleAdmin}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Action names an operation subject to authorization.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionUpdate  Action = "update"
	ActionResolve Action = "resolve"
	ActionDelete  Action = "delete"
	ActionNearby  Action = "nearby"
	ActionStats   Action = "stats"
	ActionUpload  Action = "upload"
)

var (
	// ErrUnauthenticated means no principal is attached to the request.
	ErrUnauthenticated = models.ErrUnauthorized
	// ErrDenied means the principal is known but may not perform the action.
	ErrDenied = models.ErrForbidden
)

// Policy decides whether a principal may perform action on a resource owned
// by ownerID. ownerID is empty for actions that are not tied to one owner.
type Policy interface {
	Authorize(p Principal, action Action, ownerID string) error
}

// OwnerOrAdmin lets citizens act on their own reports and read single
// reports or search nearby; admins may do anything.
type OwnerOrAdmin struct{}

func (OwnerOrAdmin) Authorize(p Principal, action Action, ownerID string) error {
	// public lookups need no identity
	if action == ActionRead || action == ActionNearby {
		return nil
	}
	if p.ID == "" {
		return ErrUnauthenticated
	}
	if p.IsAdmin() {
		return nil
	}
	switch action {
	case ActionUpload:
		return nil
	case ActionCreate, ActionList, ActionUpdate, ActionResolve, ActionDelete, ActionStats:
		if ownerID == p.ID {
			return nil
		}
		return ErrDenied
	}
	return ErrDenied
}
