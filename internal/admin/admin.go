package admin

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized rejects callers that do not resolve to an active
	// administrator. Returned before the target record is ever touched.
	ErrUnauthorized = errors.New("admin: unauthorized")

	// ErrInvalidPatch rejects updates outside the whitelisted field set.
	ErrInvalidPatch = errors.New("admin: invalid patch")

	// ErrNotFound reports a missing target record.
	ErrNotFound = errors.New("admin: target not found")
)

// Principal is an email listed as an active administrator in the trusted
// table. It authorizes override mutations; it is not a session.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusActive is the only status that authorizes overrides.
const StatusActive = "active"

// Active reports whether the principal may mutate records.
func (p Principal) Active() bool { return p.Status == StatusActive }

// Store resolves administrator principals. Resolution happens server-side
// against the trusted table; the caller-supplied email is a claim, never a
// credential by itself.
type Store interface {
	FindPrincipal(ctx context.Context, email string) (*Principal, error)
}
