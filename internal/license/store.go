package license

import (
	"context"
	"time"
)

// Store describes persistence for access-code records. All mutations are
// conditioned on current state so two transitions cannot interleave; the
// bind is a compare-and-set, never read-then-write.
type Store interface {
	// CreateCode persists a fresh record. Returns ErrDuplicatePayment when
	// the payment id is already covered and ErrCodeExists when the generated
	// code collides with an existing one.
	CreateCode(ctx context.Context, rec *AccessCode) error

	FindByPaymentID(ctx context.Context, paymentID string) (*AccessCode, error)

	// FindByCredentials looks up by normalized (email, code).
	FindByCredentials(ctx context.Context, email, code string) (*AccessCode, error)

	FindByID(ctx context.Context, id string) (*AccessCode, error)

	// CodeExists reports whether any record already uses the code.
	CodeExists(ctx context.Context, code string) (bool, error)

	// BindDevice sets the fingerprint, client IP and first-access timestamp
	// atomically, only if the fingerprint is currently null and the record
	// is not blocked. Returns ErrAlreadyBound when another request won the
	// race, ErrBlocked when the record is blocked, ErrNotFound otherwise.
	BindDevice(ctx context.Context, id, fingerprint, ip string, at time.Time) error

	// Block irreversibly marks the record unusable. Only the validator's
	// mismatch transition and the admin override call this.
	Block(ctx context.Context, id string) error

	// ApplyPatch mutates fields outside the normal state machine on behalf
	// of an admin and returns the updated record.
	ApplyPatch(ctx context.Context, id string, patch Patch) (*AccessCode, error)
}

// Patch is the whitelisted admin mutation set. Anything else a caller asks
// for is rejected before the store is touched.
type Patch struct {
	Blocked          *bool
	Approved         *bool
	ClearFingerprint bool
}

// IsZero reports whether the patch asks for no change at all.
func (p Patch) IsZero() bool {
	return p.Blocked == nil && p.Approved == nil && !p.ClearFingerprint
}
