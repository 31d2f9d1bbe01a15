package license

import (
	"errors"
	"strings"
	"time"
)

// AccessCode is the unit of entitlement: one confirmed payment, one code,
// at most one device.
type AccessCode struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Code              string     `json:"code"`
	PaymentID         string     `json:"payment_id"`
	Blocked           bool       `json:"blocked"`
	Approved          bool       `json:"approved"`
	DeviceFingerprint *string    `json:"device_fingerprint"`
	IPAddress         *string    `json:"ip_address"`
	FirstAccessAt     *time.Time `json:"first_access_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// State is the position of a record in the binding lifecycle.
type State string

const (
	StateUnbound State = "unbound"
	StateBound   State = "bound"
	StateBlocked State = "blocked"
)

// State derives the lifecycle position. A non-null first access timestamp is
// equivalent to "device-bound"; blocked wins over everything.
func (c *AccessCode) State() State {
	switch {
	case c.Blocked:
		return StateBlocked
	case c.FirstAccessAt != nil:
		return StateBound
	default:
		return StateUnbound
	}
}

var (
	// ErrInvalidCredentials is the only lookup failure shown to users; it
	// never discloses which half of (email, code) was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrBlocked rejects every attempt against a blocked record.
	ErrBlocked = errors.New("access code blocked, contact support")

	// ErrDeviceMismatch reports the one transition that is announced
	// explicitly, to deter credential sharing.
	ErrDeviceMismatch = errors.New("device mismatch, access code blocked")

	// ErrNotFound signals a missing record on internal lookups.
	ErrNotFound = errors.New("access code not found")

	// ErrDuplicatePayment marks a replayed payment event. Callers treat it
	// as success, not failure.
	ErrDuplicatePayment = errors.New("payment already has an access code")

	// ErrCodeExists is the store-level uniqueness violation on the code
	// column; the issuer retries generation on it.
	ErrCodeExists = errors.New("code already exists")

	// ErrAlreadyBound is the CAS failure on bind: another request set the
	// fingerprint first. The loser re-reads and is evaluated against the
	// winner's fingerprint.
	ErrAlreadyBound = errors.New("device already bound")

	// ErrCodeSpaceExhausted escalates after the bounded generation retry
	// budget is spent. Surfaced as a retryable issuance failure.
	ErrCodeSpaceExhausted = errors.New("code generation retry budget exhausted")
)

// NormalizeEmail lowercases and trims so formatting differences never cause
// false rejections.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCode uppercases and trims submitted codes before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
