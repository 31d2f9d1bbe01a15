package license

import (
	"context"
	"errors"
	"time"

	"keygate.org/internal/events"
	"keygate.org/internal/obs"
)

// Validator decides what a login attempt does to an access-code record:
// reject, bind-and-accept, or accept. Blocking on device mismatch is the only
// mutation it performs besides the first bind.
type Validator struct {
	store  Store
	stream *events.Stream
	now    func() time.Time

	// allowTestLogins gates the hard-coded bypass credentials. Only the
	// test environment may enable it; production wiring leaves it false.
	allowTestLogins bool
	testLogins      map[string]string // email -> code
}

// ValidatorOption configures the validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source (useful for tests).
func WithValidatorClock(fn func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithTestLogins enables the bypass allow-list. Entries skip persistence and
// device binding entirely; callers must only pass enabled=true outside
// production.
func WithTestLogins(enabled bool, creds map[string]string) ValidatorOption {
	return func(v *Validator) {
		v.allowTestLogins = enabled
		v.testLogins = make(map[string]string, len(creds))
		for email, code := range creds {
			v.testLogins[NormalizeEmail(email)] = NormalizeCode(code)
		}
	}
}

// NewValidator constructs a Validator.
func NewValidator(store Store, stream *events.Stream, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:  store,
		stream: stream,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Outcome describes a successful validation.
type Outcome struct {
	Email string
	Code  string

	// FirstBind is true on the Unbound -> Bound transition.
	FirstBind bool

	// IsTest marks a bypass-credential login.
	IsTest bool
}

// Validate runs the state machine for a submitted (email, code) pair and the
// freshly derived fingerprint. Credentials are normalized before lookup. It
// returns ErrInvalidCredentials for any lookup miss, ErrBlocked for a blocked
// record and ErrDeviceMismatch exactly once, on the transition that blocks.
func (v *Validator) Validate(ctx context.Context, email, code, fp, ip string) (Outcome, error) {
	email = NormalizeEmail(email)
	code = NormalizeCode(code)
	if email == "" || code == "" {
		obs.CountLogin("rejected")
		return Outcome{}, ErrInvalidCredentials
	}

	if v.allowTestLogins {
		if want, ok := v.testLogins[email]; ok && want == code {
			obs.CountLogin("test")
			return Outcome{Email: email, Code: code, IsTest: true}, nil
		}
	}

	rec, err := v.store.FindByCredentials(ctx, email, code)
	if errors.Is(err, ErrNotFound) {
		obs.CountLogin("rejected")
		return Outcome{}, ErrInvalidCredentials
	}
	if err != nil {
		return Outcome{}, err
	}

	if rec.Blocked {
		obs.CountLogin("blocked")
		return Outcome{}, ErrBlocked
	}

	if rec.DeviceFingerprint == nil {
		err := v.store.BindDevice(ctx, rec.ID, fp, ip, v.now().UTC())
		switch {
		case err == nil:
			obs.CountLogin("bound")
			v.stream.Publish(events.Event{Type: events.TypeDeviceBound, Email: rec.Email, CodeID: rec.ID})
			return Outcome{Email: rec.Email, Code: rec.Code, FirstBind: true}, nil
		case errors.Is(err, ErrAlreadyBound):
			// Lost the first-bind race: re-read and judge against the
			// winner's fingerprint below.
			rec, err = v.store.FindByID(ctx, rec.ID)
			if err != nil {
				return Outcome{}, err
			}
			if rec.Blocked {
				obs.CountLogin("blocked")
				return Outcome{}, ErrBlocked
			}
		case errors.Is(err, ErrBlocked):
			obs.CountLogin("blocked")
			return Outcome{}, ErrBlocked
		default:
			return Outcome{}, err
		}
	}

	if rec.DeviceFingerprint != nil && *rec.DeviceFingerprint == fp {
		obs.CountLogin("rebound")
		return Outcome{Email: rec.Email, Code: rec.Code}, nil
	}

	// Different device: block permanently. No retry budget, no grace.
	if err := v.enforceBlock(ctx, rec); err != nil {
		return Outcome{}, err
	}
	obs.CountLogin("mismatch")
	return Outcome{}, ErrDeviceMismatch
}

// enforceBlock is the single place the Bound -> Blocked transition happens
// outside admin override.
func (v *Validator) enforceBlock(ctx context.Context, rec *AccessCode) error {
	if err := v.store.Block(ctx, rec.ID); err != nil {
		return err
	}
	obs.CountCodeBlocked()
	v.stream.Publish(events.Event{Type: events.TypeCodeBlocked, Email: rec.Email, CodeID: rec.ID})
	return nil
}
