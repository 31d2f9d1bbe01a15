package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"keygate.org/internal/events"
	"keygate.org/internal/ids"
	"keygate.org/internal/notify"
	"keygate.org/internal/obs"
	"keygate.org/internal/payments"
)

// Code alphabet excludes 0/O/1/I/L to keep codes human-typable.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 8

	// Retry budget for code-generation collisions. An 8-char draw from a
	// 31-symbol alphabet collides so rarely that exhausting this budget
	// means something is wrong with the store, so we fail loudly.
	maxGenerateAttempts = 5
)

// Issuer mints exactly one access code per confirmed payment.
type Issuer struct {
	store    Store
	notifier notify.Notifier
	stream   *events.Stream
	now      func() time.Time

	// notifyTimeout bounds the fire-and-forget delivery goroutine.
	notifyTimeout time.Duration
}

// IssuerOption configures the issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithNotifyTimeout bounds the background notification attempt.
func WithNotifyTimeout(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		if d > 0 {
			i.notifyTimeout = d
		}
	}
}

// NewIssuer constructs an Issuer. A nil notifier disables email delivery and
// a nil stream disables the admin feed.
func NewIssuer(store Store, notifier notify.Notifier, stream *events.Stream, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:         store,
		notifier:      notifier,
		stream:        stream,
		now:           time.Now,
		notifyTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueResult reports what a payment event produced.
type IssueResult struct {
	Code *AccessCode

	// Replayed is true when the payment already had a code; the duplicate
	// delivery is acknowledged as success without a second issuance.
	Replayed bool

	// Skipped is true when the payment status was not approved.
	Skipped bool
}

// IssueFromPayment reacts to a confirmed payment. Safe to retry: duplicate
// deliveries of the same payment are answered with the existing record.
func (i *Issuer) IssueFromPayment(ctx context.Context, p payments.Payment) (IssueResult, error) {
	if !p.Approved() {
		return IssueResult{Skipped: true}, nil
	}
	email := NormalizeEmail(p.PayerEmail)
	if email == "" {
		return IssueResult{}, errors.New("approved payment carries no payer email")
	}
	if p.ID == "" {
		return IssueResult{}, errors.New("payment id is required")
	}

	// Replay protection before generating anything.
	if existing, err := i.store.FindByPaymentID(ctx, p.ID); err == nil {
		return IssueResult{Code: existing, Replayed: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return IssueResult{}, err
	}

	rec, err := i.createWithFreshCode(ctx, email, p.ID)
	if err != nil {
		return IssueResult{}, err
	}

	obs.CountCodeIssued()
	i.stream.Publish(events.Event{Type: events.TypeCodeIssued, Email: rec.Email, CodeID: rec.ID})
	i.notifyAsync(rec.Email, rec.Code)

	return IssueResult{Code: rec}, nil
}

func (i *Issuer) createWithFreshCode(ctx context.Context, email, paymentID string) (*AccessCode, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		if taken, err := i.store.CodeExists(ctx, code); err != nil {
			return nil, err
		} else if taken {
			continue
		}

		rec := &AccessCode{
			ID:        ids.New(),
			Email:     email,
			Code:      code,
			PaymentID: paymentID,
			CreatedAt: i.now().UTC(),
		}
		err = i.store.CreateCode(ctx, rec)
		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, ErrCodeExists):
			// Lost a race on the code column; draw again.
			continue
		case errors.Is(err, ErrDuplicatePayment):
			// Concurrent delivery of the same event; defer to the winner.
			existing, findErr := i.store.FindByPaymentID(ctx, paymentID)
			if findErr != nil {
				return nil, findErr
			}
			return existing, nil
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxGenerateAttempts)
}

// notifyAsync hands the code to the mailer without blocking or failing the
// issuance. A delivery error is logged and dropped.
func (i *Issuer) notifyAsync(email, code string) {
	if i.notifier == nil {
		return
	}
	timeout := i.notifyTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := i.notifier.SendAccessCode(ctx, email, code); err != nil {
			obs.LogError("access code email delivery failed", map[string]any{
				"email": email,
				"error": err.Error(),
			})
		}
	}()
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
