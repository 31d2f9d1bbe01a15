package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keygate.org/internal/events"
	"keygate.org/internal/license"
	"keygate.org/internal/notify"
	"keygate.org/internal/obs"
)

// Service applies override mutations to access-code records on behalf of a
// resolved administrator.
type Service struct {
	admins   Store
	codes    license.Store
	notifier notify.Notifier
	stream   *events.Stream

	notifyTimeout time.Duration
}

// NewService constructs the override service.
func NewService(admins Store, codes license.Store, notifier notify.Notifier, stream *events.Stream) *Service {
	return &Service{
		admins:        admins,
		codes:         codes,
		notifier:      notifier,
		stream:        stream,
		notifyTimeout: 15 * time.Second,
	}
}

// Updates is the inbound field patch. Every field is optional; unknown
// fields are rejected during decoding, before any store access.
type Updates struct {
	Blocked          *bool `json:"blocked"`
	Approved         *bool `json:"approved"`
	ClearFingerprint bool  `json:"clear_device_fingerprint"`
}

// Override authorizes the caller and applies the patch. The principal check
// is mandatory and happens before the target record is read; a missing or
// inactive principal never learns whether the target exists.
func (s *Service) Override(ctx context.Context, callerEmail, targetID string, updates Updates) (*license.AccessCode, error) {
	principal, err := s.Authorize(ctx, callerEmail)
	if err != nil {
		return nil, err
	}

	patch := license.Patch{
		Blocked:          updates.Blocked,
		Approved:         updates.Approved,
		ClearFingerprint: updates.ClearFingerprint,
	}
	if patch.IsZero() {
		return nil, fmt.Errorf("%w: no recognized fields", ErrInvalidPatch)
	}

	before, err := s.codes.FindByID(ctx, targetID)
	if errors.Is(err, license.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Unblocking for support remediation also clears the binding so the
	// legitimate buyer can re-bind from their device.
	if patch.Blocked != nil && !*patch.Blocked && before.Blocked {
		patch.ClearFingerprint = true
	}

	after, err := s.codes.ApplyPatch(ctx, targetID, patch)
	if errors.Is(err, license.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.stream.Publish(events.Event{Type: events.TypeAdminOverride, Email: after.Email, CodeID: after.ID})

	// The approval transition notifies exactly once: only on the edge, never
	// on a repeated patch that leaves approved unchanged.
	if !before.Approved && after.Approved {
		s.notifyApprovalAsync(after.Email, principal.Email)
	}

	return after, nil
}

// Authorize resolves the caller against the trusted admin table.
func (s *Service) Authorize(ctx context.Context, callerEmail string) (*Principal, error) {
	email := license.NormalizeEmail(callerEmail)
	if email == "" {
		return nil, ErrUnauthorized
	}
	principal, err := s.admins.FindPrincipal(ctx, email)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !principal.Active() {
		return nil, ErrUnauthorized
	}
	return principal, nil
}

func (s *Service) notifyApprovalAsync(email, actor string) {
	if s.notifier == nil {
		return
	}
	timeout := s.notifyTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.notifier.SendApproval(ctx, email); err != nil {
			obs.LogError("approval email delivery failed", map[string]any{
				"email": email,
				"actor": actor,
				"error": err.Error(),
			})
		}
	}()
}

// InMemory implements Store for tests and local development.
type InMemory struct {
	principals map[string]*Principal
}

var _ Store = (*InMemory)(nil)

// NewInMemory builds a store from fixed principals.
func NewInMemory(principals ...Principal) *InMemory {
	s := &InMemory{principals: make(map[string]*Principal, len(principals))}
	for i := range principals {
		p := principals[i]
		p.Email = license.NormalizeEmail(p.Email)
		s.principals[p.Email] = &p
	}
	return s
}

func (s *InMemory) FindPrincipal(ctx context.Context, email string) (*Principal, error) {
	p, ok := s.principals[license.NormalizeEmail(email)]
	if !ok {
		return nil, ErrUnauthorized
	}
	cp := *p
	return &cp, nil
}
