package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"keygate.org/internal/license"
	"keygate.org/internal/payments"
)

type approvalNotifier struct {
	approvals chan string
}

func newApprovalNotifier() *approvalNotifier {
	return &approvalNotifier{approvals: make(chan string, 4)}
}

func (n *approvalNotifier) SendAccessCode(ctx context.Context, email, code string) error { return nil }

func (n *approvalNotifier) SendApproval(ctx context.Context, email string) error {
	n.approvals <- email
	return nil
}

func boolPtr(b bool) *bool { return &b }

func setup(t *testing.T) (*Service, license.Store, *license.AccessCode, *approvalNotifier) {
	t.Helper()
	codes := license.NewInMemory()
	issuer := license.NewIssuer(codes, nil, nil)
	res, err := issuer.IssueFromPayment(context.Background(), payments.Payment{
		ID: "pay_001", Status: payments.StatusApproved, PayerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("issue fixture code: %v", err)
	}
	notifier := newApprovalNotifier()
	admins := NewInMemory(
		Principal{ID: "adm_1", Email: "Support@Example.com", Status: StatusActive},
		Principal{ID: "adm_2", Email: "former@example.com", Status: "disabled"},
	)
	return NewService(admins, codes, notifier, nil), codes, res.Code, notifier
}

func TestOverrideRequiresActivePrincipal(t *testing.T) {
	svc, _, rec, _ := setup(t)

	cases := []string{"", "nobody@example.com", "former@example.com"}
	for _, caller := range cases {
		_, err := svc.Override(context.Background(), caller, rec.ID, Updates{Blocked: boolPtr(false)})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("caller %q: expected ErrUnauthorized, got %v", caller, err)
		}
	}
}

func TestOverrideUnblocksAndClearsBinding(t *testing.T) {
	svc, codes, rec, _ := setup(t)

	// Bind and block the record through the normal machinery first.
	v := license.NewValidator(codes, nil)
	if _, err := v.Validate(context.Background(), rec.Email, rec.Code, "F1", ""); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := v.Validate(context.Background(), rec.Email, rec.Code, "F2", ""); !errors.Is(err, license.ErrDeviceMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	updated, err := svc.Override(context.Background(), "support@example.com", rec.ID, Updates{Blocked: boolPtr(false)})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if updated.State() != license.StateUnbound {
		t.Fatalf("expected unbound after support unblock, got %s", updated.State())
	}
	if updated.DeviceFingerprint != nil {
		t.Fatal("expected fingerprint cleared")
	}

	// The buyer can now re-bind from their own device.
	if _, err := v.Validate(context.Background(), rec.Email, rec.Code, "F1", ""); err != nil {
		t.Fatalf("re-bind after unblock: %v", err)
	}
}

func TestOverrideBlocksManually(t *testing.T) {
	svc, codes, rec, _ := setup(t)

	updated, err := svc.Override(context.Background(), "support@example.com", rec.ID, Updates{Blocked: boolPtr(true)})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if updated.State() != license.StateBlocked {
		t.Fatalf("expected blocked, got %s", updated.State())
	}

	v := license.NewValidator(codes, nil)
	if _, err := v.Validate(context.Background(), rec.Email, rec.Code, "F1", ""); !errors.Is(err, license.ErrBlocked) {
		t.Fatalf("expected ErrBlocked after manual block, got %v", err)
	}
}

func TestOverrideApprovalNotifiesExactlyOnce(t *testing.T) {
	svc, _, rec, notifier := setup(t)

	if _, err := svc.Override(context.Background(), "support@example.com", rec.ID, Updates{Approved: boolPtr(true)}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	select {
	case email := <-notifier.approvals:
		if email != "buyer@example.com" {
			t.Fatalf("approval sent to %q", email)
		}
	case <-time.After(time.Second):
		t.Fatal("approval notification never sent")
	}

	// Re-applying the same patch is not an approval transition.
	if _, err := svc.Override(context.Background(), "support@example.com", rec.ID, Updates{Approved: boolPtr(true)}); err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	select {
	case <-notifier.approvals:
		t.Fatal("approval notified twice for the same transition")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOverrideRejectsEmptyPatch(t *testing.T) {
	svc, _, rec, _ := setup(t)
	if _, err := svc.Override(context.Background(), "support@example.com", rec.ID, Updates{}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
}

func TestOverrideUnknownTarget(t *testing.T) {
	svc, _, _, _ := setup(t)
	if _, err := svc.Override(context.Background(), "support@example.com", "missing", Updates{Blocked: boolPtr(true)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
