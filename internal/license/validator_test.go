package license

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func issueTestCode(t *testing.T, store Store, paymentID, email string) *AccessCode {
	t.Helper()
	issuer := NewIssuer(store, nil, nil)
	res, err := issuer.IssueFromPayment(context.Background(), approvedPayment(paymentID, email))
	if err != nil {
		t.Fatalf("issue test code: %v", err)
	}
	return res.Code
}

func TestFirstLoginBindsDevice(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	out, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, "F1", "203.0.113.7")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !out.FirstBind {
		t.Fatal("expected first-bind outcome")
	}

	stored, err := store.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.State() != StateBound {
		t.Fatalf("expected bound state, got %s", stored.State())
	}
	if stored.DeviceFingerprint == nil || *stored.DeviceFingerprint != "F1" {
		t.Fatalf("fingerprint not persisted: %v", stored.DeviceFingerprint)
	}
	if stored.IPAddress == nil || *stored.IPAddress != "203.0.113.7" {
		t.Fatalf("ip not persisted: %v", stored.IPAddress)
	}
	if stored.FirstAccessAt == nil {
		t.Fatal("first access timestamp not set")
	}
}

func TestRepeatLoginFromSameDeviceSucceeds(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	if _, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, "F1", ""); err != nil {
		t.Fatalf("first login: %v", err)
	}
	out, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, "F1", "")
	if err != nil {
		t.Fatalf("repeat login: %v", err)
	}
	if out.FirstBind {
		t.Fatal("repeat login must not report first bind")
	}
}

func TestCredentialsAreNormalized(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	messy := "  " + strings.ToLower(rec.Code) + " "
	out, err := v.Validate(context.Background(), " BUYER@Example.COM ", messy, "F1", "")
	if err != nil {
		t.Fatalf("Validate with messy formatting: %v", err)
	}
	if out.Email != "buyer@example.com" {
		t.Fatalf("unexpected normalized email: %q", out.Email)
	}
}

func TestUnknownCredentialsRejectedGenerically(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	// Wrong code, wrong email, or both: always the same error.
	cases := [][2]string{
		{"buyer@example.com", "WRONGCODE"},
		{"other@example.com", rec.Code},
		{"other@example.com", "WRONGCODE"},
	}
	for _, c := range cases {
		if _, err := v.Validate(context.Background(), c[0], c[1], "F1", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Validate(%q,%q): expected ErrInvalidCredentials, got %v", c[0], c[1], err)
		}
	}
}

func TestDeviceMismatchBlocksPermanently(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	if _, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, "F1", ""); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Different fingerprint: mismatch is reported explicitly, once.
	if _, err := v.Validate(context.Background(), "BUYER@example.com", rec.Code, "F2", ""); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}

	stored, err := store.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.State() != StateBlocked {
		t.Fatalf("expected blocked state, got %s", stored.State())
	}

	// All further attempts fail with the blocked message, including the
	// original device.
	for _, fp := range []string{"F1", "F2", "F3"} {
		if _, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, fp, ""); !errors.Is(err, ErrBlocked) {
			t.Fatalf("fingerprint %s: expected ErrBlocked, got %v", fp, err)
		}
	}
}

func TestConcurrentFirstBindHasExactlyOneWinner(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	v := NewValidator(store, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	fingerprints := []string{"F1", "F2"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = v.Validate(context.Background(), "buyer@example.com", rec.Code, fingerprints[idx], "")
		}(i)
	}
	wg.Wait()

	var wins, mismatches int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDeviceMismatch), errors.Is(err, ErrBlocked):
			mismatches++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || mismatches != 1 {
		t.Fatalf("expected one winner and one loser, got wins=%d losers=%d", wins, mismatches)
	}

	stored, err := store.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.State() == StateUnbound {
		t.Fatal("record must never be left unbound after the race")
	}
	if stored.DeviceFingerprint == nil {
		t.Fatal("exactly one fingerprint must be bound")
	}
}

func TestBypassCredentialsSkipPersistence(t *testing.T) {
	store := NewInMemory()
	v := NewValidator(store, nil, WithTestLogins(true, map[string]string{
		"demo@example.com": "TESTCODE",
	}))

	out, err := v.Validate(context.Background(), "Demo@Example.com", "testcode", "F1", "")
	if err != nil {
		t.Fatalf("bypass login: %v", err)
	}
	if !out.IsTest {
		t.Fatal("expected test outcome")
	}

	// Nothing was bound or created.
	if _, err := store.FindByCredentials(context.Background(), "demo@example.com", "TESTCODE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bypass must not touch the store, got %v", err)
	}
}

func TestBypassDisabledOutsideTestEnvironment(t *testing.T) {
	store := NewInMemory()
	v := NewValidator(store, nil, WithTestLogins(false, map[string]string{
		"demo@example.com": "TESTCODE",
	}))

	if _, err := v.Validate(context.Background(), "demo@example.com", "TESTCODE", "F1", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected generic rejection, got %v", err)
	}
}

func TestBlockedRecordIgnoresBindAttempts(t *testing.T) {
	store := NewInMemory()
	rec := issueTestCode(t, store, "pay_001", "buyer@example.com")
	if err := store.Block(context.Background(), rec.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	v := NewValidator(store, nil)

	if _, err := v.Validate(context.Background(), "buyer@example.com", rec.Code, "F1", ""); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}
