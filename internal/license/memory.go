package license

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by the
// test suite and by local development without Postgres.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[string]*AccessCode
	byPayment map[string]string // payment_id -> record id
	byCode    map[string]string // code -> record id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[string]*AccessCode),
		byPayment: make(map[string]string),
		byCode:    make(map[string]string),
	}
}

func (s *InMemory) CreateCode(ctx context.Context, rec *AccessCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPayment[rec.PaymentID]; ok {
		return ErrDuplicatePayment
	}
	if _, ok := s.byCode[rec.Code]; ok {
		return ErrCodeExists
	}

	now := time.Now().UTC()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.byID[cp.ID] = &cp
	s.byPayment[cp.PaymentID] = cp.ID
	s.byCode[cp.Code] = cp.ID
	*rec = cp
	return nil
}

func (s *InMemory) FindByPaymentID(ctx context.Context, paymentID string) (*AccessCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPayment[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOf(s.byID[id]), nil
}

func (s *InMemory) FindByCredentials(ctx context.Context, email, code string) (*AccessCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.byID[id]
	if rec.Email != email {
		return nil, ErrNotFound
	}
	return copyOf(rec), nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*AccessCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOf(rec), nil
}

func (s *InMemory) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCode[code]
	return ok, nil
}

func (s *InMemory) BindDevice(ctx context.Context, id, fingerprint, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Blocked {
		return ErrBlocked
	}
	// CAS: the first writer wins, everyone else observes the bound state.
	if rec.DeviceFingerprint != nil {
		return ErrAlreadyBound
	}
	fp := fingerprint
	rec.DeviceFingerprint = &fp
	if ip != "" {
		addr := ip
		rec.IPAddress = &addr
	}
	ts := at.UTC()
	rec.FirstAccessAt = &ts
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) Block(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Blocked = true
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) ApplyPatch(ctx context.Context, id string, patch Patch) (*AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Blocked != nil {
		rec.Blocked = *patch.Blocked
	}
	if patch.Approved != nil {
		rec.Approved = *patch.Approved
	}
	if patch.ClearFingerprint {
		rec.DeviceFingerprint = nil
		rec.IPAddress = nil
		rec.FirstAccessAt = nil
	}
	rec.UpdatedAt = time.Now().UTC()
	return copyOf(rec), nil
}

func copyOf(rec *AccessCode) *AccessCode {
	cp := *rec
	if rec.DeviceFingerprint != nil {
		v := *rec.DeviceFingerprint
		cp.DeviceFingerprint = &v
	}
	if rec.IPAddress != nil {
		v := *rec.IPAddress
		cp.IPAddress = &v
	}
	if rec.FirstAccessAt != nil {
		v := *rec.FirstAccessAt
		cp.FirstAccessAt = &v
	}
	return &cp
}
