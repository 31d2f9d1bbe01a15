package session

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// recordVersion guards against stale on-disk layouts. A version bump makes
// every previously stored record parse-fail, which discards it.
const recordVersion = 1

// ErrNoSession reports an absent or discarded local record.
var ErrNoSession = errors.New("no stored session")

// Record is the client-held proof of a successful validation. It is an
// explicit value type with validation on every read: the stored bytes are
// never trusted implicitly, and store/clear are the only mutations.
type Record struct {
	Version    int       `json:"version"`
	Email      string    `json:"email"`
	AccessCode string    `json:"accessCode"`
	Token      string    `json:"token"`
	LoginTime  time.Time `json:"loginTime"`
	ExpiresAt  time.Time `json:"expiresAt"`
	IsTestUser bool      `json:"isTestUser,omitempty"`
}

// Expired reports whether the record's window has passed.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Encode serializes the record for local persistence.
func (r Record) Encode() ([]byte, error) {
	r.Version = recordVersion
	return json.Marshal(r)
}

// ParseRecord validates stored bytes. Corrupted, mistyped, versioned-away or
// expired content is rejected; callers then discard the stored value and
// treat the client as unauthenticated.
func ParseRecord(data []byte, now time.Time) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, ErrNoSession
	}
	if r.Version != recordVersion {
		return Record{}, ErrNoSession
	}
	if strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Token) == "" {
		return Record{}, ErrNoSession
	}
	if r.Expired(now) {
		return Record{}, ErrNoSession
	}
	return r, nil
}

// FileStore persists the session record at a fixed path, standing in for the
// browser's local storage in CLI and test contexts.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore creates a store rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Load reads and validates the stored record. Any invalid content is
// removed immediately so the next read starts clean.
func (s *FileStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, ErrNoSession
	}
	rec, err := ParseRecord(data, s.now())
	if err != nil {
		_ = os.Remove(s.path)
		return Record{}, ErrNoSession
	}
	return rec, nil
}

// Save overwrites the stored record.
func (s *FileStore) Save(rec Record) error {
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Clear removes the stored record unconditionally. Logout always succeeds.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
