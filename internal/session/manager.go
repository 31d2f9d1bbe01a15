package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "keygate"

// DefaultTTL is the fixed session window from issuance.
const DefaultTTL = 30 * 24 * time.Hour

// ErrInvalidToken indicates the token failed parsing or validation. Expired,
// tampered and malformed tokens are indistinguishable to callers: all of
// them mean "treat as unauthenticated and discard".
var ErrInvalidToken = errors.New("invalid session token")

// Claims are embedded in every session token. The token is self-contained:
// protected-route checks parse it locally and never consult the server store,
// which is why blocking a code only prevents future logins (a deliberate
// trust boundary, not an oversight).
type Claims struct {
	Email  string `json:"email"`
	Code   string `json:"code"`
	IsTest bool   `json:"is_test,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and validates session tokens with an HS256 secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the session window.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. The secret must not be empty.
func NewManager(secret string, opts ...ManagerOption) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	m := &Manager{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a token for a successful validation outcome.
func (m *Manager) Issue(email, code string, isTest bool) (string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", time.Time{}, errors.New("email is required")
	}
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		Email:  email,
		Code:   code,
		IsTest: isTest,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies the signature and expiry. No network, no store lookup.
func (m *Manager) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
