package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"keygate.org/internal/fingerprint"
	"keygate.org/internal/license"
	"keygate.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// User-visible rejection messages. The generic one covers every lookup miss
// (wrong email, wrong code, nonexistent record) so credentials cannot be
// enumerated; mismatch and blocked are deliberately explicit.
const (
	msgInvalidCredentials = "invalid credentials"
	msgDeviceMismatch     = "this access code is already in use on another device"
	msgBlocked            = "this access code has been blocked"
)

type loginRequest struct {
	Email      string `json:"email"`
	AccessCode string `json:"access_code"`

	Language       string `json:"language"`
	ColorDepth     int    `json:"color_depth"`
	Resolution     string `json:"resolution"`
	TimezoneOffset int    `json:"timezone_offset"`
	UserAgent      string `json:"user_agent"`
}

type loginResponse struct {
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	FirstBind bool       `json:"first_bind,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The browser User-Agent header is authoritative when the body omits it;
	// the remaining signals only exist client-side.
	ua := strings.TrimSpace(req.UserAgent)
	if ua == "" {
		ua = r.Header.Get("User-Agent")
	}
	fp := a.svc.Fingerprints.Derive(fingerprint.Signals{
		UserAgent:      ua,
		Language:       req.Language,
		ColorDepth:     req.ColorDepth,
		Resolution:     req.Resolution,
		TimezoneOffset: req.TimezoneOffset,
	})

	outcome, err := a.svc.Validator.Validate(r.Context(), req.Email, req.AccessCode, fp, clientIP(r))
	if err != nil {
		a.loginFailure(w, r, err)
		return
	}

	token, expiresAt, err := a.svc.Sessions.Issue(outcome.Email, outcome.Code, outcome.IsTest)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	event := "license.login"
	if outcome.FirstBind {
		event = "license.device.bind"
	}
	a.audit(r.Context(), event, map[string]any{
		"email":   outcome.Email,
		"is_test": outcome.IsTest,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: &expiresAt,
		FirstBind: outcome.FirstBind,
	})
}

func (a *API) loginFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, license.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false, Error: msgInvalidCredentials})
	case errors.Is(err, license.ErrDeviceMismatch):
		a.audit(r.Context(), "license.device.mismatch", nil)
		writeJSON(w, http.StatusForbidden, loginResponse{Success: false, Error: msgDeviceMismatch})
	case errors.Is(err, license.ErrBlocked):
		writeJSON(w, http.StatusForbidden, loginResponse{Success: false, Error: msgBlocked})
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// handleLogout exists for client symmetry. Sessions live client-side, so the
// server has nothing to revoke; the client discards its stored record.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, err := a.sessionClaims(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":       claims.Email,
		"access_code": claims.Code,
		"is_test":     claims.IsTest,
		"expires_at":  claims.ExpiresAt.Time,
	})
}

func (a *API) handleContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, _ := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"email":   claims.Email,
		"content": "unlocked",
	})
}

// --- session auth ---

type claimsKey struct{}

func claimsFromContext(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return c, ok
}

// withSession guards a route with a bearer session token. Validation is
// purely local: signature plus expiry, no store round-trip.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.sessionClaims(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) sessionClaims(r *http.Request) (*session.Claims, error) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return nil, err
	}
	claims, err := a.svc.Sessions.Validate(token)
	if err != nil {
		return nil, errors.New("invalid or expired session")
	}
	return claims, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
