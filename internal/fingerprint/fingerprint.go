package fingerprint

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Signals are the ambient client-observable values the deriver consumes.
// They arrive with the login request; none of them are verified, which makes
// the resulting fingerprint a heuristic and not a security primitive.
type Signals struct {
	UserAgent      string `json:"user_agent"`
	Language       string `json:"language"`
	ColorDepth     int    `json:"color_depth"`
	Resolution     string `json:"resolution"`
	TimezoneOffset int    `json:"timezone_offset"`
}

// Provider derives an opaque device identifier from client signals. The
// state machine only depends on this narrow interface, so a stronger signal
// source can be substituted without touching validation logic.
type Provider interface {
	Derive(s Signals) string
}

// Deriver is the default Provider: an order-dependent concatenation of the
// signals, base64-encoded. The encoding is deliberately reversible; the
// fingerprint is an equality token, not a secret.
type Deriver struct{}

// New returns the default deriver.
func New() Deriver { return Deriver{} }

// Derive is deterministic for an unchanged browser/device/timezone. Two
// different devices collide only if every signal matches.
func (Deriver) Derive(s Signals) string {
	parts := []string{
		s.UserAgent,
		s.Language,
		strconv.Itoa(s.ColorDepth),
		s.Resolution,
		strconv.Itoa(s.TimezoneOffset),
	}
	joined := strings.Join(parts, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(joined))
}
