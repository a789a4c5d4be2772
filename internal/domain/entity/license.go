package entity

import (
	"strings"
	"time"
)

// LicenseInfo is the server-issued expiry gating playback. Some backend
// responses carry the expiry camelCase, others snake_case; Expiry resolves
// the precedence in one place.
type LicenseInfo struct {
	ExpiresAt    string `json:"expiresAt"`
	ExpiresAtAlt string `json:"expires_at"`
	IsActive     *bool  `json:"isActive,omitempty"`
}

// Expiry returns the raw expiry string, preferring the camelCase field.
func (l *LicenseInfo) Expiry() string {
	if l == nil {
		return ""
	}
	if l.ExpiresAt != "" {
		return l.ExpiresAt
	}

	return l.ExpiresAtAlt
}

// expiryLayouts are tried in order; the first that parses wins. Callers
// must not depend on which layout matched.
var expiryLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry parses a raw license expiry string. It is a pure function:
// the same input always yields the same instant or the same failure.
// Empty, "null" and unparseable strings report ok=false.
func ParseExpiry(raw string) (time.Time, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, `"`, ""))
	if cleaned == "" || cleaned == "null" {
		return time.Time{}, false
	}

	for _, layout := range expiryLayouts {
		loc := time.Local
		if strings.Contains(layout, "Z") {
			loc = time.UTC
		}
		if t, err := time.ParseInLocation(layout, cleaned, loc); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// Expired reports whether a raw expiry string lies in the past.
// A missing or unparseable expiry fails open: an unreachable license
// field must not brick a device that was already playing.
func Expired(raw string, now time.Time) bool {
	expiry, ok := ParseExpiry(raw)
	if !ok {
		return false
	}

	return now.After(expiry)
}
