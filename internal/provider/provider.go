// Package provider holds the adapters that pull a user's follow list
// out of each external streaming platform and normalize it into the
// canonical [streamers.Streamer] shape.
package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

var (
	// ErrUnavailable means the upstream answered a primary call with a
	// non-success status, or didn't answer at all.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrMisconfigured means the adapter was invoked without the
	// credentials it needs.
	ErrMisconfigured = errors.New("provider misconfigured")
)

// Provider is the capability every platform adapter implements. Adding
// a platform means adding a variant here, not touching the aggregator.
//
// Adapters do a single attempt per call: no retries, no backoff.
type Provider interface {
	Platform() streamers.Platform
	FetchFollowing(ctx context.Context, accessToken string) ([]streamers.Streamer, error)
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes markup from a display name and caps the length before it
// gets persisted.
func sanitizeName(s string) string {
	s = strings.TrimSpace(stripPolicy.Sanitize(s))
	if len(s) > 256 {
		s = s[:256]
	}

	return s
}

// firstString walks the candidate keys in order and returns the first
// value that resolves to a non-empty string. Numeric ids are rendered
// in decimal. Returns "" when every candidate misses.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}

	return ""
}
