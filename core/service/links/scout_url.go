// Package links extracts, normalizes and classifies hyperlinks found in
// message bodies. Everything here is a pure function so the precedence rules
// stay auditable.
package links

import (
	"net/url"
	"strings"
)

// Tracking query parameters stripped during normalization.
var (
	trackingParamPrefixes = []string{"utm_", "mc_"}
	trackingParamExact    = map[string]bool{
		"fbclid": true,
		"gclid":  true,
	}
)

// NormalizeURL canonicalizes a URL: host lower-cased, tracking parameters and
// fragment stripped, empty leftover query dropped. Idempotent:
// NormalizeURL(NormalizeURL(u)) == NormalizeURL(u). Malformed input falls back
// to a conservative character strip rather than an error.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fallbackNormalize(raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = stripTrackingParams(u.RawQuery)
	}
	// url.String omits the "?" when RawQuery is empty, dropping an empty
	// leftover query for free.
	return u.String()
}

// stripTrackingParams filters the raw query string pair by pair, preserving
// the original parameter order (url.Values would reorder).
func stripTrackingParams(rawQuery string) string {
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key := pair
		if i := strings.Index(pair, "="); i >= 0 {
			key = pair[:i]
		}
		if isTrackingParam(key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if trackingParamExact[key] {
		return true
	}
	for _, prefix := range trackingParamPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// fallbackNormalize handles strings the URL parser rejects: strip wrapping
// punctuation and truncate at the first query or fragment marker.
func fallbackNormalize(raw string) string {
	raw = strings.Trim(raw, `<>"'()[]`)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// IsValidURL reports whether raw parses as an absolute http(s) URL with a
// plausible host. Anything else is excluded from extraction entirely.
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host != "" && strings.Contains(host, ".")
}

// DomainOf returns the lower-cased host of a URL, without port. Empty for
// unparseable input.
func DomainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
