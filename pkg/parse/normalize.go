package parse

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// canonicalFlags keeps the transformation semantics-preserving: case of scheme/host,
// default ports, escapes, dot segments, duplicate slashes and fragments
const canonicalFlags = purell.FlagsSafe |
	purell.FlagRemoveFragment |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes

// NormalizeURL returns the canonical string form of u used as an Entry key
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	return purell.NormalizeURL(&cp, canonicalFlags)
}

// CanonicalLocation normalizes a raw <loc> value, falling back to the trimmed input when it cannot be parsed
func CanonicalLocation(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	normalized, err := purell.NormalizeURLString(trimmed, canonicalFlags)
	if err != nil {
		return trimmed
	}
	return normalized
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}
