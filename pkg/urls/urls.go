// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// VideoHosts are the host markers a message must contain to be treated as a video link.
var VideoHosts = []string{"youtube.com", "youtu.be"}

// IsURLValid checks if the given URL is valid.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Scheme != "" && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// FixURL prepends https scheme to URL.
// Example: youtu.be/abc => https://youtu.be/abc
func FixURL(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = schemeHTTPS + "://" + raw
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != schemeHTTP && u.Scheme != schemeHTTPS {
		u.Scheme = schemeHTTPS

		return u.String()
	}

	return raw
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// IsVideoReference reports whether raw mentions one of VideoHosts.
func IsVideoReference(raw string) bool {
	lower := strings.ToLower(raw)

	for _, host := range VideoHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}

	return false
}

// FindVideoURL returns the first token of text that references a video host,
// normalized to an absolute https URL.
func FindVideoURL(text string) (string, bool) {
	for token := range strings.FieldsSeq(text) {
		if !IsVideoReference(token) {
			continue
		}

		fixed := Normalize(FixURL(strings.Trim(token, "<>()[]\"'")))
		if IsURLValid(fixed) {
			return fixed, true
		}
	}

	return "", false
}
