// Package filename turns arbitrary media titles into names safe for filesystems and chat clients.
package filename

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// Fallback is returned when nothing usable is left of the title.
	Fallback = "youtube_audio"
	// MaxLen is the longest name Sanitize returns, ellipsis included.
	MaxLen = 100

	ellipsis = "..."
)

var (
	reForbidden = regexp.MustCompile(`[<>:"/\\|?*]`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

// Sanitize strips characters forbidden in filenames, collapses whitespace and
// caps the length. Length is counted in runes so multi-byte titles are never cut mid-character.
func Sanitize(title string) string {
	if title == "" {
		return Fallback
	}

	cleaned := reForbidden.ReplaceAllString(title, "")
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}

		return r
	}, cleaned)
	cleaned = strings.TrimSpace(reSpaces.ReplaceAllString(cleaned, " "))

	if runes := []rune(cleaned); len(runes) > MaxLen {
		cleaned = string(runes[:MaxLen-len(ellipsis)]) + ellipsis
	}

	if cleaned == "" {
		return Fallback
	}

	return cleaned
}

// WithExt sanitizes title and appends ext.
func WithExt(title, ext string) string {
	return Sanitize(title) + "." + strings.TrimPrefix(ext, ".")
}
