// Package extract adapts the yt-dlp engine to the orchestrator.
//
// Every engine failure leaves this package as an *UpstreamError whose Kind was
// decided once, here, from the engine's output. Callers branch on the kind with
// errors.Is against the sentinels in internal/errs and never look at raw text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/format"
	"tunegrab/internal/subtitle"
)

// Client is what the orchestrator needs from an extraction engine.
type Client interface {
	// Probe fetches metadata without downloading media.
	Probe(ctx context.Context, url string) (*entity.VideoMetadata, error)
	// Fetch downloads the stream chosen by spec to destTemplate; the engine fills in the extension.
	Fetch(ctx context.Context, url string, spec format.Specifier, destTemplate string) error
	// FetchSubtitles writes the tracks named by plan as SRT files next to destTemplate.
	FetchSubtitles(ctx context.Context, url string, plan subtitle.Plan, destTemplate string) error
}

// Kind classifies an engine failure.
type Kind string

const (
	// KindTransient covers network hiccups, parse failures and anything unrecognised.
	KindTransient Kind = "transient"
	// KindBlocked means sign-in, bot or age verification was demanded.
	KindBlocked Kind = "blocked"
	// KindRateLimited means the platform throttled us.
	KindRateLimited Kind = "rate_limited"
	// KindUnavailable means the video is private, removed or otherwise gone.
	KindUnavailable Kind = "unavailable"
)

func (k Kind) sentinel() error {
	switch k {
	case KindBlocked:
		return errs.ErrUpstreamBlocked
	case KindRateLimited:
		return errs.ErrRateLimited
	case KindUnavailable:
		return errs.ErrUnavailable
	default:
		return errs.ErrTransient
	}
}

// UpstreamError is the tagged failure returned by every Client method.
type UpstreamError struct {
	Kind Kind
	// Op is the engine operation: probe, fetch or subtitles.
	Op string
	// Message is the engine's own one-line explanation, suitable for a short user-facing prefix.
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying error.
func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}

	return []error{e.Kind.sentinel(), e.Err}
}

var markers = []struct {
	kind    Kind
	needles []string
}{
	{
		kind: KindBlocked,
		needles: []string{
			"sign in to confirm",
			"not a bot",
			"confirm your age",
			"use --cookies",
			"--cookies-from-browser",
			"login required",
			"http error 403",
		},
	},
	{
		kind: KindRateLimited,
		needles: []string{
			"http error 429",
			"too many requests",
			"rate limit",
			"rate-limit",
		},
	},
	{
		kind: KindUnavailable,
		needles: []string{
			"video unavailable",
			"private video",
			"has been removed",
			"this video is not available",
		},
	},
}

// Classify maps engine output to a Kind. Only the "ERROR:" lines are matched
// when there are any, since warnings (stale cookies, throttling notices) show up
// on runs that fail for unrelated reasons. Matching is case-insensitive;
// blocked markers are checked before rate limit markers.
func Classify(text string) Kind {
	lower := strings.ToLower(errorLines(text))

	for _, m := range markers {
		for _, needle := range m.needles {
			if strings.Contains(lower, needle) {
				return m.kind
			}
		}
	}

	return KindTransient
}

// errorLines returns the "ERROR:" lines of text, or text itself when it has none.
func errorLines(text string) string {
	var b strings.Builder

	for line := range strings.Lines(text) {
		if strings.Contains(line, "ERROR:") {
			b.WriteString(line)
		}
	}

	if b.Len() == 0 {
		return text
	}

	return b.String()
}

// newUpstreamError classifies a failed engine run. Context cancellation is passed
// through untouched so callers can tell shutdown from upstream failures.
func newUpstreamError(ctx context.Context, op string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	text := stderr
	if err != nil {
		text = err.Error() + "\n" + stderr
	}

	return &UpstreamError{
		Kind:    Classify(text),
		Op:      op,
		Message: engineMessage(err, stderr),
		Err:     err,
	}
}

// engineMessage extracts the last "ERROR:" line of stderr without its prefixes.
func engineMessage(err error, stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])

		_, msg, ok := strings.Cut(line, "ERROR:")
		if !ok {
			continue
		}

		msg = strings.TrimSpace(msg)
		// "[youtube] dQw4w9WgXcQ: Sign in to confirm..." -> "Sign in to confirm..."
		if strings.HasPrefix(msg, "[") {
			if _, rest, found := strings.Cut(msg, ": "); found {
				msg = rest
			}
		}

		return msg
	}

	if err != nil {
		return err.Error()
	}

	return "unknown engine failure"
}

// IsKind reports whether err is an *UpstreamError of kind k.
func IsKind(err error, k Kind) bool {
	var upErr *UpstreamError

	return errors.As(err, &upErr) && upErr.Kind == k
}
