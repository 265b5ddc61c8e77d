package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/extract"
	"tunegrab/internal/format"
	"tunegrab/pkg/filename"
)

const unknownError = "Unknown error"

func formatFor(tier entity.QualityTier) (format.Specifier, error) {
	spec, err := format.For(tier)
	if err != nil {
		return nil, fmt.Errorf("format for %q: %w", tier, err)
	}

	return spec, nil
}

// newAudioArtifact measures path and picks the delivery channel. The file keeps
// its real container on disk; only the advertised name says m4a.
func newAudioArtifact(path, title string, inlineLimit int64) (entity.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return entity.Artifact{}, fmt.Errorf("%w: stat %s: %w", errs.ErrArtifactMissing, path, err)
	}

	clean := filename.Sanitize(title)
	art := entity.Artifact{
		Path:        path,
		DisplayName: filename.WithExt(clean, consts.TargetExt),
		Title:       clean,
		SizeBytes:   info.Size(),
		Channel:     Route(info.Size(), inlineLimit),
	}

	if art.Channel == entity.ChannelDocument {
		art.Caption = fmt.Sprintf(consts.MsgTooLargeCaption, clean, art.SizeMB())
	}

	return art, nil
}

// Route picks the delivery channel for a file of size bytes. The limit itself is inline.
func Route(size, inlineLimit int64) entity.Channel {
	if size <= inlineLimit {
		return entity.ChannelInline
	}

	return entity.ChannelDocument
}

// shortReason returns at most MaxUserErrorLen runes describing err.
// Engine failures contribute their one-line message, never the full output.
func shortReason(err error) string {
	if err == nil {
		return unknownError
	}

	msg := err.Error()

	var upErr *extract.UpstreamError
	if errors.As(err, &upErr) {
		msg = upErr.Message
	}

	return truncate(strings.TrimSpace(msg), consts.MaxUserErrorLen)
}

func truncate(s string, limit int) string {
	if s == "" {
		return unknownError
	}

	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

// reasonLabel is the metrics label for a failure.
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errs.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, errs.ErrServiceClosed):
		return "closed"
	case errors.Is(err, errs.ErrUpstreamBlocked):
		return "blocked"
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, errs.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, errs.ErrArtifactMissing):
		return "artifact_missing"
	case errors.Is(err, errs.ErrNoSubtitles):
		return "no_subtitles"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, errs.ErrTransient):
		return "transient"
	default:
		return "other"
	}
}
