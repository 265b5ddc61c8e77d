// Package entity defines the core entities used in the application.
package entity

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tunegrab/internal/errs"
)

// QualityTier is the coarse audio quality preference picked by the user.
type QualityTier string

const (
	// QualityLow prefers the smallest audio streams.
	QualityLow QualityTier = "low"
	// QualityMedium prefers mid bitrate audio streams.
	QualityMedium QualityTier = "medium"
	// QualityHigh prefers the best available audio.
	QualityHigh QualityTier = "high"
)

// QualityTiers lists every tier in display order.
var QualityTiers = []QualityTier{QualityLow, QualityMedium, QualityHigh}

// Valid reports whether q is one of the known tiers.
func (q QualityTier) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}

	return false
}

// Label returns the capitalised name shown to users.
func (q QualityTier) Label() string {
	if q == "" {
		return ""
	}

	return strings.ToUpper(string(q[:1])) + string(q[1:])
}

// ParseQualityTier accepts "low", "Medium", "quality_high" and similar.
func ParseQualityTier(raw string) (QualityTier, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.TrimPrefix(raw, "quality_")

	q := QualityTier(raw)
	if !q.Valid() {
		return "", fmt.Errorf("%w: %q", errs.ErrUnknownTier, raw)
	}

	return q, nil
}

// SubtitleRequest asks for subtitles instead of audio.
type SubtitleRequest struct {
	// PreferredLanguage is used for the auto-generated fallback; empty means English.
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
}

// Request is one acquisition asked for by a user.
// Exactly one of Quality or Subtitles is set.
type Request struct {
	URL       string           `json:"url"`
	Quality   QualityTier      `json:"quality,omitempty"`
	Subtitles *SubtitleRequest `json:"subtitles,omitempty"`
	// Attempt is the attempt number the request starts at; zero means 1.
	Attempt int `json:"attempt,omitempty"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Request) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("url", r.URL),
		slog.Int("attempt", r.Attempt),
	}

	if r.Quality != "" {
		attrs = append(attrs, slog.String("quality", string(r.Quality)))
	}

	if r.Subtitles != nil {
		attrs = append(attrs, slog.String("subtitles", r.Subtitles.PreferredLanguage))
	}

	return slog.GroupValue(attrs...)
}

// VideoMetadata is what the engine reports about a video before downloading it.
type VideoMetadata struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	OriginalLanguage string   `json:"originalLanguage,omitempty"`
	ManualLanguages  []string `json:"manualLanguages,omitempty"`
	AutoLanguages    []string `json:"autoLanguages,omitempty"`

	HasManualSubtitles       bool `json:"hasManualSubtitles"`
	HasOriginalAutoSubtitles bool `json:"hasOriginalAutoSubtitles"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (m VideoMetadata) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", m.ID),
		slog.String("title", m.Title),
		slog.String("originalLanguage", m.OriginalLanguage),
		slog.Int("manualTracks", len(m.ManualLanguages)),
		slog.Int("autoTracks", len(m.AutoLanguages)),
		slog.Bool("hasOriginalAuto", m.HasOriginalAutoSubtitles),
	)
}

// Channel is the way an artifact reaches the user.
type Channel string

const (
	// ChannelInline sends the artifact as playable audio.
	ChannelInline Channel = "inline"
	// ChannelDocument sends the artifact as a generic file.
	ChannelDocument Channel = "document"
)

// Artifact is a finished file ready for delivery.
type Artifact struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName"`
	Title       string `json:"title"`
	Caption     string `json:"caption,omitempty"`
	SizeBytes   int64  `json:"sizeBytes"`
	// Language is set for subtitle artifacts.
	Language string  `json:"language,omitempty"`
	Channel  Channel `json:"channel"`
}

// SizeMB returns the size in mebibytes.
func (a Artifact) SizeMB() float64 {
	return float64(a.SizeBytes) / (1024 * 1024)
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (a Artifact) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", a.Path),
		slog.String("displayName", a.DisplayName),
		slog.Int64("sizeBytes", a.SizeBytes),
		slog.String("channel", string(a.Channel)),
	)
}

// OutcomeStatus classifies how an acquisition ended.
type OutcomeStatus string

const (
	// OutcomeSuccess means every artifact was delivered.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeRetryable means the attempt failed but another one may succeed.
	OutcomeRetryable OutcomeStatus = "retryable"
	// OutcomeTerminal means no further attempt will be made.
	OutcomeTerminal OutcomeStatus = "terminal"
)

// Outcome is the final result of one acquisition.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
	// Reason is the underlying cause for failures; match it with errors.Is.
	Reason      error  `json:"-"`
	UserMessage string `json:"userMessage,omitempty"`
	Attempts    int    `json:"attempts"`
	// Label describes which subtitle branch was used.
	Label string `json:"label,omitempty"`
}

// OK reports whether the acquisition succeeded.
func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("status", string(o.Status)),
		slog.Int("attempts", o.Attempts),
		slog.Int("artifacts", len(o.Artifacts)),
	}

	if o.Reason != nil {
		attrs = append(attrs, slog.String("reason", o.Reason.Error()))
	}

	return slog.GroupValue(attrs...)
}

// PendingKind tells what a stored pending selection is waiting for.
type PendingKind string

const (
	// PendingSelection waits for a quality or subtitles choice.
	PendingSelection PendingKind = "selection"
	// PendingRetry waits for the user to press retry after a failure.
	PendingRetry PendingKind = "retry"
)

// Pending is the per-session state between receiving a link and the user's choice.
type Pending struct {
	URL       string      `json:"url"`
	Kind      PendingKind `json:"kind"`
	Quality   QualityTier `json:"quality,omitempty"`
	Subtitles bool        `json:"subtitles,omitempty"`
	Attempt   int         `json:"attempt,omitempty"`
	// MessageID is the chat message carrying the keyboard this entry answers.
	MessageID int         `json:"messageId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (p Pending) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", p.URL),
		slog.String("kind", string(p.Kind)),
		slog.String("quality", string(p.Quality)),
		slog.Int("attempt", p.Attempt),
		slog.Int("messageId", p.MessageID),
		slog.Time("createdAt", p.CreatedAt),
	)
}
