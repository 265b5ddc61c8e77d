// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultMaxRetries is the number of attempts made for an audio acquisition.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the fixed wait between attempts.
	DefaultRetryBackoff = 5 * time.Second
	// DefaultInlineLimitBytes is the largest file sent through the inline audio channel.
	DefaultInlineLimitBytes = 48 * 1024 * 1024
	// DefaultSubtitleLanguage is used when the request carries no preferred language.
	DefaultSubtitleLanguage = "en"
	// DefaultTitle is used until the probe yields a real title.
	DefaultTitle = "YouTube Audio"
	// ManualRetryAttempt is where a retry pressed by the user starts counting.
	ManualRetryAttempt = 2
	// MaxUserErrorLen bounds how much raw failure text reaches the user.
	MaxUserErrorLen = 150
	// TargetExt is the extension advertised to the user for audio artifacts.
	TargetExt = "m4a"
	// SubtitleExt is the extension subtitles are converted to.
	SubtitleExt = "srt"
)

// Temp artifact prefixes. The janitor only touches entries carrying one of them.
const (
	PrefixAudio     = "tg_audio"
	PrefixSubtitles = "tg_subs"
	PrefixAny       = "tg_"
)

// User facing messages.
const (
	MsgStart = "Send me a YouTube link and pick a quality.\n\n" +
		"Low is small and fast, High is the best available audio. " +
		"Files above 48 MB arrive as documents instead of playable audio.\n" +
		"You can also ask for subtitles (SRT)."
	MsgInvalidURL        = "Please send a valid YouTube link."
	MsgChooseQuality     = "Choose audio quality:"
	MsgSessionExpired    = "Session expired. Send the link again."
	MsgDownloading       = "Downloading in %s quality…"
	MsgRetrying          = "Attempt %d/%d failed, retrying…"
	MsgDone              = "Done! Quality: %s"
	MsgFetchingSubtitles = "Looking for subtitles…"
	MsgSubtitlesDone     = "Done! Subtitles: %s"
	MsgBlocked           = "YouTube asked for a sign-in or bot check. Retrying will not help right now, try another video or later."
	MsgUnavailable       = "This video is unavailable (private, removed or region locked)."
	MsgArtifactMissing   = "Download finished but no audio file was produced."
	MsgFailedAfter       = "Failed after %d attempts: %s"
	MsgFailed            = "Failed: %s"
	MsgNoSubtitles       = "No subtitles available for this video."
	MsgSubsRateLimited   = "YouTube is rate limiting subtitle requests. Try again in 10–60 minutes."
	MsgTooLargeCaption   = "%s (%.1f MB) – too large for audio player"
	MsgRetryButton       = "Retry"
	MsgSubtitlesButton   = "Subtitles (SRT)"
	Performer            = "Downloaded via bot"
)

// Callback payloads carried by inline keyboard buttons.
const (
	CallbackQualityPrefix = "quality_"
	CallbackSubtitles     = "subs"
	CallbackRetry         = "retry"
)

// HTTP response messages.
const (
	RespReady    = "ready"
	RespNotReady = "not ready"
	RespStats    = "stats retrieved"
)

// Engine identifiers.
const (
	EngineYTdlp = "ytdlp"
	EngineMock  = "mock"
)
