// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is shutting down and cannot accept new requests.
	ErrServiceClosed = errors.New("service is closed")
	// ErrUnexpected indicates a recovered panic or an otherwise unclassified internal failure.
	ErrUnexpected = errors.New("unexpected error")
)

// Request errors.
var (
	// ErrInvalidURL indicates that the message does not reference a supported video.
	ErrInvalidURL = errors.New("invalid video url")
	// ErrUnknownTier indicates that a quality tier outside low/medium/high was requested.
	ErrUnknownTier = errors.New("unknown quality tier")
	// ErrInvalidToken indicates that the bot token is malformed.
	ErrInvalidToken = errors.New("invalid bot token")
)

// Session errors.
var (
	// ErrSessionExpired indicates that no pending selection exists for the session.
	ErrSessionExpired = errors.New("session expired")
)

// Extraction errors.
var (
	// ErrUpstreamBlocked indicates that the platform demanded sign-in or a bot check.
	ErrUpstreamBlocked = errors.New("upstream blocked")
	// ErrRateLimited indicates that the platform throttled the requests.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUnavailable indicates that the video is private, removed or otherwise gone.
	ErrUnavailable = errors.New("video unavailable")
	// ErrTransient indicates a network, parse or engine failure that may succeed on retry.
	ErrTransient = errors.New("transient upstream failure")
	// ErrArtifactMissing indicates that the engine reported success but no output file exists.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrNoSubtitles indicates that no subtitle track of any kind was produced.
	ErrNoSubtitles = errors.New("no subtitles available")
	// ErrRetriesExhausted indicates that every attempt failed with a retryable error.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrDeliveryFailed indicates that the transport rejected the finished artifact.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Binary errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrInstallLocked indicates that another process holds the install lock.
	ErrInstallLocked = errors.New("install lock is held by another process")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
