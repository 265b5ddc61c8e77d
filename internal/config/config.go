// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"tunegrab/internal/errs"

	"github.com/caarlos0/env/v11"
)

// minTokenLen is the shortest bot token accepted; real tokens are "<digits>:<35 chars>".
const minTokenLen = 40

// Config holds the application configuration.
type Config struct {
	App        App
	Bot        Bot
	HTTP       HTTP
	Acquire    Acquire
	Engine     Engine
	Dir        Dir
	Storage    Storage
	Session    Session
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"TUNEGRAB_APP_LOG_LEVEL" envDefault:"info"`
}

// Bot holds chat transport configuration.
type Bot struct {
	Token       string        `env:"TUNEGRAB_BOT_TOKEN"        envDefault:""`
	APIEndpoint string        `env:"TUNEGRAB_BOT_API_ENDPOINT" envDefault:"https://api.telegram.org/bot%s/%s"`
	PollTimeout time.Duration `env:"TUNEGRAB_BOT_POLL_TIMEOUT" envDefault:"60s"`
	// SendRate is the sustained number of outbound API calls per second.
	SendRate float64 `env:"TUNEGRAB_BOT_SEND_RATE" envDefault:"20"`
	SendBurst int    `env:"TUNEGRAB_BOT_SEND_BURST" envDefault:"5"`
	// Debug enables request logging inside the bot API client.
	Debug bool `env:"TUNEGRAB_BOT_DEBUG" envDefault:"false"`
	// DrainTimeout bounds how long running acquisitions may finish after shutdown starts.
	DrainTimeout time.Duration `env:"TUNEGRAB_BOT_DRAIN_TIMEOUT" envDefault:"2m"`
}

// ValidateToken checks the token shape without contacting the API.
func (b Bot) ValidateToken() error {
	if !strings.Contains(b.Token, ":") || len(b.Token) < minTokenLen {
		return fmt.Errorf("%w: expected \"<id>:<secret>\" of at least %d characters", errs.ErrInvalidToken, minTokenLen)
	}

	return nil
}

// HTTP holds the ops HTTP server configuration.
type HTTP struct {
	Port            string        `env:"TUNEGRAB_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"TUNEGRAB_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"TUNEGRAB_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Acquire holds orchestrator configuration.
type Acquire struct {
	MaxRetries       int           `env:"TUNEGRAB_ACQUIRE_MAX_RETRIES"        envDefault:"3"`
	RetryBackoff     time.Duration `env:"TUNEGRAB_ACQUIRE_RETRY_BACKOFF"      envDefault:"5s"`
	InlineLimitBytes int64         `env:"TUNEGRAB_ACQUIRE_INLINE_LIMIT_BYTES" envDefault:"50331648"` // 48 MiB
	// Timeout bounds a whole acquisition, all attempts included.
	Timeout time.Duration `env:"TUNEGRAB_ACQUIRE_TIMEOUT" envDefault:"30m"`
	// MaxConcurrent bounds simultaneous acquisitions across all chats.
	MaxConcurrent int `env:"TUNEGRAB_ACQUIRE_MAX_CONCURRENT" envDefault:"4"`
}

// Engine holds yt-dlp tuning passed on every invocation.
type Engine struct {
	Retries             int           `env:"TUNEGRAB_ENGINE_RETRIES"              envDefault:"20"`
	FragmentRetries     int           `env:"TUNEGRAB_ENGINE_FRAGMENT_RETRIES"     envDefault:"20"`
	ConcurrentFragments int           `env:"TUNEGRAB_ENGINE_CONCURRENT_FRAGMENTS" envDefault:"5"`
	SleepRequests       time.Duration `env:"TUNEGRAB_ENGINE_SLEEP_REQUESTS"       envDefault:"1s"`
	SocketTimeout       time.Duration `env:"TUNEGRAB_ENGINE_SOCKET_TIMEOUT"       envDefault:"30s"`
}

// Dir holds directory paths for temp artifacts, cache, and cookie file.
type Dir struct {
	Work  string `env:"TUNEGRAB_DIR_WORK"  envDefault:"./data/work"`  // temp artifacts live here
	Cache string `env:"TUNEGRAB_DIR_CACHE" envDefault:"./data/cache"` // yt-dlp cache (meta, sigs)

	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"TUNEGRAB_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Work, err = filepath.Abs(c.Work); err != nil {
		return fmt.Errorf("work: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Storage holds janitor configuration for orphaned temp artifacts.
type Storage struct {
	OrphanTTL       time.Duration `env:"TUNEGRAB_STORAGE_ORPHAN_TTL"       envDefault:"2h"`
	CleanupInterval time.Duration `env:"TUNEGRAB_STORAGE_CLEANUP_INTERVAL" envDefault:"30m"`
}

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Session holds pending-selection store configuration.
type Session struct {
	Backend       string        `env:"TUNEGRAB_SESSION_BACKEND"        envDefault:"memory"`
	TTL           time.Duration `env:"TUNEGRAB_SESSION_TTL"            envDefault:"1h"`
	RedisAddr     string        `env:"TUNEGRAB_SESSION_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string        `env:"TUNEGRAB_SESSION_REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"TUNEGRAB_SESSION_REDIS_DB"       envDefault:"0"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	switch cfg.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.Acquire.MaxRetries < 1 {
		cfg.Acquire.MaxRetries = 1
	}

	err = cfg.Proxy.parseList()
	if err != nil {
		return nil, fmt.Errorf("parse proxy list: %w", err)
	}

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"TUNEGRAB_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries indicates whether to use system-installed binaries or download them.
	UseSystemBinaries bool `env:"TUNEGRAB_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"TUNEGRAB_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`
	// LockTimeout bounds the wait for another process installing into BinsDir.
	LockTimeout time.Duration `env:"TUNEGRAB_DEPMANAGER_LOCK_TIMEOUT" envDefault:"5m"`

	// ffmpeg binary URLs per platform.
	FFmpegSHA256SumsURL string `env:"TUNEGRAB_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"TUNEGRAB_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"TUNEGRAB_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll

	// yt-dlp binary URLs per platform.
	YTdlpSHA256SumsURL string `env:"TUNEGRAB_DEPMANAGER_YTDLP_SHA256SUMS_URL" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`      //nolint:lll
	YTdlpLinuxARM64    string `env:"TUNEGRAB_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64    string `env:"TUNEGRAB_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll

	// deno is the JS runtime yt-dlp needs for YouTube signature challenges.
	DenoSHA256SumsURL string `env:"TUNEGRAB_DEPMANAGER_DENO_SHA256SUMS_URL" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip.sha256sum,https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip.sha256sum"` //nolint:lll
	DenoLinuxARM64    string `env:"TUNEGRAB_DEPMANAGER_DENO_LINUX_ARM64" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip"`                                                                                                                    //nolint:lll
	DenoLinuxAMD64    string `env:"TUNEGRAB_DEPMANAGER_DENO_LINUX_AMD64" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip"`                                                                                                                     //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for engine requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs in socks5h format
	List string `env:"TUNEGRAB_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"TUNEGRAB_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"TUNEGRAB_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"TUNEGRAB_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list. Every entry needs a scheme and a host.
func (p *Proxy) parseList() error {
	if p.List == "" {
		return nil
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		u, err := url.Parse(proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", proxy, err)
		}

		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy URL %q: scheme and host required", proxy)
		}

		p.Proxies = append(p.Proxies, proxy)
	}

	return nil
}
