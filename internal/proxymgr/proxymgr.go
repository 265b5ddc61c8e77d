// Package proxymgr rotates engine traffic over a pool of proxies.
// Proxies that keep failing are put into exponential backoff; the extraction
// adapter reports every outcome back so the pool follows real engine results.
package proxymgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/observability"
)

// ProxyState represents the current state of a proxy.
type ProxyState int

const (
	// ProxyStateAvailable indicates the proxy is available for use.
	ProxyStateAvailable ProxyState = iota
	// ProxyStateFailed indicates the proxy has failed and is in backoff.
	ProxyStateFailed
)

// String returns the state name used in stats output.
func (s ProxyState) String() string {
	if s == ProxyStateFailed {
		return "failed"
	}

	return "available"
}

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = time.Hour

	defaultSOCKSPort = "1080"
	defaultHTTPPort  = "8080"
)

var errUnsupportedScheme = errors.New("unsupported proxy scheme")

type proxyInfo struct {
	URL           string
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *observability.Metrics

	mu      sync.RWMutex
	proxies map[string]*proxyInfo
	order   []string // insertion order for consistent iteration
}

// New creates a new proxy manager. metrics may be nil.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make(map[string]*proxyInfo),
		order:   make([]string, 0, len(cfg.Proxy.Proxies)),
	}

	for _, proxy := range cfg.Proxy.Proxies {
		if _, dup := mgr.proxies[proxy]; dup {
			continue
		}

		mgr.proxies[proxy] = &proxyInfo{
			URL:   proxy,
			State: ProxyStateAvailable,
		}
		mgr.order = append(mgr.order, proxy)
	}

	mgr.publishAvailable()

	return mgr
}

// Pick returns a random available proxy URL, or "" when none is available.
// A nil Manager is valid and never returns a proxy.
func (m *Manager) Pick() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	available := m.getAvailableProxies()
	m.mu.Unlock()

	if len(available) == 0 {
		return ""
	}

	proxy := available[rand.IntN(len(available))]

	if m.metrics != nil {
		m.metrics.RecordProxyRequest(Redact(proxy))
	}

	return proxy
}

// MarkFailed counts a failure and starts backoff once MaxFailures is reached.
func (m *Manager) MarkFailed(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		m.mu.Unlock()

		return
	}

	info.FailureCount++
	info.LastFailure = time.Now()

	if info.FailureCount >= m.cfg.Proxy.MaxFailures {
		info.State = ProxyStateFailed
		backoff := min(m.cfg.Proxy.FailureBackoff*time.Duration(1<<(info.FailureCount-m.cfg.Proxy.MaxFailures)), maxBackoff)
		info.BackoffUntil = time.Now().Add(backoff)

		m.log.Warn("proxy marked as failed",
			slog.String("proxy", Redact(proxyURL)),
			slog.Int("failure_count", info.FailureCount),
			slog.Duration("backoff", backoff))
	}

	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordProxyFailure(Redact(proxyURL))
	}

	m.publishAvailable()
}

// MarkSuccess marks a proxy as healthy and resets its failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()

	info, exists := m.proxies[proxyURL]
	if exists {
		info.State = ProxyStateAvailable
		info.FailureCount = 0
		info.BackoffUntil = time.Time{}
	}

	m.mu.Unlock()

	m.publishAvailable()
}

// HealthCheck dials the proxy host and records the result.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy URL: %w", err)
	}

	addr, err := dialAddress(parsedURL)
	if err != nil {
		return err
	}

	// SOCKS5 proxies only get a TCP dial; a full handshake would need credentials per scheme.
	dialer := &net.Dialer{
		Timeout: healthCheckTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()

	if info, exists := m.proxies[proxyURL]; exists {
		info.LastHealthChk = time.Now()
	}

	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m == nil || m.cfg.Proxy.HealthCheckInterval <= 0 || len(m.proxies) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.Proxy.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAllProxies(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.Proxy.HealthCheckInterval),
		slog.Int("proxy_count", len(m.proxies)))
}

// ProxyStats represents statistics for a proxy.
type ProxyStats struct {
	Proxy         string    `json:"proxy"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failureCount"`
	LastFailure   time.Time `json:"lastFailure"`
	BackoffUntil  time.Time `json:"backoffUntil"`
	LastHealthChk time.Time `json:"lastHealthCheck"`
}

// GetStats returns current proxy statistics with credentials redacted, in configuration order.
func (m *Manager) GetStats() []ProxyStats {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]ProxyStats, 0, len(m.order))
	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		stats = append(stats, ProxyStats{
			Proxy:         Redact(proxyURL),
			State:         info.State.String(),
			FailureCount:  info.FailureCount,
			LastFailure:   info.LastFailure,
			BackoffUntil:  info.BackoffUntil,
			LastHealthChk: info.LastHealthChk,
		})
	}

	return stats
}

// HasProxies returns true if any proxies are configured.
func (m *Manager) HasProxies() bool {
	return m != nil && len(m.proxies) > 0
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.getAvailableProxies())
}

// Redact hides the userinfo part of a proxy URL.
func Redact(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil || u.User == nil {
		return proxyURL
	}

	return u.Redacted()
}

// dialAddress returns host:port of u, filling in the scheme's default port.
func dialAddress(u *url.URL) (string, error) {
	if u.Port() != "" {
		return u.Host, nil
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		return net.JoinHostPort(u.Hostname(), defaultSOCKSPort), nil
	case "http", "https":
		return net.JoinHostPort(u.Hostname(), defaultHTTPPort), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
}

func (m *Manager) getAvailableProxies() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == ProxyStateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		return m.proxies[available[i]].FailureCount < m.proxies[available[j]].FailureCount
	})

	return available
}

func (m *Manager) publishAvailable() {
	if m.metrics != nil {
		m.metrics.SetProxiesAvailable(m.AvailableCount())
	}
}

func (m *Manager) checkAllProxies(ctx context.Context) {
	m.mu.RLock()
	proxies := make([]string, len(m.order))
	copy(proxies, m.order)
	m.mu.RUnlock()

	for _, proxy := range proxies {
		select {
		case <-ctx.Done():
			return
		default:
			if err := m.HealthCheck(ctx, proxy); err != nil {
				m.log.Debug("proxy health check failed",
					slog.String("proxy", Redact(proxy)),
					slog.Any("error", err))
			}
		}
	}
}
