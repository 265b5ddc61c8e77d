package depmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

var errNoSumsURLs = errors.New("no SHA256 sums URLs configured")

// FetchSHASums downloads every configured checksum list and merges it into
// the remote checksum table.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURLs, err := m.CollectSHASumsURLs()
	if err != nil {
		return fmt.Errorf("collect SHA sums URLs: %w", err)
	}

	for _, url := range sumsURLs {
		body, err := m.get(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch SHA sums: %w", err)
		}

		m.ParseSHASums(string(body))
	}

	return nil
}

// CollectSHASumsURLs returns the checksum list URLs. A single setting may hold
// several comma separated URLs (deno publishes one file per archive).
func (m *Manager) CollectSHASumsURLs() ([]string, error) {
	cfg := m.cfg.DepManager

	var urls []string

	for _, raw := range []string{cfg.YTdlpSHA256SumsURL, cfg.FFmpegSHA256SumsURL, cfg.DenoSHA256SumsURL} {
		for part := range strings.SplitSeq(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				urls = append(urls, part)
			}
		}
	}

	if len(urls) == 0 {
		return nil, errNoSumsURLs
	}

	return urls, nil
}

// ParseSHASums reads "<sha256>  <file>" lines. A leading '*' on the file name
// (binary mode marker of sha256sum) is dropped; malformed lines are skipped.
func (m *Manager) ParseSHASums(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parsed := 0

	for line := range strings.Lines(content) {
		fields := strings.Fields(line)
		if len(fields) != sha256SumsFieldCount || len(fields[0]) != sha256HexLength {
			continue
		}

		m.shaSums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
		parsed++
	}

	m.log.Debug("parsed SHA256 sums", slog.Int("lines", parsed), slog.Int("total", len(m.shaSums)))
}

func (m *Manager) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// open issues a GET and fails on any status but 200. The caller closes the body.
func (m *Manager) open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp, nil
}
