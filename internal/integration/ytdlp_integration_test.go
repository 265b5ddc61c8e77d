//go:build integration

package integration_test

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/depmanager"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/extract"
	"tunegrab/internal/service"
	"tunegrab/internal/storage"
)

//go:embed testdata/fake-ytdlp.sh
var fakeYTdlpScript string

const videoURL = "https://www.youtube.com/watch?v=vid-123"

type locator map[depmanager.BinaryName]string

func (l locator) GetInstalledPath(name depmanager.BinaryName) string {
	return l[name]
}

type recorder struct {
	mu        sync.Mutex
	attempts  []int
	delivered []entity.Artifact
}

func (r *recorder) Progress(_ context.Context, attempt, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, attempt)
}

func (r *recorder) Inline(_ context.Context, file entity.Artifact) error {
	return r.keep(file)
}

func (r *recorder) Document(_ context.Context, file entity.Artifact) error {
	return r.keep(file)
}

func (r *recorder) keep(file entity.Artifact) error {
	if _, err := os.Stat(file.Path); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.delivered = append(r.delivered, file)

	return nil
}

type fixture struct {
	svc     *service.Service
	workDir string
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	base := t.TempDir()

	exe := filepath.Join(base, "yt-dlp")
	if err := os.WriteFile(exe, []byte(fakeYTdlpScript), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}

	t.Setenv("TUNEGRAB_FAKE_MODE", mode)
	t.Setenv("TUNEGRAB_FAKE_STATE", filepath.Join(base, "state"))

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	cfg.Dir.Work = filepath.Join(base, "work")
	cfg.Dir.Cache = filepath.Join(base, "cache")
	cfg.Dir.CookieFile = ""
	cfg.Engine.SleepRequests = 0
	cfg.Acquire.RetryBackoff = 10 * time.Millisecond
	cfg.Acquire.Timeout = 30 * time.Second

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ws, err := storage.New(log, cfg, nil)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	client := extract.NewYTdlp(log, cfg, locator{depmanager.BinaryYTdlp: exe}, nil, nil)

	return &fixture{
		svc:     service.New(log, cfg, client, ws, nil),
		workDir: cfg.Dir.Work,
	}
}

func (fx *fixture) assertSwept(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(fx.workDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}

	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}

		t.Errorf("work dir not swept: %v", names)
	}
}

func TestAudioSuccess(t *testing.T) {
	fx := newFixture(t, "success")
	rec := &recorder{}

	out := fx.svc.Audio(t.Context(), entity.Request{URL: videoURL, Quality: entity.QualityMedium, Attempt: 1}, rec)
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}

	if len(rec.delivered) != 1 {
		t.Fatalf("delivered %d files, want 1", len(rec.delivered))
	}

	art := rec.delivered[0]
	if art.DisplayName != "Fake Song.m4a" || art.Channel != entity.ChannelInline || art.SizeBytes != 4096 {
		t.Errorf("artifact = %+v", art)
	}

	fx.assertSwept(t)
}

func TestAudioRetriesTransientFailure(t *testing.T) {
	fx := newFixture(t, "flaky")
	rec := &recorder{}

	out := fx.svc.Audio(t.Context(), entity.Request{URL: videoURL, Quality: entity.QualityHigh, Attempt: 1}, rec)
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}

	if out.Attempts != 2 || len(rec.attempts) != 2 {
		t.Errorf("attempts = %d, progress calls = %v", out.Attempts, rec.attempts)
	}

	fx.assertSwept(t)
}

func TestAudioTerminalFailures(t *testing.T) {
	tests := []struct {
		mode string
		want error
	}{
		{mode: "blocked", want: errs.ErrUpstreamBlocked},
		{mode: "unavailable", want: errs.ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			fx := newFixture(t, tc.mode)
			rec := &recorder{}

			out := fx.svc.Audio(t.Context(), entity.Request{URL: videoURL, Quality: entity.QualityLow, Attempt: 1}, rec)
			if out.Status != entity.OutcomeTerminal || !errors.Is(out.Reason, tc.want) {
				t.Fatalf("outcome = %+v, want terminal %v", out, tc.want)
			}

			if out.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", out.Attempts)
			}

			var upErr *extract.UpstreamError
			if !errors.As(out.Reason, &upErr) {
				t.Errorf("reason %v is not an UpstreamError", out.Reason)
			}

			fx.assertSwept(t)
		})
	}
}

func TestSubtitlesSuccess(t *testing.T) {
	fx := newFixture(t, "success")
	rec := &recorder{}

	out := fx.svc.Subtitles(t.Context(), entity.Request{URL: videoURL, Subtitles: &entity.SubtitleRequest{}}, rec)
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}

	if len(rec.delivered) != 1 {
		t.Fatalf("delivered %d files, want 1", len(rec.delivered))
	}

	if name := rec.delivered[0].DisplayName; !strings.HasPrefix(name, "Fake Song.en") || !strings.HasSuffix(name, ".srt") {
		t.Errorf("DisplayName = %q", name)
	}

	fx.assertSwept(t)
}

func TestSubtitlesNothingWritten(t *testing.T) {
	fx := newFixture(t, "nosubs")

	out := fx.svc.Subtitles(t.Context(), entity.Request{URL: videoURL, Subtitles: &entity.SubtitleRequest{}}, &recorder{})
	if out.OK() || !errors.Is(out.Reason, errs.ErrNoSubtitles) {
		t.Fatalf("outcome = %+v, want ErrNoSubtitles", out)
	}
}

func TestFormatsListing(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(exe, []byte(fakeYTdlpScript), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.New()
	if err != nil {
		t.Fatal(err)
	}

	cfg.Dir.Cache = ""
	cfg.Engine.SleepRequests = 0

	client := extract.NewYTdlp(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, locator{depmanager.BinaryYTdlp: exe}, nil, nil)

	formats, err := client.Formats(t.Context(), videoURL)
	if err != nil {
		t.Fatalf("Formats() error = %v", err)
	}

	if len(formats) != 1 || formats[0].FormatID != "140" || !formats[0].AudioOnly() {
		t.Errorf("formats = %+v", formats)
	}
}
