package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/format"
	"tunegrab/internal/subtitle"
)

const (
	extPlaceholder = "%(ext)s"
	mockSteps      = 10
	mockFilePerm   = 0o644
)

// Mock is a scriptable Client that writes files the way the real engine does.
// It backs tests and the "mock" engine of the CLI.
type Mock struct {
	log *slog.Logger

	// Meta is returned by Probe.
	Meta entity.VideoMetadata
	// ProbeErr fails every Probe when set.
	ProbeErr error
	// FetchErrs is consumed one entry per Fetch call; nil entries and an
	// exhausted list mean success.
	FetchErrs []error
	// Ext and Size describe the file a successful Fetch produces.
	Ext  string
	Size int64
	// NoSubs makes FetchSubtitles succeed without writing anything.
	NoSubs bool
	// SubsErr fails every FetchSubtitles when set.
	SubsErr error
	// Delay simulates download time; progress is logged in steps.
	Delay time.Duration

	mu    sync.Mutex
	calls map[string]int
	specs []string
	plans []subtitle.Plan
}

// NewMock returns a Mock that succeeds with a 1 MiB m4a file.
func NewMock(log *slog.Logger) *Mock {
	return &Mock{
		log: log.With(slog.String("package", "extract"), slog.String("engine", consts.EngineMock)),
		Meta: entity.VideoMetadata{
			ID:    "mock",
			Title: "Mock Video",
		},
		Ext:   consts.TargetExt,
		Size:  1 << 20,
		calls: make(map[string]int),
	}
}

// Probe implements Client.
func (m *Mock) Probe(ctx context.Context, url string) (*entity.VideoMetadata, error) {
	m.record(opProbe)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opProbe, err)
	}

	if m.ProbeErr != nil {
		return nil, m.ProbeErr
	}

	meta := m.Meta

	return &meta, nil
}

// Fetch implements Client.
func (m *Mock) Fetch(ctx context.Context, url string, spec format.Specifier, destTemplate string) error {
	n := m.record(opFetch)

	m.mu.Lock()
	m.specs = append(m.specs, spec.String())
	m.mu.Unlock()

	log := m.log.With(slog.String("url", url), slog.Int("call", n))

	if err := m.simulate(ctx, log); err != nil {
		return fmt.Errorf("%s: %w", opFetch, err)
	}

	if n <= len(m.FetchErrs) && m.FetchErrs[n-1] != nil {
		// a failed run leaves a partial file behind, like the engine does
		partial := strings.ReplaceAll(destTemplate, extPlaceholder, m.Ext) + ".part"
		if err := os.WriteFile(partial, []byte("partial"), mockFilePerm); err != nil {
			return fmt.Errorf("write partial: %w", err)
		}

		return m.FetchErrs[n-1]
	}

	return writeSized(strings.ReplaceAll(destTemplate, extPlaceholder, m.Ext), m.Size)
}

// FetchSubtitles implements Client.
func (m *Mock) FetchSubtitles(ctx context.Context, url string, plan subtitle.Plan, destTemplate string) error {
	m.record(opSubtitles)

	m.mu.Lock()
	m.plans = append(m.plans, plan)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", opSubtitles, err)
	}

	if m.SubsErr != nil {
		return m.SubsErr
	}

	if m.NoSubs {
		return nil
	}

	base := strings.TrimSuffix(destTemplate, "."+extPlaceholder)

	for _, lang := range plan.Langs {
		body := fmt.Sprintf("1\n00:00:00,000 --> 00:00:02,000\n%s (%s)\n", m.Meta.Title, lang)

		if err := os.WriteFile(base+"."+lang+"."+consts.SubtitleExt, []byte(body), mockFilePerm); err != nil {
			return fmt.Errorf("write subtitles: %w", err)
		}
	}

	return nil
}

// Calls returns how many times op ("probe", "fetch", "subtitles") was invoked.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[op]
}

// Specs returns the format specifiers passed to Fetch, in call order.
func (m *Mock) Specs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.specs...)
}

// Plans returns the subtitle plans passed to FetchSubtitles, in call order.
func (m *Mock) Plans() []subtitle.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]subtitle.Plan(nil), m.plans...)
}

func (m *Mock) record(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls == nil {
		m.calls = make(map[string]int)
	}

	m.calls[op]++

	return m.calls[op]
}

func (m *Mock) simulate(ctx context.Context, log *slog.Logger) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}

	ticker := time.NewTicker(m.Delay / mockSteps)
	defer ticker.Stop()

	for step := 1; step <= mockSteps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.DebugContext(ctx, "mock progress", slog.Int("progress", step*(100/mockSteps)))
		}
	}

	return nil
}

// writeSized creates a sparse file of the given size.
func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()

		return fmt.Errorf("truncate: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}
