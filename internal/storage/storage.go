// Package storage owns the work directory where the engine writes temp artifacts.
//
// Every request gets a TempArtifact with a unique ID. All files produced for that
// request (final output, partial downloads, fragments, subtitles) carry the ID in
// their name, which lets Sweep remove them without touching other requests.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tunegrab/internal/config"
	"tunegrab/internal/errs"
	"tunegrab/internal/observability"
	"tunegrab/pkg/gen"
)

const dirPerm = 0o755

// candidateExts is the order in which Resolve looks for a finished audio file.
// The engine picks the container, so m4a is only the preferred one.
var candidateExts = []string{"m4a", "webm", "opus", "ogg", "mp3", "aac"}

// TempArtifact names the files of one request.
type TempArtifact struct {
	ID     string
	Dir    string
	Prefix string
}

// Base returns the file name without extension, e.g. "tg_audio_1a2b3c4d5e6f".
func (t TempArtifact) Base() string {
	return t.Prefix + "_" + t.ID
}

// Template returns the engine output template with the extension left to the engine.
func (t TempArtifact) Template() string {
	return filepath.Join(t.Dir, t.Base()+".%(ext)s")
}

// Path returns the path the engine uses for ext.
func (t TempArtifact) Path(ext string) string {
	return filepath.Join(t.Dir, t.Base()+"."+ext)
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (t TempArtifact) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID),
		slog.String("template", t.Template()),
	)
}

// Workspace manages temp artifacts inside a single directory.
type Workspace struct {
	log     *slog.Logger
	dir     string
	metrics *observability.Metrics
}

// New creates the work directory if needed.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) (*Workspace, error) {
	if err := os.MkdirAll(cfg.Dir.Work, dirPerm); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	return &Workspace{
		log:     log.With(slog.String("package", "storage")),
		dir:     cfg.Dir.Work,
		metrics: metrics,
	}, nil
}

// Dir returns the work directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// NewTemp returns a fresh artifact namespace. Nothing is created on disk.
func (w *Workspace) NewTemp(prefix string) TempArtifact {
	return TempArtifact{
		ID:     gen.RequestID(),
		Dir:    w.dir,
		Prefix: prefix,
	}
}

// Resolve returns the first finished audio file of t in candidateExts order.
// Partial files (.part, .ytdl) are never returned.
func (w *Workspace) Resolve(t TempArtifact) (string, error) {
	for _, ext := range candidateExts {
		path := t.Path(ext)

		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s.{%s}", errs.ErrArtifactMissing, t.Base(), strings.Join(candidateExts, ","))
}

// Glob returns produced files of t ending in ext, sorted by name.
// Subtitles produce one file per language, e.g. tg_subs_<id>.en.srt.
func (w *Workspace) Glob(t TempArtifact, ext string) ([]string, error) {
	names, err := t.files()
	if err != nil {
		return nil, err
	}

	var matches []string

	for _, name := range names {
		if strings.HasPrefix(name, t.Base()) && strings.HasSuffix(name, "."+ext) {
			matches = append(matches, filepath.Join(t.Dir, name))
		}
	}

	return matches, nil
}

// files lists the names in t.Dir that carry t.ID, sorted. The directory is read
// rather than globbed so a work dir containing pattern characters still matches.
func (t TempArtifact) files() ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}

	var names []string

	for _, entry := range entries {
		if strings.Contains(entry.Name(), t.ID) {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

// Sweep removes every file of t and returns how many were removed.
// Missing files are not an error; the sweep runs after failures where nothing may exist.
func (w *Workspace) Sweep(ctx context.Context, t TempArtifact) int {
	log := w.log.With(slog.Any("artifact", t))

	if t.ID == "" {
		return 0
	}

	names, err := t.files()
	if err != nil {
		log.ErrorContext(ctx, "sweep", slog.Any("error", err))

		return 0
	}

	removed := 0

	for _, name := range names {
		path := filepath.Join(t.Dir, name)
		if err := os.RemoveAll(path); err != nil {
			log.WarnContext(ctx, "failed to remove temp file", slog.String("path", path), slog.Any("error", err))

			continue
		}

		removed++
	}

	if removed > 0 {
		log.DebugContext(ctx, "temp files removed", slog.Int("count", removed))
	}

	if w.metrics != nil {
		w.metrics.RecordCleanup("sweep", removed)
	}

	return removed
}
