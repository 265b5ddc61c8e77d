package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tunegrab/internal/consts"
)

// StartJanitor periodically removes temp artifacts older than ttl.
// Requests always sweep their own files; the janitor only catches what an
// interrupted process left behind. It blocks until ctx is done.
func (w *Workspace) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := w.log.With(slog.String("action", "cleanup_orphans"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			w.performCleanup(ctx, ttl)
		case <-ctx.Done():
			log.Info("cleanup orphans stopped")

			return
		}
	}
}

func (w *Workspace) performCleanup(ctx context.Context, ttl time.Duration) int {
	log := w.log
	cutoff := time.Now().Add(-ttl)

	orphans := w.getOrphans(ctx, cutoff)
	if len(orphans) == 0 {
		log.DebugContext(ctx, "no orphaned temp files found")

		return 0
	}

	log.InfoContext(ctx, "about to remove orphaned temp files", slog.Int("count", len(orphans)))

	removed := 0

	for _, path := range orphans {
		if err := os.RemoveAll(path); err != nil {
			log.ErrorContext(ctx, "failed to delete file", slog.String("path", path), slog.Any("error", err))

			continue
		}

		removed++
	}

	if w.metrics != nil {
		w.metrics.RecordCleanup("janitor", removed)
	}

	return removed
}

func (w *Workspace) getOrphans(ctx context.Context, cutoff time.Time) []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.ErrorContext(ctx, "read work dir", slog.Any("error", err))

		return nil
	}

	var orphans []string

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), consts.PrefixAny) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			orphans = append(orphans, filepath.Join(w.dir, entry.Name()))
		}
	}

	return orphans
}
