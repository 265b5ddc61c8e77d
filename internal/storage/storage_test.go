package storage_test

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tunegrab/internal/config"
	"tunegrab/internal/consts"
	"tunegrab/internal/errs"
	"tunegrab/internal/observability"
	"tunegrab/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

func newWorkspace(t *testing.T) *storage.Workspace {
	t.Helper()

	cfg := &config.Config{Dir: config.Dir{Work: filepath.Join(t.TempDir(), "work")}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ws, err := storage.New(log, cfg, observability.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}

	return ws
}

func touch(t *testing.T, path string) {
	t.Helper()

	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestTempArtifactNaming(t *testing.T) {
	ws := newWorkspace(t)

	a := ws.NewTemp(consts.PrefixAudio)
	b := ws.NewTemp(consts.PrefixAudio)

	if a.ID == b.ID {
		t.Fatalf("two temps share ID %q", a.ID)
	}

	if !strings.HasPrefix(filepath.Base(a.Template()), "tg_audio_") {
		t.Errorf("template %q does not start with prefix", a.Template())
	}

	if !strings.HasSuffix(a.Template(), ".%(ext)s") {
		t.Errorf("template %q does not leave the extension to the engine", a.Template())
	}

	if filepath.Dir(a.Template()) != ws.Dir() {
		t.Errorf("template %q is outside the work dir %q", a.Template(), ws.Dir())
	}

	if _, err := os.Stat(a.Path("m4a")); !os.IsNotExist(err) {
		t.Errorf("NewTemp must not create files, stat err = %v", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		wantExt string
		wantErr bool
	}{
		{name: "m4a", files: []string{"m4a"}, wantExt: "m4a"},
		{name: "webm only", files: []string{"webm"}, wantExt: "webm"},
		{name: "opus only", files: []string{"opus"}, wantExt: "opus"},
		{name: "ogg only", files: []string{"ogg"}, wantExt: "ogg"},
		{name: "m4a preferred over webm", files: []string{"webm", "m4a"}, wantExt: "m4a"},
		{name: "webm preferred over opus", files: []string{"opus", "webm"}, wantExt: "webm"},
		{name: "partial only", files: []string{"m4a.part", "webm.ytdl"}, wantErr: true},
		{name: "nothing", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ws := newWorkspace(t)
			tmp := ws.NewTemp(consts.PrefixAudio)

			for _, ext := range tc.files {
				touch(t, tmp.Path(ext))
			}

			got, err := ws.Resolve(tmp)
			if tc.wantErr {
				if !errors.Is(err, errs.ErrArtifactMissing) {
					t.Fatalf("got err %v, want ErrArtifactMissing", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}

			if got != tmp.Path(tc.wantExt) {
				t.Errorf("got %s, want %s", got, tmp.Path(tc.wantExt))
			}
		})
	}
}

func TestResolveIgnoresOtherRequests(t *testing.T) {
	ws := newWorkspace(t)
	mine := ws.NewTemp(consts.PrefixAudio)
	other := ws.NewTemp(consts.PrefixAudio)

	touch(t, other.Path("m4a"))

	if _, err := ws.Resolve(mine); !errors.Is(err, errs.ErrArtifactMissing) {
		t.Fatalf("resolved another request's file, err = %v", err)
	}
}

func TestSweep(t *testing.T) {
	ws := newWorkspace(t)
	mine := ws.NewTemp(consts.PrefixAudio)
	other := ws.NewTemp(consts.PrefixAudio)

	mineFiles := []string{
		mine.Path("m4a"),
		mine.Path("webm.part"),
		mine.Path("webm.ytdl"),
		mine.Path("webm.part-Frag3"),
		mine.Path("temp.m4a"),
		mine.Path("en.srt"),
	}

	for _, path := range mineFiles {
		touch(t, path)
	}

	touch(t, other.Path("m4a"))
	touch(t, filepath.Join(ws.Dir(), "unrelated.txt"))

	if got := ws.Sweep(t.Context(), mine); got != len(mineFiles) {
		t.Errorf("Sweep() removed %d, want %d", got, len(mineFiles))
	}

	for _, path := range mineFiles {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists", path)
		}
	}

	for _, path := range []string{other.Path("m4a"), filepath.Join(ws.Dir(), "unrelated.txt")} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s was removed: %v", path, err)
		}
	}

	if got := ws.Sweep(t.Context(), mine); got != 0 {
		t.Errorf("second Sweep() removed %d, want 0", got)
	}
}

func TestSweepEmptyID(t *testing.T) {
	ws := newWorkspace(t)
	touch(t, filepath.Join(ws.Dir(), "keep.m4a"))

	if got := ws.Sweep(t.Context(), storage.TempArtifact{Dir: ws.Dir()}); got != 0 {
		t.Fatalf("Sweep() with empty ID removed %d files", got)
	}
}

func TestGlob(t *testing.T) {
	ws := newWorkspace(t)
	tmp := ws.NewTemp(consts.PrefixSubtitles)

	touch(t, tmp.Path("en.srt"))
	touch(t, tmp.Path("de.srt"))
	touch(t, tmp.Path("en.vtt"))
	touch(t, tmp.Path("fr.srt.part"))

	got, err := ws.Glob(tmp, "srt")
	if err != nil {
		t.Fatalf("Glob() failed: %v", err)
	}

	want := []string{tmp.Path("de.srt"), tmp.Path("en.srt")}
	if len(got) != len(want) {
		t.Fatalf("Glob() = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Glob()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSweepAndGlobWithPatternCharsInDir(t *testing.T) {
	cfg := &config.Config{Dir: config.Dir{Work: filepath.Join(t.TempDir(), "work [a*b?]")}}

	ws, err := storage.New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, nil)
	if err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}

	tmp := ws.NewTemp(consts.PrefixSubtitles)
	touch(t, tmp.Path("en.srt"))
	touch(t, tmp.Path("m4a.part"))

	got, err := ws.Glob(tmp, "srt")
	if err != nil || len(got) != 1 || got[0] != tmp.Path("en.srt") {
		t.Fatalf("Glob() = %v, %v", got, err)
	}

	if removed := ws.Sweep(t.Context(), tmp); removed != 2 {
		t.Fatalf("Sweep() removed %d, want 2", removed)
	}

	entries, err := os.ReadDir(ws.Dir())
	if err != nil || len(entries) != 0 {
		t.Errorf("work dir after sweep = %v, %v", entries, err)
	}
}
