// Package depmanager installs and refreshes the external programs the engine
// runs: yt-dlp, ffmpeg (with ffprobe) and deno. Remote checksum lists are only
// used to notice new releases; downloads are not verified against them.
package depmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/errs"

	"github.com/gofrs/flock"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
	BinaryDeno    BinaryName = "deno"
)

// installOrder lists what InstallAll fetches. ffprobe ships inside the ffmpeg archive.
var installOrder = []BinaryName{BinaryFFmpeg, BinaryDeno, BinaryYTdlp}

const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	downloadTimeout      = 10 * time.Minute
	filePermExecutable   = 0o755
	filePermReadWrite    = 0o644
	sha256HexLength      = 64
	sha256SumsFieldCount = 2
	savedSumsFilename    = ".sha256sums.json"
	installLockFilename  = ".install.lock"
	lockRetryDelay       = 500 * time.Millisecond
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	platform Platform
	client   *http.Client

	mu        sync.RWMutex
	shaSums   map[string]string     // release file -> sha256 (remote)
	savedSums map[string]string     // release file -> sha256 (last install)
	binPaths  map[BinaryName]string // binary -> installed path

	updating atomic.Bool
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client:    &http.Client{Timeout: downloadTimeout},
		shaSums:   make(map[string]string),
		savedSums: make(map[string]string),
		binPaths:  make(map[BinaryName]string),
	}
}

// Start resolves every binary, downloading them unless system binaries are
// requested, and starts the update checker for downloaded ones.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.DepManager.UseSystemBinaries {
		return m.SetSystemBinaries()
	}

	if err := m.InstallAll(ctx); err != nil {
		return err
	}

	m.StartUpdateChecker(ctx)

	return nil
}

// SetSystemBinaries looks the binaries up in PATH. yt-dlp is required; the
// others are recorded when present.
func (m *Manager) SetSystemBinaries() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, binary := range []BinaryName{BinaryYTdlp, BinaryFFmpeg, BinaryFFprobe, BinaryDeno} {
		path, err := exec.LookPath(string(binary))
		if err != nil {
			if binary == BinaryYTdlp {
				return fmt.Errorf("%w: %s in PATH: %w", errs.ErrBinaryNotFound, binary, err)
			}

			m.log.Warn("optional binary not found in PATH", slog.String("binary", string(binary)))

			continue
		}

		m.binPaths[binary] = path
	}

	return nil
}

// InstallAll downloads missing binaries into BinsDir. Concurrent processes
// sharing BinsDir are serialised by a file lock.
func (m *Manager) InstallAll(ctx context.Context) error {
	log := m.log

	if err := os.MkdirAll(m.cfg.DepManager.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	if err := m.loadSavedSums(); err != nil {
		log.DebugContext(ctx, "no saved checksums, first run", slog.Any("error", err))
	}

	err := m.withInstallLock(ctx, func() error {
		for _, binary := range installOrder {
			if m.isBinaryExists(binary) {
				m.setBinaryPath(binary)
				log.DebugContext(ctx, "binary already exists", slog.String("binary", string(binary)))

				continue
			}

			if err := m.downloadAndInstall(ctx, binary); err != nil {
				return fmt.Errorf("install %s: %w", binary, err)
			}
		}

		// older installs may predate ffprobe being tracked
		if m.isBinaryExists(BinaryFFprobe) {
			m.setBinaryPath(BinaryFFprobe)
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "all binaries are installed", slog.Any("binaries", m.installedPaths()))

	if err := m.FetchSHASums(ctx); err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return nil
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

// GetBinaryPath returns where name lives inside BinsDir.
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.DepManager.BinsDir, filename)
}

// GetInstalledPath returns the resolved path of name, or "" when unknown.
func (m *Manager) GetInstalledPath(name BinaryName) string {
	if m == nil {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.binPaths[name]
}

// ExportPath prepends BinsDir to PATH so yt-dlp finds the deno and ffmpeg it
// spawns on its own.
func (m *Manager) ExportPath() error {
	if m.cfg.DepManager.UseSystemBinaries {
		return nil
	}

	current := os.Getenv("PATH")
	if slices.Contains(filepath.SplitList(current), m.cfg.DepManager.BinsDir) {
		return nil
	}

	if err := os.Setenv("PATH", m.cfg.DepManager.BinsDir+string(os.PathListSeparator)+current); err != nil {
		return fmt.Errorf("set PATH: %w", err)
	}

	return nil
}

// StartUpdateChecker periodically compares remote checksums with the saved
// ones and reinstalls binaries whose release changed.
func (m *Manager) StartUpdateChecker(ctx context.Context) {
	if m.cfg.DepManager.UpdateInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.DepManager.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAndUpdate(ctx)
			}
		}
	}()
}

func (m *Manager) checkAndUpdate(ctx context.Context) {
	if !m.updating.CompareAndSwap(false, true) {
		return
	}
	defer m.updating.Store(false)

	log := m.log.With(slog.String("action", "update_check"))

	if err := m.FetchSHASums(ctx); err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return
	}

	updates := m.findUpdates()
	if len(updates) == 0 {
		log.DebugContext(ctx, "no updates available")

		return
	}

	log.InfoContext(ctx, "updates available", slog.Any("binaries", updates))

	err := m.withInstallLock(ctx, func() error {
		for _, binary := range updates {
			if err := m.downloadAndInstall(ctx, binary); err != nil {
				log.ErrorContext(ctx, "failed to update binary", slog.String("binary", string(binary)), slog.Any("error", err))

				continue
			}

			log.InfoContext(ctx, "binary updated", slog.String("binary", string(binary)))
		}

		return nil
	})
	if err != nil {
		log.WarnContext(ctx, "skipping update", slog.Any("error", err))

		return
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}
}

// findUpdates returns binaries whose release file has a new or changed checksum.
func (m *Manager) findUpdates() []BinaryName {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var updates []BinaryName

	for _, binary := range installOrder {
		file := m.getDownloadFilename(binary)

		newHash, hasNew := m.shaSums[file]
		oldHash, hasOld := m.savedSums[file]

		if hasNew && (!hasOld || newHash != oldHash) {
			updates = append(updates, binary)
		}
	}

	return updates
}

// withInstallLock runs fn while holding <BinsDir>/.install.lock, waiting at
// most LockTimeout for another process to finish.
func (m *Manager) withInstallLock(ctx context.Context, fn func() error) error {
	lock := flock.New(filepath.Join(m.cfg.DepManager.BinsDir, installLockFilename))

	lockCtx := ctx
	if m.cfg.DepManager.LockTimeout > 0 {
		var cancel context.CancelFunc

		lockCtx, cancel = context.WithTimeout(ctx, m.cfg.DepManager.LockTimeout)
		defer cancel()
	}

	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInstallLocked, err)
	}

	if !locked {
		return errs.ErrInstallLocked
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			m.log.Warn("release install lock", slog.Any("error", err))
		}
	}()

	return fn()
}

func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

func (m *Manager) setBinaryPath(name BinaryName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = m.GetBinaryPath(name)
}

func (m *Manager) installedPaths() map[BinaryName]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.binPaths)
}

func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	url := m.getBinaryURL(name)
	if url == "" {
		return fmt.Errorf("%w: no download URL for %s on %s", errs.ErrUnsupportedPlatform, name, m.platform)
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	installed, err := m.downloadDependency(ctx, url, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	for _, path := range installed {
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}

		m.setBinaryPath(BinaryName(strings.TrimSuffix(filepath.Base(path), ".exe")))
	}

	log.InfoContext(ctx, "binary installed", slog.Any("paths", installed))

	return nil
}

func (m *Manager) loadSavedSums() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.DepManager.BinsDir, savedSumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	sums := make(map[string]string)
	if err := json.Unmarshal(data, &sums); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	m.mu.Lock()
	m.savedSums = sums
	m.mu.Unlock()

	return nil
}

// saveSums persists the fetched checksums and makes them the new baseline.
func (m *Manager) saveSums() error {
	m.mu.RLock()
	snapshot := maps.Clone(m.shaSums)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	path := filepath.Join(m.cfg.DepManager.BinsDir, savedSumsFilename)
	if err := os.WriteFile(path, data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.savedSums = snapshot
	m.mu.Unlock()

	return nil
}

// getDownloadFilename returns the release file name as listed in the checksum files.
func (m *Manager) getDownloadFilename(name BinaryName) string {
	arm := m.platform.OS == platformLinux && m.platform.Arch == archARM64
	linux := m.platform.OS == platformLinux

	switch name {
	case BinaryYTdlp:
		switch {
		case arm:
			return "yt-dlp_linux_aarch64"
		case linux:
			return "yt-dlp_linux"
		}
	case BinaryFFmpeg, BinaryFFprobe:
		switch {
		case arm:
			return "ffmpeg-master-latest-linuxarm64-gpl.tar.xz"
		case linux:
			return "ffmpeg-master-latest-linux64-gpl.tar.xz"
		}

		return string(BinaryFFmpeg)
	case BinaryDeno:
		switch {
		case arm:
			return "deno-aarch64-unknown-linux-gnu.zip"
		case linux && m.platform.Arch == archAMD64:
			return "deno-x86_64-unknown-linux-gnu.zip"
		}
	}

	return string(name)
}

func (m *Manager) getBinaryURL(name BinaryName) string {
	cfg := m.cfg.DepManager

	switch name {
	case BinaryYTdlp:
		return m.selectURL(cfg.YTdlpLinuxARM64, cfg.YTdlpLinuxAMD64)
	case BinaryFFmpeg, BinaryFFprobe:
		return m.selectURL(cfg.FFmpegLinuxARM64, cfg.FFmpegLinuxAMD64)
	case BinaryDeno:
		return m.selectURL(cfg.DenoLinuxARM64, cfg.DenoLinuxAMD64)
	}

	return ""
}

// selectURL picks the arm64 build on linux/arm64 when configured; every other
// platform gets the amd64 build.
func (m *Manager) selectURL(linuxARM64, linuxAMD64 string) string {
	if m.platform.String() == platformLinux+"/"+archARM64 && linuxARM64 != "" {
		return linuxARM64
	}

	return linuxAMD64
}
