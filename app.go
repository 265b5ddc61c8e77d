package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"tunegrab/internal/config"
	"tunegrab/internal/consts"
	"tunegrab/internal/depmanager"
	"tunegrab/internal/extract"
	"tunegrab/internal/observability"
	"tunegrab/internal/proxymgr"
	"tunegrab/internal/service"
	"tunegrab/internal/storage"
	"tunegrab/pkg/logger"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the components every command shares.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observability.Metrics
	deps    *depmanager.Manager
	proxies *proxymgr.Manager
	ws      *storage.Workspace
	client  extract.Client
	svc     *service.Service
}

type appOptions struct {
	// registerer enables metrics; nil leaves them off.
	registerer prometheus.Registerer
	// logOutput receives the logs; a terminal gets text, anything else JSON.
	logOutput io.Writer
}

func newApp(ctx context.Context, flags *globalFlags, opts appOptions) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if flags.logLevel != "" {
		cfg.App.LogLevel = flags.logLevel
	}

	out := opts.logOutput
	if out == nil {
		out = os.Stdout
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Output:    out,
		Text:      isTerminal(out),
	})
	if err != nil {
		log.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	a := &app{cfg: cfg, log: log}

	if opts.registerer != nil {
		a.metrics = observability.New(opts.registerer)
	}

	if a.ws, err = storage.New(log, cfg, a.metrics); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	switch flags.engine {
	case consts.EngineMock:
		a.client = extract.NewMock(log)
	default:
		if err := a.startYTdlp(ctx); err != nil {
			return nil, err
		}
	}

	a.svc = service.New(log, cfg, a.client, a.ws, a.metrics)

	return a, nil
}

func (a *app) startYTdlp(ctx context.Context) error {
	a.deps = depmanager.New(a.log, a.cfg)

	a.log.InfoContext(ctx, "checking if yt-dlp, ffmpeg, deno are installed. it may take some time...")

	if err := a.deps.Start(ctx); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}

	if err := a.deps.ExportPath(); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}

	if len(a.cfg.Proxy.Proxies) > 0 {
		a.proxies = proxymgr.New(a.log, a.cfg, a.metrics)
		a.log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", a.proxies.AvailableCount()))
	}

	a.client = extract.NewYTdlp(a.log, a.cfg, a.deps, a.proxies, a.metrics)

	return nil
}

// ready reports whether the engine binary is resolved.
func (a *app) ready(context.Context) error {
	if a.deps == nil {
		return nil
	}

	if a.deps.GetInstalledPath(depmanager.BinaryYTdlp) == "" {
		return fmt.Errorf("%s is not installed", depmanager.BinaryYTdlp)
	}

	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := file.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
