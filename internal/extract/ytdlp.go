package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/consts"
	"tunegrab/internal/depmanager"
	"tunegrab/internal/entity"
	"tunegrab/internal/format"
	"tunegrab/internal/observability"
	"tunegrab/internal/proxymgr"
	"tunegrab/internal/subtitle"

	"github.com/lrstanley/go-ytdlp"
)

const (
	defaultProgressFreq = 2 * time.Second

	opProbe     = "probe"
	opFetch     = "fetch"
	opSubtitles = "subtitles"
)

// Locator resolves installed binaries. *depmanager.Manager implements it.
type Locator interface {
	GetInstalledPath(name depmanager.BinaryName) string
}

// YTdlp drives the yt-dlp executable through go-ytdlp.
type YTdlp struct {
	log      *slog.Logger
	cfg      *config.Config
	bins     Locator
	proxies  *proxymgr.Manager
	metrics  *observability.Metrics
	progress time.Duration
}

// NewYTdlp creates a yt-dlp client. bins, proxies and metrics may be nil.
func NewYTdlp(log *slog.Logger, cfg *config.Config, bins Locator, proxies *proxymgr.Manager,
	metrics *observability.Metrics,
) *YTdlp {
	return &YTdlp{
		log:      log.With(slog.String("package", "extract"), slog.String("engine", consts.EngineYTdlp)),
		cfg:      cfg,
		bins:     bins,
		proxies:  proxies,
		metrics:  metrics,
		progress: defaultProgressFreq,
	}
}

// Probe implements Client.
func (d *YTdlp) Probe(ctx context.Context, url string) (*entity.VideoMetadata, error) {
	cmd := d.command().
		SkipDownload().
		PrintJSON()

	res, err := d.run(ctx, opProbe, cmd, url)
	if err != nil {
		return nil, err
	}

	probe, err := ParseProbe(res.Stdout)
	if err != nil {
		d.metrics.RecordEngineError(opProbe, string(KindTransient))

		return nil, &UpstreamError{Kind: KindTransient, Op: opProbe, Message: "unreadable metadata", Err: err}
	}

	meta := probe.Metadata()
	d.log.DebugContext(ctx, "probed", slog.Any("metadata", meta))

	return meta, nil
}

// Formats lists the formats the engine sees for url.
func (d *YTdlp) Formats(ctx context.Context, url string) ([]FormatJSON, error) {
	res, err := d.run(ctx, opProbe, d.command().SkipDownload().PrintJSON(), url)
	if err != nil {
		return nil, err
	}

	probe, err := ParseProbe(res.Stdout)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransient, Op: opProbe, Message: "unreadable metadata", Err: err}
	}

	return probe.Formats, nil
}

// Fetch implements Client.
func (d *YTdlp) Fetch(ctx context.Context, url string, spec format.Specifier, destTemplate string) error {
	log := d.log.With(slog.String("format", spec.String()))

	progressFn := func(prog ytdlp.ProgressUpdate) {
		log.DebugContext(ctx, "ytdlp progress", slog.Any("progress_update", ProgressUpdate{&prog}))
	}

	cmd := d.command().
		Format(spec.String()).
		Continue().
		Retries(fmt.Sprint(d.cfg.Engine.Retries)).
		FragmentRetries(fmt.Sprint(d.cfg.Engine.FragmentRetries)).
		ProgressFunc(d.progress, progressFn).
		Output(destTemplate)

	if d.cfg.Engine.ConcurrentFragments > 1 {
		cmd = cmd.ConcurrentFragments(d.cfg.Engine.ConcurrentFragments)
	}

	_, err := d.run(ctx, opFetch, cmd, url)

	return err
}

// FetchSubtitles implements Client.
func (d *YTdlp) FetchSubtitles(ctx context.Context, url string, plan subtitle.Plan, destTemplate string) error {
	cmd := d.command().
		SkipDownload().
		SubLangs(plan.SubLangs()).
		ConvertSubs(consts.SubtitleExt).
		Output(destTemplate)

	if plan.Auto {
		cmd = cmd.WriteAutoSubs()
	} else {
		cmd = cmd.WriteSubs()
	}

	if ffmpeg := d.binary(depmanager.BinaryFFmpeg); ffmpeg != "" {
		cmd = cmd.FFmpegLocation(ffmpeg)
	}

	_, err := d.run(ctx, opSubtitles, cmd, url)

	return err
}

// command builds the options shared by every call.
func (d *YTdlp) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist()

	if exe := d.binary(depmanager.BinaryYTdlp); exe != "" {
		cmd = cmd.SetExecutable(exe)
	}

	if d.cfg.Dir.Cache != "" {
		cmd = cmd.CacheDir(d.cfg.Dir.Cache)
	}

	if d.cfg.Dir.CookieFile != "" {
		cmd = cmd.Cookies(d.cfg.Dir.CookieFile)
	}

	if d.cfg.Engine.SleepRequests > 0 {
		cmd = cmd.SleepRequests(d.cfg.Engine.SleepRequests.Seconds())
	}

	if d.cfg.Engine.SocketTimeout > 0 {
		cmd = cmd.SocketTimeout(d.cfg.Engine.SocketTimeout.Seconds())
	}

	return cmd
}

// run executes cmd through a proxy when one is available and reports the
// outcome to the proxy pool and the metrics.
func (d *YTdlp) run(ctx context.Context, op string, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
	log := d.log.With(slog.String("op", op), slog.String("url", url))

	proxyURL := d.proxies.Pick()
	if proxyURL != "" {
		log = log.With(slog.String("proxy", proxymgr.Redact(proxyURL)))
		cmd = cmd.Proxy(proxyURL)
	}

	res, err := cmd.Run(ctx, url)
	if err == nil {
		d.proxies.MarkSuccess(proxyURL)
		d.metrics.RecordEngineRequest(op, "ok")
		log.DebugContext(ctx, "ytdlp done", slog.Any("result", Result{res}))

		return res, nil
	}

	stderr := ""
	if res != nil {
		stderr = res.Stderr
	}

	upErr := newUpstreamError(ctx, op, err, stderr)

	d.metrics.RecordEngineRequest(op, "error")

	if kind, ok := kindOf(upErr); ok {
		d.metrics.RecordEngineError(op, string(kind))

		// Unavailable videos say nothing about the proxy.
		if proxyURL != "" && kind != KindUnavailable {
			d.proxies.MarkFailed(proxyURL)
		}
	}

	log.WarnContext(ctx, "ytdlp run", slog.Any("error", upErr), slog.Any("result", Result{res}))

	return res, upErr
}

func (d *YTdlp) binary(name depmanager.BinaryName) string {
	if d.bins == nil {
		return ""
	}

	return d.bins.GetInstalledPath(name)
}

func kindOf(err error) (Kind, bool) {
	upErr, ok := err.(*UpstreamError) //nolint:errorlint // constructed right above
	if !ok {
		return "", false
	}

	return upErr.Kind, true
}
