// Package service runs acquisitions: probe, fetch, resolve and deliver, with
// bounded retries and guaranteed cleanup of everything a request wrote to disk.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/extract"
	"tunegrab/internal/observability"
	"tunegrab/internal/storage"
	"tunegrab/pkg/urls"
)

const (
	kindAudio     = "audio"
	kindSubtitles = "subtitles"
)

// Deliverer is the transport side of an acquisition.
type Deliverer interface {
	// Progress is called at the start of every attempt.
	Progress(ctx context.Context, attempt, maxAttempts int)
	// Inline sends a playable audio file. Only used for files within the inline limit.
	Inline(ctx context.Context, file entity.Artifact) error
	// Document sends a generic file with a caption.
	Document(ctx context.Context, file entity.Artifact) error
}

// Acquirer runs acquisitions for the transports.
type Acquirer interface {
	Audio(ctx context.Context, req entity.Request, deliver Deliverer) entity.Outcome
	Subtitles(ctx context.Context, req entity.Request, deliver Deliverer) entity.Outcome
}

var _ Acquirer = (*Service)(nil)

// Service is the acquisition orchestrator.
type Service struct {
	log     *slog.Logger
	cfg     *config.Config
	client  extract.Client
	ws      *storage.Workspace
	metrics *observability.Metrics

	slots    chan struct{}
	inFlight atomic.Int64
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// New creates the orchestrator. metrics may be nil.
func New(log *slog.Logger, cfg *config.Config, client extract.Client, ws *storage.Workspace,
	metrics *observability.Metrics,
) *Service {
	svc := &Service{
		log:     log.With(slog.String("package", "service")),
		cfg:     cfg,
		client:  client,
		ws:      ws,
		metrics: metrics,
	}

	if cfg.Acquire.MaxConcurrent > 0 {
		svc.slots = make(chan struct{}, cfg.Acquire.MaxConcurrent)
	}

	return svc
}

// InFlight returns the number of acquisitions currently running.
func (svc *Service) InFlight() int {
	return int(svc.inFlight.Load())
}

// Shutdown rejects new acquisitions and waits for the running ones or ctx.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.closed.Store(true)

	done := make(chan struct{})

	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d acquisitions: %w", svc.InFlight(), ctx.Err())
	}
}

// Audio downloads the audio track of req.URL in req.Quality and delivers it.
//
// Attempts start at req.Attempt (1 for a fresh request) and stop at
// MaxRetries. Blocked, unavailable and missing-artifact failures end the
// request at once; anything else waits RetryBackoff and tries again.
func (svc *Service) Audio(ctx context.Context, req entity.Request, deliver Deliverer) (out entity.Outcome) {
	log := svc.log.With(slog.String("func", "Audio"), slog.Any("request", req))

	if out, ok := svc.admit(req); !ok {
		svc.metrics.RecordFailed(kindAudio, reasonLabel(out.Reason))

		return out
	}

	release, err := svc.acquireSlot(ctx)
	if err != nil {
		return svc.fail(kindAudio, 0, err, fmt.Sprintf(consts.MsgFailed, shortReason(err)), "canceled")
	}
	defer release()

	defer svc.metrics.AcquisitionTimer(kindAudio)()

	if svc.cfg.Acquire.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, svc.cfg.Acquire.Timeout)
		defer cancel()
	}

	tmp := svc.ws.NewTemp(consts.PrefixAudio)
	log = log.With(slog.Any("artifact", tmp))

	attempt := max(req.Attempt, 1)

	defer svc.ws.Sweep(context.WithoutCancel(ctx), tmp)
	defer svc.recoverInto(ctx, log, kindAudio, &attempt, &out)

	maxAttempts := svc.cfg.Acquire.MaxRetries

	var title string

	for ; ; attempt++ {
		svc.metrics.RecordAttempt(kindAudio)
		deliver.Progress(ctx, attempt, maxAttempts)

		art, err := svc.attemptAudio(ctx, req, tmp, &title)
		if err == nil {
			log.InfoContext(ctx, "audio ready", slog.Int("attempt", attempt), slog.Any("file", art))

			return svc.deliverAudio(ctx, log, req, deliver, art, attempt)
		}

		log.WarnContext(ctx, "attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))

		if msg, terminal := terminalMessage(err); terminal {
			return svc.fail(kindAudio, attempt, err, msg, reasonLabel(err))
		}

		if attempt >= maxAttempts {
			return svc.fail(kindAudio, attempt, fmt.Errorf("%w: %w", errs.ErrRetriesExhausted, err),
				fmt.Sprintf(consts.MsgFailedAfter, attempt, shortReason(err)), reasonLabel(err))
		}

		if err := sleep(ctx, svc.cfg.Acquire.RetryBackoff); err != nil {
			return svc.fail(kindAudio, attempt, err, fmt.Sprintf(consts.MsgFailed, shortReason(err)), "canceled")
		}
	}
}

// attemptAudio runs one probe (until one succeeds), fetch and resolve.
// title is filled by the first successful probe and kept across attempts.
func (svc *Service) attemptAudio(ctx context.Context, req entity.Request, tmp storage.TempArtifact,
	title *string,
) (entity.Artifact, error) {
	if *title == "" {
		meta, err := svc.client.Probe(ctx, req.URL)
		if err != nil {
			return entity.Artifact{}, err
		}

		*title = meta.Title
		if *title == "" {
			*title = consts.DefaultTitle
		}
	}

	spec, err := formatFor(req.Quality)
	if err != nil {
		return entity.Artifact{}, err
	}

	if err := svc.client.Fetch(ctx, req.URL, spec, tmp.Template()); err != nil {
		return entity.Artifact{}, err
	}

	path, err := svc.ws.Resolve(tmp)
	if err != nil {
		return entity.Artifact{}, err
	}

	return newAudioArtifact(path, *title, svc.cfg.Acquire.InlineLimitBytes)
}

func (svc *Service) deliverAudio(ctx context.Context, log *slog.Logger, req entity.Request, deliver Deliverer,
	art entity.Artifact, attempt int,
) entity.Outcome {
	send := deliver.Inline
	if art.Channel == entity.ChannelDocument {
		send = deliver.Document
	}

	if err := send(ctx, art); err != nil {
		log.ErrorContext(ctx, "delivery failed", slog.Any("file", art), slog.Any("error", err))

		return svc.fail(kindAudio, attempt, fmt.Errorf("%w: %w", errs.ErrDeliveryFailed, err),
			fmt.Sprintf(consts.MsgFailed, shortReason(err)), "delivery")
	}

	svc.metrics.RecordDelivered(string(art.Channel), art.SizeBytes)
	svc.metrics.RecordCompleted(kindAudio)

	return entity.Outcome{
		Status:    entity.OutcomeSuccess,
		Artifacts: []entity.Artifact{art},
		Attempts:  attempt,
		Label:     req.Quality.Label(),
	}
}

// admit rejects requests that must not consume an attempt.
func (svc *Service) admit(req entity.Request) (entity.Outcome, bool) {
	switch {
	case svc.closed.Load():
		return terminal(0, errs.ErrServiceClosed, fmt.Sprintf(consts.MsgFailed, errs.ErrServiceClosed)), false
	case !urls.IsVideoReference(req.URL):
		return terminal(0, fmt.Errorf("%w: %q", errs.ErrInvalidURL, req.URL), consts.MsgInvalidURL), false
	}

	return entity.Outcome{}, true
}

func (svc *Service) acquireSlot(ctx context.Context) (func(), error) {
	svc.wg.Add(1)
	svc.inFlight.Add(1)

	release := func() {
		svc.inFlight.Add(-1)
		svc.wg.Done()
	}

	if svc.slots == nil {
		return release, nil
	}

	select {
	case svc.slots <- struct{}{}:
		return func() {
			<-svc.slots
			release()
		}, nil
	case <-ctx.Done():
		release()

		return nil, fmt.Errorf("wait for slot: %w", ctx.Err())
	}
}

// recoverInto turns a panic into a terminal outcome that reports the attempt
// running at the time. Deferred after the sweep so the sweep still runs.
func (svc *Service) recoverInto(ctx context.Context, log *slog.Logger, kind string, attempt *int,
	out *entity.Outcome,
) {
	rec := recover()
	if rec == nil {
		return
	}

	log.ErrorContext(ctx, "acquisition panicked", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))

	*out = svc.fail(kind, *attempt, fmt.Errorf("%w: %v", errs.ErrUnexpected, rec),
		fmt.Sprintf(consts.MsgFailed, "internal error"), "panic")
}

func (svc *Service) fail(kind string, attempts int, err error, msg, reason string) entity.Outcome {
	svc.metrics.RecordFailed(kind, reason)

	return terminal(attempts, err, msg)
}

func terminal(attempts int, err error, msg string) entity.Outcome {
	return entity.Outcome{
		Status:      entity.OutcomeTerminal,
		Reason:      err,
		UserMessage: msg,
		Attempts:    attempts,
	}
}

// terminalMessage reports whether err ends the audio flow regardless of the
// attempts left, and the message shown in that case.
func terminalMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, errs.ErrUpstreamBlocked):
		return consts.MsgBlocked, true
	case errors.Is(err, errs.ErrUnavailable):
		return consts.MsgUnavailable, true
	case errors.Is(err, errs.ErrArtifactMissing):
		return consts.MsgArtifactMissing, true
	case errors.Is(err, errs.ErrUnknownTier):
		return fmt.Sprintf(consts.MsgFailed, shortReason(err)), true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf(consts.MsgFailed, shortReason(err)), true
	}

	return "", false
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff: %w", ctx.Err())
	}
}
