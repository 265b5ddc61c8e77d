package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/storage"
	"tunegrab/internal/subtitle"
	"tunegrab/pkg/filename"
)

// Subtitles fetches the best subtitle tracks of req.URL as SRT documents.
// It makes a single attempt: the engine already retries internally and
// subtitle endpoints are the first to be rate limited.
func (svc *Service) Subtitles(ctx context.Context, req entity.Request, deliver Deliverer) (out entity.Outcome) {
	log := svc.log.With(slog.String("func", "Subtitles"), slog.Any("request", req))

	if out, ok := svc.admit(req); !ok {
		svc.metrics.RecordFailed(kindSubtitles, reasonLabel(out.Reason))

		return out
	}

	release, err := svc.acquireSlot(ctx)
	if err != nil {
		return svc.fail(kindSubtitles, 0, err, fmt.Sprintf(consts.MsgFailed, shortReason(err)), "canceled")
	}
	defer release()

	defer svc.metrics.AcquisitionTimer(kindSubtitles)()

	if svc.cfg.Acquire.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, svc.cfg.Acquire.Timeout)
		defer cancel()
	}

	tmp := svc.ws.NewTemp(consts.PrefixSubtitles)
	log = log.With(slog.Any("artifact", tmp))

	attempt := 1

	defer svc.ws.Sweep(context.WithoutCancel(ctx), tmp)
	defer svc.recoverInto(ctx, log, kindSubtitles, &attempt, &out)

	svc.metrics.RecordAttempt(kindSubtitles)
	deliver.Progress(ctx, 1, 1)

	pref := entity.SubtitleRequest{PreferredLanguage: consts.DefaultSubtitleLanguage}
	if req.Subtitles != nil && req.Subtitles.PreferredLanguage != "" {
		pref = *req.Subtitles
	}

	meta, err := svc.client.Probe(ctx, req.URL)
	if err != nil {
		log.WarnContext(ctx, "probe failed", slog.Any("error", err))

		return svc.fail(kindSubtitles, 1, err, subtitleFailureMessage(err), reasonLabel(err))
	}

	plan := subtitle.Select(*meta, pref)
	log = log.With(slog.String("plan", plan.Label()))

	if err := svc.client.FetchSubtitles(ctx, req.URL, plan, tmp.Template()); err != nil {
		log.WarnContext(ctx, "fetch subtitles failed", slog.Any("error", err))

		return svc.fail(kindSubtitles, 1, err, subtitleFailureMessage(err), reasonLabel(err))
	}

	files, err := svc.subtitleArtifacts(tmp, meta.Title, plan)
	if err != nil {
		return svc.fail(kindSubtitles, 1, err, subtitleFailureMessage(err), reasonLabel(err))
	}

	for _, art := range files {
		if err := deliver.Document(ctx, art); err != nil {
			log.ErrorContext(ctx, "delivery failed", slog.Any("file", art), slog.Any("error", err))

			return svc.fail(kindSubtitles, 1, fmt.Errorf("%w: %w", errs.ErrDeliveryFailed, err),
				fmt.Sprintf(consts.MsgFailed, shortReason(err)), "delivery")
		}

		svc.metrics.RecordDelivered(string(art.Channel), art.SizeBytes)
	}

	svc.metrics.RecordCompleted(kindSubtitles)
	log.InfoContext(ctx, "subtitles delivered", slog.Int("files", len(files)))

	return entity.Outcome{
		Status:    entity.OutcomeSuccess,
		Artifacts: files,
		Attempts:  1,
		Label:     plan.Label(),
	}
}

// subtitleArtifacts lists the SRT files the engine wrote for tmp, one per language.
func (svc *Service) subtitleArtifacts(tmp storage.TempArtifact, title string, plan subtitle.Plan,
) ([]entity.Artifact, error) {
	paths, err := svc.ws.Glob(tmp, consts.SubtitleExt)
	if err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", errs.ErrNoSubtitles, plan.Label())
	}

	if title == "" {
		title = consts.DefaultTitle
	}

	clean := filename.Sanitize(title)
	files := make([]entity.Artifact, 0, len(paths))

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		// tg_subs_<id>.<lang>.srt
		lang := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), tmp.Base()+"."), "."+consts.SubtitleExt)

		files = append(files, entity.Artifact{
			Path:        path,
			DisplayName: filename.WithExt(clean+"."+lang, consts.SubtitleExt),
			Title:       clean,
			Caption:     fmt.Sprintf("%s (%s, %s)", clean, lang, plan.Kind),
			SizeBytes:   info.Size(),
			Language:    lang,
			Channel:     entity.ChannelDocument,
		})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", errs.ErrNoSubtitles, plan.Label())
	}

	return files, nil
}

func subtitleFailureMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrNoSubtitles):
		return consts.MsgNoSubtitles
	case errors.Is(err, errs.ErrRateLimited):
		return consts.MsgSubsRateLimited
	case errors.Is(err, errs.ErrUpstreamBlocked):
		return consts.MsgBlocked
	case errors.Is(err, errs.ErrUnavailable):
		return consts.MsgUnavailable
	default:
		return fmt.Sprintf(consts.MsgFailed, shortReason(err))
	}
}
