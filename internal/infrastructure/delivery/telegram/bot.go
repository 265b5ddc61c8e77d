// Package telegram is the chat transport: it turns links and keyboard presses
// into acquisitions and delivers the results back into the chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tunegrab/internal/config"
	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/errs"
	"tunegrab/internal/service"
	"tunegrab/internal/session"
	"tunegrab/pkg/urls"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// API is the part of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot dispatches updates. Long running work happens in its own goroutine per
// callback so one slow download never blocks other chats.
type Bot struct {
	log      *slog.Logger
	cfg      *config.Config
	api      API
	svc      service.Acquirer
	sessions session.Store
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

// NewAPI connects to the Bot API with the configured endpoint.
func NewAPI(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	if err := cfg.Bot.ValidateToken(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Bot.Token, cfg.Bot.APIEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}

	api.Debug = cfg.Bot.Debug

	return api, nil
}

// New creates the transport.
func New(log *slog.Logger, cfg *config.Config, api API, svc service.Acquirer, sessions session.Store) *Bot {
	limit := rate.Inf
	if cfg.Bot.SendRate > 0 {
		limit = rate.Limit(cfg.Bot.SendRate)
	}

	return &Bot{
		log:      log.With(slog.String("package", "telegram")),
		cfg:      cfg,
		api:      api,
		svc:      svc,
		sessions: sessions,
		limiter:  rate.NewLimiter(limit, max(cfg.Bot.SendBurst, 1)),
	}
}

// Run long-polls updates until ctx is done, then gives running acquisitions
// DrainTimeout to finish before canceling them.
func (b *Bot) Run(ctx context.Context) error {
	log := b.log.With(slog.String("func", "Run"))

	// a stale webhook makes getUpdates fail; queued updates are from before the restart
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(b.cfg.Bot.PollTimeout / time.Second)
	updates := b.api.GetUpdatesChan(u)

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	log.InfoContext(ctx, "bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.drain(ctx, cancelWork)

			return nil
		case update, ok := <-updates:
			if !ok {
				b.drain(ctx, cancelWork)

				return nil
			}

			b.Handle(workCtx, update)
		}
	}
}

func (b *Bot) drain(ctx context.Context, cancelWork context.CancelFunc) {
	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.cfg.Bot.DrainTimeout):
		b.log.WarnContext(ctx, "drain timeout, canceling running acquisitions")
		cancelWork()
		<-done
	}
}

// Wait blocks until every callback goroutine has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Handle routes one update. Messages are answered inline; callbacks that start
// an acquisition return immediately.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	chatID := msg.Chat.ID

	if msg.IsCommand() {
		if msg.Command() == "start" || msg.Command() == "help" {
			b.reply(ctx, chatID, consts.MsgStart, nil)
		}

		return
	}

	link, ok := urls.FindVideoURL(msg.Text)
	if !ok {
		b.reply(ctx, chatID, consts.MsgInvalidURL, nil)

		return
	}

	prompt := tgbotapi.NewMessage(chatID, consts.MsgChooseQuality)
	prompt.ReplyMarkup = qualityKeyboard()

	sent, err := b.send(ctx, prompt)
	if err != nil {
		b.log.ErrorContext(ctx, "send message", slog.Int64("chat_id", chatID), slog.Any("error", err))

		return
	}

	// The entry is bound to the keyboard message, so presses on older keyboards miss it.
	pending := entity.Pending{URL: link, Kind: entity.PendingSelection, MessageID: sent.MessageID}
	if err := b.sessions.Put(ctx, msg.From.ID, pending); err != nil {
		b.log.ErrorContext(ctx, "store pending selection", slog.Int64("user_id", msg.From.ID), slog.Any("error", err))
		b.edit(ctx, chatID, sent.MessageID, fmt.Sprintf(consts.MsgFailed, "could not remember the link"), nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.request(ctx, tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.log.WarnContext(ctx, "answer callback", slog.Any("error", err))
	}

	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}

	userID := query.From.ID
	status := &chatDelivery{bot: b, chatID: query.Message.Chat.ID, messageID: query.Message.MessageID}

	cb := parseCallback(query.Data)
	if cb.action == actionUnknown {
		b.log.WarnContext(ctx, "unknown callback", slog.String("data", query.Data))

		return
	}

	pending, err := b.sessions.TakeFor(ctx, userID, status.messageID)
	if err != nil {
		if !errors.Is(err, errs.ErrSessionExpired) {
			b.log.ErrorContext(ctx, "take pending selection", slog.Int64("user_id", userID), slog.Any("error", err))
		}

		b.edit(ctx, status.chatID, status.messageID, consts.MsgSessionExpired, nil)

		return
	}

	switch cb.action {
	case actionQuality:
		b.startAudio(ctx, userID, status, entity.Request{URL: pending.URL, Quality: cb.quality, Attempt: 1})
	case actionRetry:
		if pending.Kind != entity.PendingRetry || pending.Quality == "" {
			b.edit(ctx, status.chatID, status.messageID, consts.MsgSessionExpired, nil)

			return
		}

		b.startAudio(ctx, userID, status, entity.Request{URL: pending.URL, Quality: pending.Quality, Attempt: pending.Attempt})
	case actionSubtitles:
		b.startSubtitles(ctx, status, entity.Request{URL: pending.URL, Subtitles: &entity.SubtitleRequest{}})
	}
}

func (b *Bot) startAudio(ctx context.Context, userID int64, status *chatDelivery, req entity.Request) {
	b.edit(ctx, status.chatID, status.messageID, fmt.Sprintf(consts.MsgDownloading, req.Quality.Label()), nil)

	status.firstAttempt = req.Attempt

	b.wg.Go(func() {
		out := b.svc.Audio(ctx, req, status)
		b.log.InfoContext(ctx, "audio acquisition finished", slog.Any("request", req), slog.Any("outcome", out))

		if out.OK() {
			b.edit(ctx, status.chatID, status.messageID, fmt.Sprintf(consts.MsgDone, out.Label), nil)

			return
		}

		if !offersRetry(out) {
			b.edit(ctx, status.chatID, status.messageID, out.UserMessage, nil)

			return
		}

		retry := entity.Pending{
			URL:       req.URL,
			Kind:      entity.PendingRetry,
			Quality:   req.Quality,
			Attempt:   consts.ManualRetryAttempt,
			MessageID: status.messageID,
		}

		// A link sent while this run was going owns the session now; keep it.
		stored, err := b.sessions.PutIfAbsentOrOwned(ctx, userID, retry)
		if err != nil {
			b.log.ErrorContext(ctx, "store retry", slog.Any("error", err))
		}

		if !stored {
			b.edit(ctx, status.chatID, status.messageID, out.UserMessage, nil)

			return
		}

		keyboard := retryKeyboard()
		b.edit(ctx, status.chatID, status.messageID, out.UserMessage, &keyboard)
	})
}

func (b *Bot) startSubtitles(ctx context.Context, status *chatDelivery, req entity.Request) {
	b.edit(ctx, status.chatID, status.messageID, consts.MsgFetchingSubtitles, nil)

	b.wg.Go(func() {
		out := b.svc.Subtitles(ctx, req, status)
		b.log.InfoContext(ctx, "subtitle acquisition finished", slog.Any("request", req), slog.Any("outcome", out))

		text := out.UserMessage
		if out.OK() {
			text = fmt.Sprintf(consts.MsgSubtitlesDone, out.Label)
		}

		b.edit(ctx, status.chatID, status.messageID, text, nil)
	})
}

// offersRetry hides the retry button where pressing it cannot help.
func offersRetry(out entity.Outcome) bool {
	return !errors.Is(out.Reason, errs.ErrInvalidURL) &&
		!errors.Is(out.Reason, errs.ErrServiceClosed) &&
		!errors.Is(out.Reason, errs.ErrUnavailable)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	if _, err := b.send(ctx, msg); err != nil {
		b.log.ErrorContext(ctx, "send message", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// edit replaces the status message text. A nil keyboard removes the buttons.
func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ReplyMarkup = keyboard

	if _, err := b.send(ctx, msg); err != nil {
		b.log.WarnContext(ctx, "edit message", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("rate limit: %w", err)
	}

	msg, err := b.api.Send(c)
	if err != nil {
		return msg, fmt.Errorf("send: %w", err)
	}

	return msg, nil
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := b.api.Request(c)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	return resp, nil
}
