package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"
	"tunegrab/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var _ service.Deliverer = (*chatDelivery)(nil)

// chatDelivery sends artifacts into one chat and reports progress by editing
// the status message the keyboard lived in.
type chatDelivery struct {
	bot       *Bot
	chatID    int64
	messageID int
	// firstAttempt is where the run started; a manual retry starts past 1.
	firstAttempt int
}

func (d *chatDelivery) Progress(ctx context.Context, attempt, maxAttempts int) {
	if attempt <= max(d.firstAttempt, 1) {
		return
	}

	d.bot.edit(ctx, d.chatID, d.messageID, fmt.Sprintf(consts.MsgRetrying, attempt-1, maxAttempts), nil)
}

func (d *chatDelivery) Inline(ctx context.Context, file entity.Artifact) error {
	return d.upload(ctx, file, func(data tgbotapi.RequestFileData) tgbotapi.Chattable {
		audio := tgbotapi.NewAudio(d.chatID, data)
		audio.Title = file.Title
		audio.Performer = consts.Performer

		return audio
	})
}

func (d *chatDelivery) Document(ctx context.Context, file entity.Artifact) error {
	return d.upload(ctx, file, func(data tgbotapi.RequestFileData) tgbotapi.Chattable {
		doc := tgbotapi.NewDocument(d.chatID, data)
		doc.Caption = file.Caption

		return doc
	})
}

// upload streams the artifact under its display name; the temp name never reaches the chat.
func (d *chatDelivery) upload(ctx context.Context, file entity.Artifact,
	build func(tgbotapi.RequestFileData) tgbotapi.Chattable,
) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	msg := build(tgbotapi.FileReader{Name: file.DisplayName, Reader: f})

	if _, err := d.bot.send(ctx, msg); err != nil {
		return fmt.Errorf("upload %s: %w", file.Channel, err)
	}

	d.bot.log.DebugContext(ctx, "artifact uploaded", slog.Int64("chat_id", d.chatID), slog.Any("artifact", file))

	return nil
}
