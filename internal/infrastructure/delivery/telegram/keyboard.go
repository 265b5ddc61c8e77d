package telegram

import (
	"strings"

	"tunegrab/internal/consts"
	"tunegrab/internal/entity"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// action is what an inline keyboard button asks for.
type action int

const (
	actionUnknown action = iota
	actionQuality
	actionSubtitles
	actionRetry
)

// callback is a decoded callback payload.
type callback struct {
	action  action
	quality entity.QualityTier
}

func parseCallback(data string) callback {
	switch {
	case data == consts.CallbackSubtitles:
		return callback{action: actionSubtitles}
	case data == consts.CallbackRetry:
		return callback{action: actionRetry}
	case strings.HasPrefix(data, consts.CallbackQualityPrefix):
		tier, err := entity.ParseQualityTier(data)
		if err != nil {
			return callback{}
		}

		return callback{action: actionQuality, quality: tier}
	}

	return callback{}
}

// qualityKeyboard offers one button per tier and a subtitles button below.
func qualityKeyboard() tgbotapi.InlineKeyboardMarkup {
	tiers := make([]tgbotapi.InlineKeyboardButton, 0, len(entity.QualityTiers))
	for _, tier := range entity.QualityTiers {
		tiers = append(tiers, tgbotapi.NewInlineKeyboardButtonData(tier.Label(), consts.CallbackQualityPrefix+string(tier)))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tiers,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(consts.MsgSubtitlesButton, consts.CallbackSubtitles)),
	)
}

func retryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(consts.MsgRetryButton, consts.CallbackRetry)),
	)
}
