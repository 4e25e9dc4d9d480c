package bot

import (
	tele "gopkg.in/telebot.v4"

	tghelpers "github.com/rrader/po2bot/core/telegram/helpers"
	"github.com/rrader/po2bot/core/telegram/ui"
)

// fallbacks answers updates that can't be mapped to a command, an active
// conversation, or a known callback.
type fallbacks struct{}

var _ ui.FallbackProvider = fallbacks{}

func (fallbacks) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "Use /start to begin the verification process.")
	}
}

func (fallbacks) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "I wasn't expecting a file. Use /start to begin the verification process.")
	}
}

func (fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
	}
}
