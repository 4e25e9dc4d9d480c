package router

import (
	"time"

	tg "github.com/rrader/po2bot/core/telegram"
	"github.com/rrader/po2bot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM defines the minimal interface for an FSM manager.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// MessageOptions controls fallback behaviour for text/contact/media updates.
type MessageOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// MessageRoutes builds handlers for text, contact, photo, and document routing.
// Updates from users with an active conversation are dispatched to the FSM;
// everything else falls through to command lookup and the configured fallbacks.
func MessageRoutes(fsmMgr FSM, reg *tg.Registry, opts MessageOptions) []tg.Route {
	textHandler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if fsmMgr != nil && fsmMgr.InProgress(c.Sender().ID) {
			return handleWithSummary(c, "fsm", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	mediaHandler := func(name string) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			if fsmMgr != nil && fsmMgr.InProgress(c.Sender().ID) {
				return handleWithSummary(c, "fsm_"+name, start, "", "", func() error {
					return fsmMgr.ManagerHandler(c)
				})
			}
			if opts.UnknownMedia != nil {
				return handleWithSummary(c, "unexpected_"+name, start, "", "", func() error {
					return opts.UnknownMedia(c)
				})
			}
			logHandlerSummary(c, "unexpected_"+name, start, "skip", "ok", nil)
			return nil
		}
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnContact, Handler: wrap(mediaHandler("contact"))},
		{Endpoint: tele.OnPhoto, Handler: wrap(mediaHandler("photo"))},
		{Endpoint: tele.OnDocument, Handler: wrap(mediaHandler("document"))},
	}
}
