// Package bot wires the verification services into the reusable Telegram
// core: registry, routes, middleware chain, and lifecycle hooks.
package bot

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/rrader/po2bot/bot/config"
	corebootstrap "github.com/rrader/po2bot/core/bootstrap"
	"github.com/rrader/po2bot/core/logger"
	coretelegram "github.com/rrader/po2bot/core/telegram"
	"github.com/rrader/po2bot/core/telegram/commands"
	"github.com/rrader/po2bot/core/telegram/format"
	tghelpers "github.com/rrader/po2bot/core/telegram/helpers"
	"github.com/rrader/po2bot/core/telegram/middleware"
	"github.com/rrader/po2bot/core/telegram/router"
	"github.com/rrader/po2bot/verify"

	"log/slog"
)

// App holds the application services behind the Telegram runtime.
type App struct {
	cfg      *config.Config
	db       *sqlx.DB
	store    verify.Store
	flow     *verify.Flow
	decider  *verify.Decider
	notifier *telegramNotifier
}

// New bootstraps infrastructure (logger, database, migrations) and builds
// the verification services.
func New(cfg *config.Config) (*App, error) {
	res, err := corebootstrap.Run(corebootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	store := verify.NewMemoryStore()
	notifier := newNotifier(cfg.Access)

	return &App{
		cfg:      cfg,
		db:       res.DB,
		store:    store,
		flow:     verify.NewFlow(store, notifier),
		decider:  verify.NewDecider(store, notifier, verify.NewJournal(res.DB)),
		notifier: notifier,
	}, nil
}

// TelegramRunOptions assembles the registry, routes, and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	fb := fallbacks{}

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.startHandler,
		Description: "Begin the verification process",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.cancelHandler,
		Description: "Cancel the current verification request",
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     a.statusHandler,
		Description: "Show the state of your request",
	})

	adminGate := middleware.ChatOnlyMiddleware(middleware.ChatGateOptions{
		ChatID: a.cfg.Access.AdminGroupID,
		OnReject: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Decisions are accepted from the admin group only"})
		},
	})
	if err := reg.RegisterCallback(cbApprove, adminGate(a.decisionHandler(verify.OutcomeApprove))); err != nil {
		return coretelegram.RunOptions{}, err
	}
	if err := reg.RegisterCallback(cbReject, adminGate(a.decisionHandler(verify.OutcomeReject))); err != nil {
		return coretelegram.RunOptions{}, err
	}
	reg.SetCallbackNotFound(fb.UnknownCallback())
	reg.SetTextFallback(fb.UnknownText())

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.MessageRoutes(conversation{flow: a.flow}, reg, router.MessageOptions{
		UnknownText:  fb.UnknownText(),
		UnknownMedia: fb.UnknownDocument(),
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		NotFound: fb.UnknownCallback(),
	}))
	routes = append(routes, coretelegram.Route{
		Endpoint: tele.OnAddedToGroup,
		Handler:  a.groupAddedHandler,
	})

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
		OnStart: func(_ context.Context, rt coretelegram.Runtime) error {
			a.notifier.Bind(rt.Bot)
			return nil
		},
		OnStop: func(context.Context, coretelegram.Runtime) error {
			return a.db.Close()
		},
	}, nil
}

// groupAddedHandler announces the chat id when the bot joins a group. Handy
// for filling in access.admin_group_id and access.private_group_id.
func (a *App) groupAddedHandler(c tele.Context) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	logger.Info(tghelpers.BuildContext(c), "tg", "group.added",
		slog.Int64("chat_id", chat.ID),
		slog.String("chat_type", string(chat.Type)),
	)
	title, err := format.EscapeMarkdown(chat.Title, format.MarkdownV1, "")
	if err != nil {
		title = chat.Title
	}
	return tghelpers.SendMD(c, fmt.Sprintf(
		"✅ Bot has been added to *%s*.\nChat ID: `%d`\n\nUse this chat ID in your configuration.",
		title, chat.ID,
	))
}
