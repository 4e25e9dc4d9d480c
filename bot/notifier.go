package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/rrader/po2bot/bot/config"
	"github.com/rrader/po2bot/core/telegram/keyboard"
	"github.com/rrader/po2bot/verify"
)

// Callback uniques for the admin decision buttons.
const (
	cbApprove = "verify_approve"
	cbReject  = "verify_reject"
)

// telegramNotifier is the telebot-backed outbound collaborator. The bot
// handle is bound on startup once the runtime has constructed it.
type telegramNotifier struct {
	access config.AccessConfig
	bot    atomic.Pointer[tele.Bot]
}

func newNotifier(access config.AccessConfig) *telegramNotifier {
	return &telegramNotifier{access: access}
}

// Bind attaches the started bot. Outbound calls fail until this runs.
func (n *telegramNotifier) Bind(b *tele.Bot) {
	n.bot.Store(b)
}

func (n *telegramNotifier) client() (*tele.Bot, error) {
	if b := n.bot.Load(); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("notifier: bot not started yet")
}

// ForwardSubmission sends the document photo with a summary caption and the
// approve/reject controls to the admin group.
func (n *telegramNotifier) ForwardSubmission(_ context.Context, req verify.Request) error {
	b, err := n.client()
	if err != nil {
		return err
	}

	username := "None"
	if req.Username != "" {
		username = "@" + req.Username
	}
	caption := fmt.Sprintf(
		"🆕 New Access Request\n\n"+
			"👤 Name: %s\n"+
			"📱 Phone: %s\n"+
			"🆔 User ID: %d\n"+
			"👥 Username: %s\n\n"+
			"Please review the document and approve or reject.",
		req.DisplayName(), req.Phone, req.UserID, username,
	)

	payload := strconv.FormatInt(req.UserID, 10)
	markup := &tele.ReplyMarkup{}
	markup.InlineKeyboard = keyboard.ToInlineKeyboard([][]tele.Btn{{
		markup.Data("✅ Approve", cbApprove, payload),
		markup.Data("❌ Reject", cbReject, payload),
	}})

	photo := &tele.Photo{File: tele.File{FileID: req.DocumentFileID}, Caption: caption}
	_, err = b.Send(tele.ChatID(n.access.AdminGroupID), photo, markup)
	return err
}

// CreateInvite creates a single-member invite link to the private group.
func (n *telegramNotifier) CreateInvite(context.Context) (string, error) {
	b, err := n.client()
	if err != nil {
		return "", err
	}
	link, err := b.CreateInviteLink(tele.ChatID(n.access.PrivateGroupID), &tele.ChatInviteLink{MemberLimit: 1})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// SendUser delivers a plain text message to the given private chat.
func (n *telegramNotifier) SendUser(_ context.Context, chatID int64, text string) error {
	b, err := n.client()
	if err != nil {
		return err
	}
	_, err = b.Send(tele.ChatID(chatID), text)
	return err
}
