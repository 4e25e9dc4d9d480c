package bot

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/rrader/po2bot/core/telegram/callbacks"
	tghelpers "github.com/rrader/po2bot/core/telegram/helpers"
	"github.com/rrader/po2bot/core/telegram/keyboard"
	"github.com/rrader/po2bot/verify"
)

const contactButtonLabel = "📱 Share Phone Number"

// conversation adapts verify.Flow to the router.FSM contract so the message
// router can dispatch in-flow updates to it.
type conversation struct {
	flow *verify.Flow
}

func (cv conversation) InProgress(userID int64) bool {
	return cv.flow.InProgress(userID)
}

func (cv conversation) ManagerHandler(c tele.Context) error {
	reply, err := cv.flow.Handle(tghelpers.BuildContext(c), eventFrom(c))
	if err != nil {
		return err
	}
	return sendReply(c, reply)
}

// eventFrom reduces a Telegram update to the flow's input shape.
func eventFrom(c tele.Context) verify.Event {
	sender := c.Sender()
	ev := verify.Event{
		UserID:    sender.ID,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
		Username:  sender.Username,
		Text:      c.Text(),
	}
	if chat := c.Chat(); chat != nil {
		ev.ChatID = chat.ID
	}
	if msg := c.Message(); msg != nil {
		if msg.Contact != nil {
			ev.Contact = &verify.Contact{
				Phone:   msg.Contact.PhoneNumber,
				OwnerID: msg.Contact.UserID,
			}
		}
		if msg.Photo != nil {
			ev.PhotoID = msg.Photo.FileID
		}
	}
	return ev
}

func sendReply(c tele.Context, reply verify.Reply) error {
	if reply.Text == "" {
		return nil
	}
	switch reply.Keyboard {
	case verify.KeyboardContact:
		return tghelpers.SendText(c, reply.Text, &tele.SendOptions{
			ReplyMarkup: keyboard.ContactKeyboard(contactButtonLabel),
		})
	case verify.KeyboardRemove:
		return tghelpers.SendText(c, reply.Text, &tele.SendOptions{
			ReplyMarkup: keyboard.RemoveKeyboard(),
		})
	default:
		return tghelpers.SendText(c, reply.Text)
	}
}

func (a *App) startHandler(c tele.Context) error {
	reply, err := a.flow.Start(tghelpers.BuildContext(c), eventFrom(c))
	if err != nil {
		return err
	}
	return sendReply(c, reply)
}

func (a *App) cancelHandler(c tele.Context) error {
	reply, err := a.flow.Cancel(tghelpers.BuildContext(c), eventFrom(c))
	if err != nil {
		return err
	}
	return sendReply(c, reply)
}

func (a *App) statusHandler(c tele.Context) error {
	return sendReply(c, a.flow.StatusReport(tghelpers.BuildContext(c), c.Sender().ID))
}

// decisionHandler resolves a pending request from an admin button press.
// The target user id travels in the callback payload.
func (a *App) decisionHandler(outcome verify.Outcome) tele.HandlerFunc {
	return func(c tele.Context) error {
		userID, err := callbacks.PayloadInt64(c)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Malformed decision payload"})
		}

		actor := strings.TrimSpace(c.Sender().FirstName)
		if actor == "" {
			actor = c.Sender().Username
		}

		dec, err := a.decider.Decide(tghelpers.BuildContext(c), userID, outcome, actor)
		if errors.Is(err, verify.ErrAlreadyHandled) {
			_ = appendCaption(c, "\n\n❌ Request expired or already processed.")
			return c.Respond(&tele.CallbackResponse{Text: "Already handled"})
		}
		if err != nil {
			_ = c.Respond(&tele.CallbackResponse{Text: "Decision failed, try again"})
			return err
		}

		_ = appendCaption(c, decisionSuffix(dec))
		return c.Respond(&tele.CallbackResponse{Text: "Decision recorded"})
	}
}

func decisionSuffix(dec verify.Decision) string {
	switch {
	case dec.Outcome == verify.OutcomeApprove && dec.DeliveryFailed:
		return fmt.Sprintf("\n\n⚠️ APPROVED by %s (invite delivery failed)", dec.Actor)
	case dec.Outcome == verify.OutcomeApprove:
		return fmt.Sprintf("\n\n✅ APPROVED by %s", dec.Actor)
	default:
		return fmt.Sprintf("\n\n❌ REJECTED by %s", dec.Actor)
	}
}

// appendCaption adds a status line to the admin submission caption so the
// decision trail stays visible in the group.
func appendCaption(c tele.Context, suffix string) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}
	return c.EditCaption(msg.Caption + suffix)
}
