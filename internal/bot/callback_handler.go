package bot

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/flow"
	"telegram-receipt-bot/internal/model"
)

type callbackHandler struct {
	b         *telebot.Bot
	messenger *Messenger
	machine   *flow.Machine
	log       *logrus.Logger
}

func newCallbackHandler(b *telebot.Bot, messenger *Messenger, machine *flow.Machine, log *logrus.Logger) *callbackHandler {
	return &callbackHandler{b: b, messenger: messenger, machine: machine, log: log}
}

func (h *callbackHandler) handleCallback(c *telebot.Callback) error {
	// Telegram prefixes callback data with \f; the token may carry an
	// argument after a colon, e.g. "cat:Food".
	data := strings.ReplaceAll(c.Data, "\f", "")
	token, arg, _ := strings.Cut(strings.TrimSpace(data), ":")
	if token == "" {
		h.log.WithField("userId", c.Sender.ID).Warn("empty callback data")
		return nil
	}

	h.log.WithFields(logrus.Fields{"userId": c.Sender.ID, "token": token}).Info("processing callback")

	// Ack the button press so the client stops the spinner.
	if err := h.b.Respond(c); err != nil {
		h.log.WithError(err).WithField("userId", c.Sender.ID).Warn("callback ack failed")
	}

	reply := h.machine.HandleChoice(context.Background(), callbackUser(c), token, arg)

	// Rewrite the message the buttons hung off rather than piling up new
	// ones; tokens that start async work leave it as the placeholder for
	// the completion reply.
	if c.Message != nil {
		var edited *telebot.Message
		var err error
		if markup := choiceMarkup(reply.Choices); markup != nil {
			edited, err = h.b.Edit(c.Message, reply.Text, markup)
		} else {
			edited, err = h.b.Edit(c.Message, reply.Text)
		}
		if err == nil {
			switch token {
			case flow.TokenAccept, flow.TokenReanalyze, flow.TokenCategory:
				h.messenger.trackPlaceholder(c.Sender.ID, edited)
			}
			return nil
		}
		h.log.WithError(err).WithField("userId", c.Sender.ID).Warn("editing callback message failed")
	}
	return SendReply(h.b, c.Sender, reply)
}

func callbackUser(c *telebot.Callback) model.User {
	display := strings.TrimSpace(strings.TrimSpace(c.Sender.FirstName) + " " + strings.TrimSpace(c.Sender.LastName))
	if display == "" {
		display = c.Sender.Username
	}
	return model.User{
		ID:          c.Sender.ID,
		Username:    c.Sender.Username,
		DisplayName: display,
	}
}
