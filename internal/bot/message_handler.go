package bot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/flow"
	"telegram-receipt-bot/internal/model"
	"telegram-receipt-bot/internal/query"
)

type messageHandler struct {
	b         *telebot.Bot
	messenger *Messenger
	machine   *flow.Machine
	engine    *query.Engine
	log       *logrus.Logger
}

func newMessageHandler(b *telebot.Bot, messenger *Messenger, machine *flow.Machine, engine *query.Engine, log *logrus.Logger) *messageHandler {
	return &messageHandler{b: b, messenger: messenger, machine: machine, engine: engine, log: log}
}

func (h *messageHandler) handleStart(m *telebot.Message) error {
	name := m.Sender.FirstName
	if name == "" {
		name = m.Sender.Username
	}
	welcomeText := fmt.Sprintf(
		"Hello %s!\n\n"+
			"I record your payment receipts.\n\n"+
			"Send me a photo of a receipt and I will:\n"+
			"1. Read it\n"+
			"2. Show you what I found\n"+
			"3. Save a confirmed record to the ledger\n\n"+
			"Send a receipt photo to get started, or /help for all commands.",
		name,
	)
	_, err := h.b.Send(m.Sender, welcomeText)
	return err
}

func (h *messageHandler) handleHelp(m *telebot.Message) error {
	helpMessage := "How to use this bot:\n\n" +
		"1. Take a clear photo of your receipt\n" +
		"2. Send it here\n" +
		"3. Check the extracted data, accept it or edit it\n\n" +
		"Tips for better results: good lighting, receipt flat, whole receipt in frame.\n\n" +
		"Commands:\n" +
		"/add - record a payment without a photo\n" +
		"/search <name> - records for a payee\n" +
		"/total <name> - total amount for a payee\n" +
		"/list - all payee names\n" +
		"/stats - ledger statistics\n" +
		"/cancel - cancel the current operation\n" +
		"/help - show this help"

	_, err := h.b.Send(m.Sender, helpMessage)
	return err
}

func (h *messageHandler) handleAdd(m *telebot.Message) error {
	reply := h.machine.StartManual(senderUser(m))
	return h.sendReply(m.Sender, reply)
}

func (h *messageHandler) handleCancel(m *telebot.Message) error {
	reply := h.machine.Cancel(senderUser(m))
	return h.sendReply(m.Sender, reply)
}

func (h *messageHandler) handlePhoto(m *telebot.Message) error {
	if m.Photo == nil {
		_, err := h.b.Send(m.Sender, "Please send the receipt as a photo.")
		return err
	}

	// telebot already resolves Photo to the largest size Telegram offers.
	rc, err := h.b.File(&m.Photo.File)
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("photo download failed")
		_, sendErr := h.b.Send(m.Sender, "I couldn't download that photo, please send it again.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}
	defer rc.Close()

	image, err := io.ReadAll(rc)
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("photo read failed")
		_, sendErr := h.b.Send(m.Sender, "I couldn't download that photo, please send it again.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}

	reply := h.machine.HandlePhoto(context.Background(), senderUser(m), image)
	sent, err := h.b.Send(m.Sender, reply.Text)
	if err != nil {
		return err
	}
	// The extraction result rewrites this message in place.
	h.messenger.trackPlaceholder(m.Sender.ID, sent)
	return nil
}

func (h *messageHandler) handleOnText(m *telebot.Message) error {
	reply, handled := h.machine.HandleText(context.Background(), senderUser(m), m.Text)
	if !handled {
		_, err := h.b.Send(m.Sender, "Send a receipt photo, or /help for the command list.")
		return err
	}
	return h.sendReply(m.Sender, reply)
}

func (h *messageHandler) handleSearch(m *telebot.Message) error {
	name := strings.TrimSpace(m.Payload)
	rows, err := h.engine.TransactionsFor(context.Background(), name)
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("search failed")
		_, sendErr := h.b.Send(m.Sender, "The ledger is unavailable right now, please try again later.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}
	_, err = h.b.Send(m.Sender, formatTransactions(name, rows))
	return err
}

func (h *messageHandler) handleTotal(m *telebot.Message) error {
	name := strings.TrimSpace(m.Payload)
	total, err := h.engine.TotalFor(context.Background(), name)
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("total failed")
		_, sendErr := h.b.Send(m.Sender, "The ledger is unavailable right now, please try again later.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}

	var text string
	if name == "" {
		text = fmt.Sprintf("Total across all records: %s", total.StringFixed(2))
	} else {
		text = fmt.Sprintf("Total for %q: %s", name, total.StringFixed(2))
	}
	_, err = h.b.Send(m.Sender, text)
	return err
}

func (h *messageHandler) handleList(m *telebot.Message) error {
	names, err := h.engine.DistinctNames(context.Background())
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("list failed")
		_, sendErr := h.b.Send(m.Sender, "The ledger is unavailable right now, please try again later.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}

	if len(names) == 0 {
		_, err := h.b.Send(m.Sender, "The ledger is empty.")
		return err
	}

	var response strings.Builder
	response.WriteString("Recorded payees:\n")
	for _, n := range names {
		response.WriteString("- " + n + "\n")
	}
	_, err = h.b.Send(m.Sender, response.String())
	return err
}

func (h *messageHandler) handleStats(m *telebot.Message) error {
	stats, err := h.engine.Stats(context.Background())
	if err != nil {
		h.log.WithError(err).WithField("userId", m.Sender.ID).Error("stats failed")
		_, sendErr := h.b.Send(m.Sender, "The ledger is unavailable right now, please try again later.")
		if sendErr != nil {
			return fmt.Errorf("%v: %w", err, sendErr)
		}
		return err
	}
	_, err = h.b.Send(m.Sender, formatStats(stats))
	return err
}

// sendReply renders a flow reply, attaching inline buttons when the
// turn offers choices.
func (h *messageHandler) sendReply(to *telebot.User, r flow.Reply) error {
	return SendReply(h.b, to, r)
}

func senderUser(m *telebot.Message) model.User {
	display := strings.TrimSpace(strings.TrimSpace(m.Sender.FirstName) + " " + strings.TrimSpace(m.Sender.LastName))
	if display == "" {
		display = m.Sender.Username
	}
	return model.User{
		ID:          m.Sender.ID,
		Username:    m.Sender.Username,
		DisplayName: display,
	}
}
