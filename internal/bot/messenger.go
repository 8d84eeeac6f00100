package bot

import (
	"sync"

	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/flow"
)

// Messenger delivers async flow replies. When a turn left a placeholder
// message ("Processing...", "Saving...") the completion rewrites that
// message in place instead of posting a new one.
type Messenger struct {
	b            *telebot.Bot
	mu           sync.Mutex
	placeholders map[int64]*telebot.Message
}

func NewMessenger(b *telebot.Bot) *Messenger {
	return &Messenger{b: b, placeholders: make(map[int64]*telebot.Message)}
}

// trackPlaceholder remembers the message the next async reply for this
// user should rewrite. A newer placeholder replaces an older one.
func (m *Messenger) trackPlaceholder(userID int64, msg *telebot.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	m.placeholders[userID] = msg
	m.mu.Unlock()
}

func (m *Messenger) takePlaceholder(userID int64) *telebot.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.placeholders[userID]
	delete(m.placeholders, userID)
	return msg
}

// Deliver renders an async flow reply, editing the tracked placeholder
// when there is one and falling back to a fresh message when the edit
// is rejected (e.g. the message is too old).
func (m *Messenger) Deliver(userID int64, r flow.Reply) error {
	if msg := m.takePlaceholder(userID); msg != nil {
		var err error
		if markup := choiceMarkup(r.Choices); markup != nil {
			_, err = m.b.Edit(msg, r.Text, markup)
		} else {
			_, err = m.b.Edit(msg, r.Text)
		}
		if err == nil {
			return nil
		}
	}
	return SendReply(m.b, telebot.ChatID(userID), r)
}