// Package flow drives the receipt conversation: photo in, extraction
// shown, confirm or edit field by field, commit to the ledger. It is
// transport-agnostic: inputs are text or choice tokens, outputs are
// Reply values the bot layer renders.
package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"telegram-receipt-bot/internal/extract"
	"telegram-receipt-bot/internal/ledger"
	"telegram-receipt-bot/internal/model"
	"telegram-receipt-bot/internal/normalize"
	"telegram-receipt-bot/internal/session"
	"telegram-receipt-bot/internal/tasks"
)

// Choice is one inline button: Label is shown, Token comes back through
// HandleChoice.
type Choice struct {
	Label string
	Token string
}

// Reply is what the user gets back for one turn.
type Reply struct {
	Text    string
	Choices []Choice
}

// Notifier delivers replies produced by async work (extraction, commit)
// after the originating turn already returned.
type Notifier func(userID int64, r Reply)

const (
	TokenAccept    = "accept"
	TokenEdit      = "edit"
	TokenReanalyze = "reanalyze"
	TokenCancel    = "cancel"
	TokenCategory  = "cat"
)

type Machine struct {
	sessions  *session.Store
	extractor extract.Extractor
	ledger    ledger.Ledger
	pool      *tasks.Pool
	notify    Notifier
	currency  string
	log       *logrus.Logger
}

func NewMachine(
	sessions *session.Store,
	extractor extract.Extractor,
	l ledger.Ledger,
	pool *tasks.Pool,
	notify Notifier,
	defaultCurrency string,
	log *logrus.Logger,
) *Machine {
	return &Machine{
		sessions:  sessions,
		extractor: extractor,
		ledger:    l,
		pool:      pool,
		notify:    notify,
		currency:  defaultCurrency,
		log:       log,
	}
}

// HandlePhoto starts a fresh extraction flow, overwriting any session
// the user already had. The heavy extractor call goes to the worker
// pool; the confirmation prompt arrives through the notifier.
func (m *Machine) HandlePhoto(ctx context.Context, user model.User, image []byte) Reply {
	sess := &model.Session{
		FlowID: uuid.NewString(),
		User:   user,
		State:  model.StateAwaitingConfirmation,
		Image:  image,
	}
	m.sessions.Put(user.ID, sess)

	if err := m.scheduleExtraction(ctx, sess); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"user_id": user.ID, "flow_id": sess.FlowID}).Error("could not schedule extraction")
		m.discard(user.ID, sess)
		return Reply{Text: "Sorry, I can't process receipts right now. Please try again later."}
	}
	return Reply{Text: "Processing your receipt, please wait..."}
}

// discard clears sess only while it is still the user's active session,
// leaving any newer session alone.
func (m *Machine) discard(userID int64, sess *model.Session) {
	m.sessions.With(userID, func(cur *model.Session) *model.Session {
		if cur == sess {
			return nil
		}
		return cur
	})
}

func (m *Machine) scheduleExtraction(ctx context.Context, sess *model.Session) error {
	userID := sess.User.ID
	flowID := sess.FlowID
	image := sess.Image
	return m.pool.Submit(ctx, func(ctx context.Context) {
		raw := m.extractor.Extract(ctx, image)
		candidate := normalize.Normalize(raw, m.currency)

		// The user may have cancelled or sent a newer photo while the
		// extractor was running; a stale result is discarded.
		applied := m.sessions.Update(userID, sess, func(cur *model.Session) {
			cur.Candidate = &candidate
		})
		if !applied {
			m.log.WithFields(logrus.Fields{"user_id": userID, "flow_id": flowID}).Debug("discarding extraction for replaced session")
			return
		}
		m.notify(userID, confirmationReply(candidate))
	})
}

// confirmationReply shows the candidate and the next-step buttons. A
// failed extraction never offers the accept button: there is nothing
// worth accepting, the user is steered to manual entry.
func confirmationReply(c model.Candidate) Reply {
	failed := c.Confidence == 0 && c.Vendor == "" && c.Amount.IsZero()
	if failed {
		return Reply{
			Text: "I couldn't read this receipt. You can enter the details manually or try again.",
			Choices: []Choice{
				{Label: "Enter manually", Token: TokenEdit},
				{Label: "Re-analyze", Token: TokenReanalyze},
				{Label: "Cancel", Token: TokenCancel},
			},
		}
	}
	return Reply{
		Text: "Here is what I found:\n\n" + normalize.Summary(c) + "\n\nSave this record?",
		Choices: []Choice{
			{Label: "Accept", Token: TokenAccept},
			{Label: "Edit", Token: TokenEdit},
			{Label: "Re-analyze", Token: TokenReanalyze},
			{Label: "Cancel", Token: TokenCancel},
		},
	}
}

// StartManual begins a field-by-field entry flow with no photo and no
// seeded defaults.
func (m *Machine) StartManual(user model.User) Reply {
	sess := &model.Session{
		FlowID: uuid.NewString(),
		User:   user,
		State:  model.StateAwaitingName,
	}
	m.sessions.Put(user.ID, sess)
	return Reply{Text: "Who was the payment to? Enter the payee or store name:"}
}

// Cancel clears the session from any state.
func (m *Machine) Cancel(user model.User) Reply {
	m.sessions.Clear(user.ID)
	return Reply{Text: "Operation cancelled. Send a receipt photo or /add to start again."}
}

// HandleChoice processes an inline button press. The token may carry an
// argument after a colon (category selection). The turn runs under the
// store lock, so concurrent presses and the extraction worker
// serialize; slow work (ledger writes, re-analysis) starts only after
// the lock is released.
func (m *Machine) HandleChoice(ctx context.Context, user model.User, token, arg string) Reply {
	var (
		reply  Reply
		commit *model.Transaction
		rerun  *model.Session
		flowID string
	)
	m.sessions.With(user.ID, func(sess *model.Session) *model.Session {
		if sess == nil {
			reply = Reply{Text: "That conversation has expired. Please send the receipt photo again."}
			return nil
		}
		flowID = sess.FlowID

		switch token {
		case TokenCancel:
			reply = Reply{Text: "Operation cancelled. Send a receipt photo or /add to start again."}
			return nil
		case TokenAccept:
			if sess.State != model.StateAwaitingConfirmation || sess.Candidate == nil {
				reply = Reply{Text: "There is nothing to save yet. Send a receipt photo first."}
				return sess
			}
			t := transactionFromCandidate(sess)
			commit = &t
			return nil
		case TokenEdit:
			reply = beginEdit(sess)
			return sess
		case TokenReanalyze:
			if len(sess.Image) == 0 {
				reply = Reply{Text: "There is no photo to re-analyze. Send a receipt photo first."}
				return sess
			}
			// A replacement session gets a fresh epoch, so an extraction
			// still running for an earlier press is discarded instead of
			// applied and announced twice.
			rerun = &model.Session{
				FlowID: uuid.NewString(),
				User:   sess.User,
				State:  model.StateAwaitingConfirmation,
				Image:  sess.Image,
			}
			reply = Reply{Text: "Analyzing the receipt again, please wait..."}
			return rerun
		case TokenCategory:
			if sess.State != model.StateAwaitingCategory {
				reply = Reply{Text: "Please finish the current step first, or /cancel to abort."}
				return sess
			}
			if !validCategory(arg) {
				reply = Reply{Text: "Please pick a category with the buttons above."}
				return sess
			}
			t := transactionFromDraft(sess, arg, m.currency)
			commit = &t
			return nil
		default:
			m.log.WithFields(logrus.Fields{"user_id": user.ID, "token": token}).Warn("unknown choice token")
			reply = Reply{Text: "Please use one of the buttons above."}
			return sess
		}
	})

	if commit != nil {
		return m.commit(ctx, user.ID, flowID, *commit)
	}
	if rerun != nil {
		if err := m.scheduleExtraction(ctx, rerun); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{"user_id": user.ID, "flow_id": rerun.FlowID}).Error("could not schedule re-analysis")
			m.discard(user.ID, rerun)
			return Reply{Text: "Sorry, I can't process receipts right now. Please try again later."}
		}
	}
	return reply
}

// transactionFromCandidate assembles the row an accepted extraction
// commits. Caller holds the turn lock.
func transactionFromCandidate(sess *model.Session) model.Transaction {
	c := sess.Candidate
	name := c.Vendor
	if name == "" {
		name = "Unknown"
	}
	return model.Transaction{
		Timestamp:     time.Now(),
		UserID:        sess.User.ID,
		UserName:      sess.User.DisplayName,
		Name:          name,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Date:          c.Date,
		Description:   c.Summary,
		Store:         c.Vendor,
		TransactionID: c.TransactionID,
		Confidence:    c.Confidence,
		ItemsCount:    len(c.Items),
		Summary:       c.Summary,
		HasImage:      len(sess.Image) > 0,
	}
}

// transactionFromDraft assembles the row a finished manual flow commits,
// merging extraction metadata when the flow started from a photo.
// Caller holds the turn lock.
func transactionFromDraft(sess *model.Session, category, defaultCurrency string) model.Transaction {
	t := model.Transaction{
		Timestamp: time.Now(),
		UserID:    sess.User.ID,
		UserName:  sess.User.DisplayName,
		Name:      sess.Draft.Name,
		Amount:    sess.Draft.Amount,
		Currency:  defaultCurrency,
		Date:      sess.Draft.Date,
		Category:  category,
		HasImage:  len(sess.Image) > 0,
	}
	if c := sess.Candidate; c != nil {
		t.Currency = c.Currency
		t.Description = c.Summary
		t.Store = c.Vendor
		t.TransactionID = c.TransactionID
		t.Confidence = c.Confidence
		t.ItemsCount = len(c.Items)
		t.Summary = c.Summary
	}
	return t
}

func beginEdit(sess *model.Session) Reply {
	sess.State = model.StateAwaitingName
	sess.Draft = model.Draft{}
	if c := sess.Candidate; c != nil {
		sess.Draft.DefaultName = c.Vendor
		if c.Amount.IsPositive() {
			sess.Draft.DefaultAmount = c.Amount
		}
		sess.Draft.DefaultDate = c.Date
	}

	if sess.Draft.DefaultName != "" {
		return Reply{Text: fmt.Sprintf("Who was the payment to? Enter a name or send an empty message to keep %q:", sess.Draft.DefaultName)}
	}
	return Reply{Text: "Who was the payment to? Enter the payee or store name:"}
}

// HandleText processes a plain message during manual entry, with the
// whole turn serialized through the store lock. Outside a collecting
// state the input is not part of any flow.
func (m *Machine) HandleText(ctx context.Context, user model.User, text string) (Reply, bool) {
	var reply Reply
	handled := false
	m.sessions.With(user.ID, func(sess *model.Session) *model.Session {
		if sess == nil {
			return nil
		}
		handled = true

		switch sess.State {
		case model.StateAwaitingName:
			reply = collectName(sess, text)
		case model.StateAwaitingAmount:
			reply = collectAmount(sess, text)
		case model.StateAwaitingDate:
			reply = collectDate(sess, text)
		case model.StateAwaitingConfirmation:
			if sess.Candidate == nil {
				reply = Reply{Text: "Still working on your receipt, one moment..."}
			} else {
				reply = Reply{Text: "Please use the buttons above, or /cancel to abort."}
			}
		case model.StateAwaitingCategory:
			reply = Reply{Text: "Please pick a category with the buttons above, or /cancel to abort."}
		default:
			handled = false
		}
		return sess
	})
	return reply, handled
}

func collectName(sess *model.Session, text string) Reply {
	name := strings.TrimSpace(text)
	if name == "" {
		name = sess.Draft.DefaultName
	}
	if name == "" {
		return Reply{Text: "The name can't be empty. Who was the payment to?"}
	}

	sess.Draft.Name = name
	sess.State = model.StateAwaitingAmount
	if sess.Draft.DefaultAmount.IsPositive() {
		return Reply{Text: fmt.Sprintf("How much was it? Enter an amount or send an empty message to keep %s:", sess.Draft.DefaultAmount.StringFixed(2))}
	}
	return Reply{Text: "How much was it? Enter the amount:"}
}

func collectAmount(sess *model.Session, text string) Reply {
	input := strings.TrimSpace(text)

	var amount = sess.Draft.DefaultAmount
	if input != "" {
		parsed, err := extract.ParseAmount(input)
		if err != nil {
			return Reply{Text: "I couldn't read that amount. Enter a number like 12.50:"}
		}
		amount = parsed
	}
	if !amount.IsPositive() {
		return Reply{Text: "The amount must be greater than zero. Enter the amount:"}
	}

	sess.Draft.Amount = amount
	sess.State = model.StateAwaitingDate
	if sess.Draft.DefaultDate != "" {
		return Reply{Text: fmt.Sprintf("What date was it? Enter YYYY-MM-DD, \"today\", or send an empty message to keep %s:", sess.Draft.DefaultDate)}
	}
	return Reply{Text: "What date was it? Enter YYYY-MM-DD or \"today\":"}
}

func collectDate(sess *model.Session, text string) Reply {
	input := strings.TrimSpace(text)

	var date string
	switch {
	case input == "":
		date = sess.Draft.DefaultDate
		if date == "" {
			date = normalize.Today()
		}
	case input == "today":
		date = normalize.Today()
	case normalize.ValidDate(input):
		date = input
	default:
		return Reply{Text: "I couldn't read that date. Use YYYY-MM-DD or \"today\":"}
	}

	sess.Draft.Date = date
	sess.State = model.StateAwaitingCategory

	choices := make([]Choice, 0, len(model.Categories))
	for _, c := range model.Categories {
		choices = append(choices, Choice{Label: c, Token: TokenCategory + ":" + c})
	}
	return Reply{Text: "Pick a category:", Choices: choices}
}

// commit appends the record on the worker pool. The session was already
// cleared under the turn lock, whether or not the write succeeds: a
// stuck session would block every following flow, and the user is told
// when the save failed.
func (m *Machine) commit(ctx context.Context, userID int64, flowID string, t model.Transaction) Reply {
	err := m.pool.Submit(ctx, func(ctx context.Context) {
		id, err := m.ledger.Append(ctx, t)
		if err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "flow_id": flowID}).Error("ledger append failed")
			m.notify(userID, Reply{Text: "Saving failed, the record was not stored. Please try again later."})
			return
		}
		m.notify(userID, Reply{Text: fmt.Sprintf(
			"Saved record #%d: %s, %s %s on %s.",
			id, t.Name, t.Amount.StringFixed(2), t.Currency, t.Date,
		)})
	})
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "flow_id": flowID}).Error("could not schedule ledger write")
		return Reply{Text: "Saving failed, the record was not stored. Please try again later."}
	}
	return Reply{Text: "Saving..."}
}

func validCategory(c string) bool {
	for _, known := range model.Categories {
		if known == c {
			return true
		}
	}
	return false
}