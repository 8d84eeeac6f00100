package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          int64
	Username    string
	DisplayName string
}

// LineItem is a single purchased item read off a receipt.
type LineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// RawExtraction is the output of one extractor call. A Confidence of 0
// together with empty fields marks a failed extraction, as opposed to a
// low-confidence but usable one.
type RawExtraction struct {
	Vendor        string
	Total         decimal.Decimal
	Currency      string
	Date          string
	TransactionID string
	Items         []LineItem
	Summary       string
	Confidence    float64
	RawText       string
}

// Failed reports whether this extraction carries no usable data.
func (r RawExtraction) Failed() bool {
	return r.Confidence == 0 && r.Vendor == "" && r.Total.IsZero()
}

// Candidate is an in-flight receipt interpretation awaiting user
// confirmation. It only ever lives inside a Session.
type Candidate struct {
	Vendor        string
	Amount        decimal.Decimal
	Currency      string
	Date          string
	TransactionID string
	Items         []LineItem
	Summary       string
	Confidence    float64
	RawText       string
}

type State int

const (
	StateAwaitingConfirmation State = iota + 1
	StateAwaitingName
	StateAwaitingAmount
	StateAwaitingDate
	StateAwaitingCategory
)

// Draft holds the manual-entry answers collected field by field, plus the
// defaults seeded from the candidate when the user chooses to edit.
type Draft struct {
	Name          string
	Amount        decimal.Decimal
	Date          string
	DefaultName   string
	DefaultAmount decimal.Decimal
	DefaultDate   string
}

// Session is the per-user conversation state. One active session per user;
// a new photo or /add overwrites any prior one. Image bytes never leave the
// session, only a has-image flag is persisted.
type Session struct {
	// FlowID correlates log lines across the async hops of one flow.
	FlowID string

	User      User
	State     State
	Image     []byte
	Candidate *Candidate
	Draft     Draft

	// Epoch is stamped by the session store on every Put. Async work
	// captures it and discards its result if the session was replaced
	// or cleared in the meantime.
	Epoch uint64
}

// Transaction is one committed ledger row. Immutable once appended.
type Transaction struct {
	ID            int64
	Timestamp     time.Time
	UserID        int64
	UserName      string
	Name          string
	Amount        decimal.Decimal
	Currency      string
	Date          string
	Category      string
	Description   string
	Store         string
	TransactionID string
	Confidence    float64
	ItemsCount    int
	Summary       string
	HasImage      bool
}

// Categories offered during manual entry. Free-form strings may still
// appear in rows written by other clients; queries group them as-is.
var Categories = []string{
	"Food",
	"Transport",
	"Shopping",
	"Utilities",
	"Entertainment",
	"Health",
	"Other",
}
