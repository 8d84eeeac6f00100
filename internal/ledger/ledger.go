// Package ledger persists committed transaction records to a row store.
package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"telegram-receipt-bot/internal/model"
)

// Ledger is the append-mostly row store of committed records. Append
// assigns the row id as max(existing numeric ids)+1; non-numeric id
// cells are skipped, an empty ledger starts at 1. Two near-simultaneous
// appends may race on that allocation; the id is a display convenience,
// not a join key, so no transactional guarantee is attempted.
type Ledger interface {
	Append(ctx context.Context, t model.Transaction) (int64, error)
	All(ctx context.Context) ([]model.Transaction, error)
}

// Header is the fixed first row of the backing sheet. Rewritten on
// connect when absent or short.
var Header = []string{
	"ID",
	"Timestamp",
	"User ID",
	"Username",
	"Name",
	"Amount",
	"Currency",
	"Date",
	"Category",
	"Description",
	"Store",
	"Transaction ID",
	"Confidence",
	"Items Count",
	"Summary",
	"Has Image",
}

func toRow(t model.Transaction) []interface{} {
	return []interface{}{
		strconv.FormatInt(t.ID, 10),
		t.Timestamp.Format(time.RFC3339),
		strconv.FormatInt(t.UserID, 10),
		t.UserName,
		t.Name,
		t.Amount.StringFixed(2),
		t.Currency,
		t.Date,
		t.Category,
		t.Description,
		t.Store,
		t.TransactionID,
		strconv.FormatFloat(t.Confidence, 'f', 2, 64),
		strconv.Itoa(t.ItemsCount),
		t.Summary,
		strconv.FormatBool(t.HasImage),
	}
}

// fromRow decodes one sheet row leniently: rows written by hand or by
// older clients may be short or carry junk in numeric cells, and a bad
// row must not poison a whole query.
func fromRow(row []interface{}) model.Transaction {
	var t model.Transaction
	t.ID, _ = strconv.ParseInt(cell(row, 0), 10, 64)
	t.Timestamp, _ = time.Parse(time.RFC3339, cell(row, 1))
	t.UserID, _ = strconv.ParseInt(cell(row, 2), 10, 64)
	t.UserName = cell(row, 3)
	t.Name = cell(row, 4)
	if amount, err := decimal.NewFromString(cell(row, 5)); err == nil {
		t.Amount = amount
	}
	t.Currency = cell(row, 6)
	t.Date = cell(row, 7)
	t.Category = cell(row, 8)
	t.Description = cell(row, 9)
	t.Store = cell(row, 10)
	t.TransactionID = cell(row, 11)
	t.Confidence, _ = strconv.ParseFloat(cell(row, 12), 64)
	t.ItemsCount, _ = strconv.Atoi(cell(row, 13))
	t.Summary = cell(row, 14)
	t.HasImage = cell(row, 15) == "true"
	return t
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

// nextID computes the next row id from the raw id column values.
func nextID(ids []string) int64 {
	var max int64
	for _, s := range ids {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		if id > max {
			max = id
		}
	}
	return max + 1
}
