// Package normalize turns a raw extraction into a candidate record with
// clean fields and deployment defaults filled in.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"telegram-receipt-bot/internal/model"
)

const (
	// textCap bounds raw text and summary storage so a single receipt
	// cannot blow up the persisted row.
	textCap = 1000

	// displayItems is how many line items the summary shows before
	// collapsing the rest into "+N more".
	displayItems = 3

	dateLayout = "2006-01-02"
)

// Normalize cleans a raw extraction: unparsable or missing dates become
// today's local date, negative amounts clamp to zero, oversized text is
// truncated. The full item list is retained; trimming is display-only.
func Normalize(raw model.RawExtraction, defaultCurrency string) model.Candidate {
	currency := raw.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	amount := raw.Total
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return model.Candidate{
		Vendor:        strings.TrimSpace(raw.Vendor),
		Amount:        amount,
		Currency:      currency,
		Date:          normalizeDate(raw.Date),
		TransactionID: raw.TransactionID,
		Items:         raw.Items,
		Summary:       truncate(raw.Summary, textCap),
		Confidence:    raw.Confidence,
		RawText:       truncate(raw.RawText, textCap),
	}
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(dateLayout, s); err == nil {
		return s
	}
	return Today()
}

// Today returns the current local date in ISO form.
func Today() string {
	return time.Now().Format(dateLayout)
}

// ValidDate reports whether s parses as an ISO date.
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// truncate cuts s to at most n bytes without splitting a multi-byte
// rune; OCR text is routinely non-ASCII and a torn rune would store
// invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Summary renders a candidate for the confirmation message.
func Summary(c model.Candidate) string {
	var b strings.Builder

	vendor := c.Vendor
	if vendor == "" {
		vendor = "not found"
	}
	fmt.Fprintf(&b, "Store: %s\n", vendor)
	fmt.Fprintf(&b, "Total: %s %s\n", c.Amount.StringFixed(2), c.Currency)
	fmt.Fprintf(&b, "Date: %s\n", c.Date)
	if c.TransactionID != "" {
		fmt.Fprintf(&b, "Reference: %s\n", c.TransactionID)
	}

	if len(c.Items) > 0 {
		b.WriteString("Items:\n")
		shown := c.Items
		if len(shown) > displayItems {
			shown = shown[:displayItems]
		}
		for _, it := range shown {
			if it.Quantity > 1 {
				fmt.Fprintf(&b, "  - %s x%d  %s\n", it.Name, it.Quantity, it.Price.StringFixed(2))
			} else {
				fmt.Fprintf(&b, "  - %s  %s\n", it.Name, it.Price.StringFixed(2))
			}
		}
		if n := len(c.Items) - displayItems; n > 0 {
			fmt.Fprintf(&b, "  +%d more\n", n)
		}
	}

	if c.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", c.Summary)
	}
	fmt.Fprintf(&b, "Confidence: %.0f%%", c.Confidence*100)
	return b.String()
}
