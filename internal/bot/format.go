package bot

import (
	"fmt"
	"strings"

	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/flow"
	"telegram-receipt-bot/internal/model"
	"telegram-receipt-bot/internal/query"
)

// listedRows caps how many matches a /search reply prints.
const listedRows = 20

// SendReply renders a flow reply as a new message, with inline buttons
// in rows of three when the turn offers choices.
func SendReply(b *telebot.Bot, to telebot.Recipient, r flow.Reply) error {
	if markup := choiceMarkup(r.Choices); markup != nil {
		_, err := b.Send(to, r.Text, markup)
		return err
	}
	_, err := b.Send(to, r.Text)
	return err
}

// choiceMarkup builds the inline keyboard for a set of choices, three
// buttons per row. Nil when there are none.
func choiceMarkup(choices []flow.Choice) *telebot.ReplyMarkup {
	if len(choices) == 0 {
		return nil
	}

	markup := &telebot.ReplyMarkup{}
	var allRows []telebot.Row
	var row telebot.Row
	for i, choice := range choices {
		row = append(row, markup.Data(choice.Label, choice.Token))
		if (i+1)%3 == 0 || i == len(choices)-1 {
			allRows = append(allRows, row)
			row = telebot.Row{}
		}
	}
	markup.Inline(allRows...)
	return markup
}

func formatTransactions(name string, rows []model.Transaction) string {
	if len(rows) == 0 {
		if name == "" {
			return "The ledger is empty."
		}
		return fmt.Sprintf("No records for %q.", name)
	}

	var response strings.Builder
	if name == "" {
		fmt.Fprintf(&response, "%d records:\n", len(rows))
	} else {
		fmt.Fprintf(&response, "%d records for %q:\n", len(rows), name)
	}

	shown := rows
	if len(shown) > listedRows {
		shown = shown[len(shown)-listedRows:]
	}
	for _, t := range shown {
		category := t.Category
		if category == "" {
			category = "Unknown"
		}
		fmt.Fprintf(&response, "#%d  %s  %s  %s %s  (%s)\n",
			t.ID, t.Date, t.Name, t.Amount.StringFixed(2), t.Currency, category)
	}
	if n := len(rows) - listedRows; n > 0 {
		fmt.Fprintf(&response, "... and %d older records\n", n)
	}
	return response.String()
}

func formatStats(stats query.Statistics) string {
	if stats.Count == 0 {
		return "The ledger is empty."
	}

	var response strings.Builder
	response.WriteString("Ledger statistics\n\n")
	fmt.Fprintf(&response, "Records: %d\n", stats.Count)
	fmt.Fprintf(&response, "Total: %s\n", stats.Total.StringFixed(2))
	fmt.Fprintf(&response, "Average: %s\n", stats.Average.StringFixed(2))
	if stats.MostFrequentVendor != "" {
		fmt.Fprintf(&response, "Most frequent payee: %s\n", stats.MostFrequentVendor)
	}

	response.WriteString("\nBy category:\n")
	for _, c := range stats.ByCategory {
		fmt.Fprintf(&response, "  - %s: %s\n", c.Category, c.Total.StringFixed(2))
	}
	return response.String()
}
