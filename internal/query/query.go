// Package query answers read-only aggregation questions over the
// committed ledger.
package query

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"telegram-receipt-bot/internal/ledger"
	"telegram-receipt-bot/internal/model"
)

// unknownCategory buckets rows whose category cell is empty.
const unknownCategory = "Unknown"

type Engine struct {
	ledger ledger.Ledger
}

func NewEngine(l ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// CategoryTotal is one row of the per-category breakdown.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// Statistics summarizes the whole ledger.
type Statistics struct {
	Count              int
	Total              decimal.Decimal
	Average            decimal.Decimal
	ByCategory         []CategoryTotal
	MostFrequentVendor string
}

// TransactionsFor returns rows whose name matches (case-insensitive
// exact match), in ledger insertion order. An empty name matches all.
func (e *Engine) TransactionsFor(ctx context.Context, name string) ([]model.Transaction, error) {
	rows, err := e.ledger.All(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return rows, nil
	}

	want := strings.ToLower(name)
	var out []model.Transaction
	for _, t := range rows {
		if strings.ToLower(t.Name) == want {
			out = append(out, t)
		}
	}
	return out, nil
}

// TotalFor sums amounts over the filtered set; an empty set sums to 0.
func (e *Engine) TotalFor(ctx context.Context, name string) (decimal.Decimal, error) {
	rows, err := e.TransactionsFor(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, t := range rows {
		total = total.Add(t.Amount)
	}
	return total, nil
}

// DistinctNames returns the deduplicated names as stored, sorted
// alphabetically.
func (e *Engine) DistinctNames(ctx context.Context) ([]string, error) {
	rows, err := e.ledger.All(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, t := range rows {
		if t.Name == "" {
			continue
		}
		if _, ok := seen[t.Name]; ok {
			continue
		}
		seen[t.Name] = struct{}{}
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Stats aggregates the whole ledger. Average is zero for an empty
// ledger; category totals come back sorted by amount descending.
func (e *Engine) Stats(ctx context.Context) (Statistics, error) {
	rows, err := e.ledger.All(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Count:   len(rows),
		Total:   decimal.Zero,
		Average: decimal.Zero,
	}

	byCategory := make(map[string]decimal.Decimal)
	vendorCounts := make(map[string]int)
	for _, t := range rows {
		stats.Total = stats.Total.Add(t.Amount)

		category := t.Category
		if category == "" {
			category = unknownCategory
		}
		byCategory[category] = byCategory[category].Add(t.Amount)

		if t.Name != "" {
			vendorCounts[t.Name]++
		}
	}

	if stats.Count > 0 {
		stats.Average = stats.Total.DivRound(decimal.NewFromInt(int64(stats.Count)), 2)
	}

	for category, total := range byCategory {
		stats.ByCategory = append(stats.ByCategory, CategoryTotal{Category: category, Total: total})
	}
	sort.Slice(stats.ByCategory, func(i, j int) bool {
		if !stats.ByCategory[i].Total.Equal(stats.ByCategory[j].Total) {
			return stats.ByCategory[i].Total.GreaterThan(stats.ByCategory[j].Total)
		}
		return stats.ByCategory[i].Category < stats.ByCategory[j].Category
	})

	best := 0
	for vendor, n := range vendorCounts {
		if n > best || (n == best && vendor < stats.MostFrequentVendor) {
			best = n
			stats.MostFrequentVendor = vendor
		}
	}
	return stats, nil
}
