// Package extract turns receipt image bytes into a structured guess.
// Both strategies satisfy the same fail-soft contract: Extract never
// returns an error, a failure comes back as a zero-confidence record
// with the cause logged.
package extract

import (
	"context"

	"telegram-receipt-bot/internal/model"
)

type Extractor interface {
	Extract(ctx context.Context, image []byte) model.RawExtraction
}

// failure is the zero-confidence record signalling that extraction
// produced nothing usable. Only the deployment currency is kept so the
// rest of the flow renders amounts consistently.
func failure(currency string) model.RawExtraction {
	return model.RawExtraction{Currency: currency}
}
