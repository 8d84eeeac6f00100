package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"telegram-receipt-bot/internal/model"
)

// receiptJSON mirrors the schema the vision model is instructed to
// return. decimal.Decimal accepts both quoted and bare numbers, which
// covers models that stringify amounts.
type receiptJSON struct {
	StoreName     string          `json:"store_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Date          string          `json:"date"`
	Currency      string          `json:"currency"`
	Recipient     string          `json:"recipient"`
	TransactionID string          `json:"transaction_id"`
	Items         []itemJSON      `json:"items"`
	Summary       string          `json:"summary"`
	Confidence    float64         `json:"confidence"`
}

type itemJSON struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// parseModelResponse decodes a model reply into a RawExtraction. Models
// routinely ignore "no markdown" instructions, so fences and surrounding
// prose are stripped before the JSON object is decoded. Missing keys get
// the documented defaults rather than failing the extraction.
func parseModelResponse(text, defaultCurrency string) (model.RawExtraction, error) {
	clean, err := extractJSONObject(text)
	if err != nil {
		return model.RawExtraction{}, err
	}

	var r receiptJSON
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return model.RawExtraction{}, fmt.Errorf("unmarshaling receipt json: %w", err)
	}

	vendor := strings.TrimSpace(r.StoreName)
	if vendor == "" {
		vendor = strings.TrimSpace(r.Recipient)
	}

	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	items := make([]model.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		items = append(items, model.LineItem{
			Name:     strings.TrimSpace(it.Name),
			Price:    it.Price,
			Quantity: qty,
		})
	}

	confidence := r.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return model.RawExtraction{
		Vendor:        vendor,
		Total:         r.TotalAmount,
		Currency:      currency,
		Date:          strings.TrimSpace(r.Date),
		TransactionID: strings.TrimSpace(r.TransactionID),
		Items:         items,
		Summary:       strings.TrimSpace(r.Summary),
		Confidence:    confidence,
		RawText:       clean,
	}, nil
}

// extractJSONObject strips markdown code fences and any prose around the
// first balanced-looking JSON object in the reply.
func extractJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object in model response")
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return "", fmt.Errorf("unterminated JSON object in model response")
	}
	return s[start : end+1], nil
}
