package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"telegram-receipt-bot/internal/model"
)

// patternConfidence is the fixed baseline for regex extraction. It is
// deliberately low: evidence strength is not measured, so the flow must
// always emphasize manual confirmation.
const patternConfidence = 0.3

// TextRecognizer produces raw text from image bytes. The real
// implementation drives Tesseract; tests supply canned text.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// totalPattern matches a money keyword followed by a numeric token.
// Receipts often print the total more than once (subtotal, bold grand
// total), so all matches are collected and the maximum wins.
var totalPattern = regexp.MustCompile(`(?i)(?:TOTAL|AMOUNT|BALANCE|SUBTOTAL)\s*:?\s*(?:USD|EUR|GBP|NGN|[$€£₦])?\s*([0-9][0-9.,]*)`)

// datePatterns are tried in fixed priority order, first match wins.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2}\b`),
}

var currencyMarkers = []struct {
	marker string
	code   string
}{
	{"₦", "NGN"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"$", "USD"},
}

var digitPattern = regexp.MustCompile(`\d`)

// Pattern extracts receipt fields by running OCR and applying regex
// rules over the recognized text.
type Pattern struct {
	recognizer TextRecognizer
	currency   string
	log        *logrus.Logger
}

func NewPattern(recognizer TextRecognizer, defaultCurrency string, log *logrus.Logger) *Pattern {
	return &Pattern{recognizer: recognizer, currency: defaultCurrency, log: log}
}

func (p *Pattern) Extract(ctx context.Context, image []byte) model.RawExtraction {
	text, err := p.recognizer.Recognize(ctx, image)
	if err != nil {
		p.log.WithError(err).Error("text recognition failed")
		return failure(p.currency)
	}
	if strings.TrimSpace(text) == "" {
		p.log.Warn("text recognition produced no text")
		return failure(p.currency)
	}

	raw := model.RawExtraction{
		Currency:   detectCurrency(text, p.currency),
		Confidence: patternConfidence,
		RawText:    text,
	}

	if total, ok := findTotal(text); ok {
		raw.Total = total
	}
	raw.Date = findDate(text)
	raw.Vendor = findVendor(text)
	return raw
}

// findTotal returns the largest amount following a money keyword.
func findTotal(text string) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, m := range totalPattern.FindAllStringSubmatch(text, -1) {
		amount, err := ParseAmount(m[1])
		if err != nil {
			continue
		}
		if !found || amount.GreaterThan(best) {
			best = amount
			found = true
		}
	}
	return best, found
}

func findDate(text string) string {
	for _, re := range datePatterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// findVendor approximates the letterhead: the first line among the top
// five that is short and contains no digits.
func findVendor(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 3 || len(line) > 40 {
			continue
		}
		if digitPattern.MatchString(line) {
			continue
		}
		return line
	}
	return ""
}

func detectCurrency(text, fallback string) string {
	for _, c := range currencyMarkers {
		if strings.Contains(text, c.marker) {
			return c.code
		}
	}
	return fallback
}

// ParseAmount parses a money token after stripping currency symbols,
// spaces and thousands separators. "1,234.50" and "1.234,56" both
// resolve to the obvious value.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	for _, c := range []string{"$", "€", "£", "₦", "USD", "EUR", "GBP", "NGN", " "} {
		s = strings.ReplaceAll(s, c, "")
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma != -1 && lastDot != -1 && lastComma > lastDot:
		// European style: dot groups thousands, comma is decimal.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma != -1 && lastDot == -1 && len(s)-lastComma-1 == 2:
		// Lone comma two digits from the end reads as a decimal mark.
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	return decimal.NewFromString(s)
}
