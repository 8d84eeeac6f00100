package extract

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"telegram-receipt-bot/internal/model"
)

const receiptPrompt = `You are a receipt and payment-screenshot parser.
Analyze the attached image and output STRICT JSON only (no comments, no extra text).

The JSON object must have exactly these fields:
- "store_name": string, the vendor or store name ("" if unreadable)
- "total_amount": number, the final total paid (0 if unreadable)
- "date": string, ISO format "YYYY-MM-DD" ("" if unreadable)
- "currency": string, e.g. "USD" ("" if unknown)
- "recipient": string, payee for transfers ("" if not a transfer)
- "transaction_id": string, reference number if printed ("" otherwise)
- "items": array of {"name": string, "price": number, "quantity": number}
- "summary": string, one short sentence describing the purchase
- "confidence": number between 0 and 1, your overall certainty

Return ONLY valid raw JSON.
Do NOT wrap the response in code fences.
Do NOT use ` + "```json" + ` or any Markdown.
Output must begin with "{" and end with "}".`

const geminiTimeout = 30 * time.Second

// Gemini extracts receipt fields with a vision-capable Gemini model.
type Gemini struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	currency string
	log      *logrus.Logger
}

func NewGemini(ctx context.Context, apiKey, modelName, defaultCurrency string, log *logrus.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{
		client:   client,
		model:    client.GenerativeModel(modelName),
		currency: defaultCurrency,
		log:      log,
	}, nil
}

func (g *Gemini) Extract(ctx context.Context, image []byte) model.RawExtraction {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	parts := []genai.Part{
		genai.ImageData("jpeg", image),
		genai.Text(receiptPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		g.log.WithError(err).Error("gemini request failed")
		return failure(g.currency)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		g.log.Error("gemini returned no candidates")
		return failure(g.currency)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	raw, err := parseModelResponse(text.String(), g.currency)
	if err != nil {
		g.log.WithError(err).WithField("response", text.String()).Error("unparseable gemini response")
		return failure(g.currency)
	}
	return raw
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
