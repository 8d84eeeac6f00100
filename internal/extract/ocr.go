package extract

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text with the system tesseract installation.
// A fresh client per call keeps the cgo handle off long-lived state and
// makes concurrent recognitions independent.
type Tesseract struct {
	languages string
}

func NewTesseract(languages string) *Tesseract {
	if languages == "" {
		languages = "eng"
	}
	return &Tesseract{languages: languages}
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", err
	}
	return client.Text()
}
