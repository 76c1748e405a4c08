//go:build ocr

package extractor

import (
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// tesseractEngine recognizes page images with Tesseract via gosseract.
// Requires the tesseract library and eng.traineddata on the host.
type tesseractEngine struct {
	client *gosseract.Client
}

// NewOCREngine builds the Tesseract-backed OCR engine. Close it when done.
func NewOCREngine() (OcrEngine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	return &tesseractEngine{client: client}, nil
}

func (t *tesseractEngine) Recognize(image []byte) (string, error) {
	if err := t.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (t *tesseractEngine) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
