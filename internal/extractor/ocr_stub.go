//go:build !ocr

package extractor

import "errors"

// ErrOCRNotEnabled is returned when OCR is requested but support was not
// compiled in. Rebuild with -tags ocr (requires Tesseract installed).
var ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// NewOCREngine reports that OCR support is not compiled in. Callers treat
// the error as "run without the OCR tier", not as a fatal condition.
func NewOCREngine() (OcrEngine, error) {
	return nil, ErrOCRNotEnabled
}
