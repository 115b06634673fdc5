// Package tesseract runs OCR in-process through libtesseract.
//
// The real engine is only compiled with the "tesseract" build tag, which
// requires the Tesseract and Leptonica development headers:
//
//	go build -tags tesseract
//
// Without the tag New returns ErrNotCompiled.
package tesseract

import (
	"errors"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
)

var (
	ErrNotCompiled    = errors.New("tesseract support not compiled in; rebuild with -tags tesseract")
	ErrPDFUnsupported = errors.New("the local OCR engine cannot read PDF files")
)

// DefaultLanguages is used when no language is configured.
var DefaultLanguages = []string{"eng"}

// Config holds configuration for the local engine.
type Config struct {
	Languages []string
}

func (c Config) languages() []string {
	if len(c.Languages) == 0 {
		return DefaultLanguages
	}
	return c.Languages
}

// checkInput rejects inputs the engine cannot process before any work is done.
func checkInput(in providers.Input) error {
	if in.IsPDF || in.MIMEType == "application/pdf" {
		return ErrPDFUnsupported
	}
	if len(in.Data) == 0 {
		return errors.New("empty image")
	}
	return nil
}
