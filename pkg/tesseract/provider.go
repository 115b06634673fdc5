//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/otiai10/gosseract/v2"
)

// Provider implements the local Tesseract OCR provider
type Provider struct {
	languages []string
	newClient func() *gosseract.Client
}

// New creates the engine and runs one recognition on a blank image so a
// missing library or language pack surfaces here instead of on first use.
func New(cfg Config) (*Provider, error) {
	p := &Provider{
		languages: cfg.languages(),
		newClient: gosseract.NewClient,
	}

	blank := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range blank.Pix {
		blank.Pix[i] = color.White.Y
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, blank); err != nil {
		return nil, err
	}
	if _, err := p.recognize(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("tesseract warmup (languages %s): %w", strings.Join(p.languages, "+"), err)
	}

	slog.Info("Tesseract engine ready", "languages", p.languages, "version", gosseract.Version())
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return string(providers.KindLocal)
}

// ExtractText recognizes text in an image. The cgo call cannot be interrupted,
// so on cancellation the result is abandoned and the goroutine finishes alone.
func (p *Provider) ExtractText(ctx context.Context, in providers.Input) (string, error) {
	if err := checkInput(in); err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.recognize(in.Data)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		slog.Debug("Tesseract recognition complete", "filename", in.Filename, "length", len(r.text))
		return r.text, nil
	}
}

func (p *Provider) recognize(data []byte) (string, error) {
	c := p.newClient()
	defer c.Close()

	if err := c.SetLanguage(p.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
