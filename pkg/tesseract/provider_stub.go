//go:build !tesseract

package tesseract

import (
	"context"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
)

// Provider is a placeholder used when the engine is not compiled in.
type Provider struct{}

// New always fails with ErrNotCompiled.
func New(cfg Config) (*Provider, error) {
	return nil, ErrNotCompiled
}

func (p *Provider) Name() string {
	return string(providers.KindLocal)
}

func (p *Provider) ExtractText(ctx context.Context, in providers.Input) (string, error) {
	if err := checkInput(in); err != nil {
		return "", err
	}
	return "", ErrNotCompiled
}
