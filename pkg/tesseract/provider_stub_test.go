//go:build !tesseract

package tesseract

import (
	"context"
	"errors"
	"testing"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
)

func TestNew_NotCompiled(t *testing.T) {
	p, err := New(Config{})
	if !errors.Is(err, ErrNotCompiled) {
		t.Fatalf("Expected ErrNotCompiled, got %v", err)
	}
	if p != nil {
		t.Error("Expected nil provider")
	}
}

func TestStub_RejectsPDFFirst(t *testing.T) {
	p := &Provider{}
	_, err := p.ExtractText(context.Background(), providers.Input{Data: []byte("%PDF"), IsPDF: true})
	if !errors.Is(err, ErrPDFUnsupported) {
		t.Errorf("Expected ErrPDFUnsupported, got %v", err)
	}
}
