package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the extraction backends the bot can run with.
type Kind string

const (
	// KindRemote is the Datalab Marker API.
	KindRemote Kind = "datalab"
	// KindLocal is the in-process Tesseract engine.
	KindLocal Kind = "tesseract"
)

var (
	ErrUnknownKind = errors.New("unknown OCR provider")
	ErrNoProvider  = errors.New("no OCR provider is active")
)

// ParseKind maps a configured provider name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(KindRemote), "remote":
		return KindRemote, nil
	case string(KindLocal), "local":
		return KindLocal, nil
	default:
		return "", fmt.Errorf("%w %q: valid values are %s or %s", ErrUnknownKind, name, KindRemote, KindLocal)
	}
}

// Input is one file submitted for extraction.
type Input struct {
	Data     []byte
	Filename string
	MIMEType string
	IsPDF    bool
}

// Provider interface that all OCR backends must implement
type Provider interface {
	// ExtractText returns the recognized text. An empty string with a nil
	// error means the backend found no text; any error means no result.
	ExtractText(ctx context.Context, in Input) (string, error)
	// Name returns the provider's name
	Name() string
}

// TruncateBody truncates a response body to a maximum length for error messages.
// Default maxLen is 500 if not specified.
func TruncateBody(body []byte, maxLen ...int) string {
	limit := 500
	if len(maxLen) > 0 && maxLen[0] > 0 {
		limit = maxLen[0]
	}
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "... (truncated)"
	}
	return s
}
