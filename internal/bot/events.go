package bot

import (
	"context"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/lehigh-university-libraries/listprint/pkg/render"
)

// File describes an inbound attachment. Size is the size declared by the
// transport and may be zero when unknown.
type File struct {
	ID       string
	Name     string
	MIMEType string
	Size     int64
	Photo    bool
}

// Message is an inbound chat message. Command is set without the leading
// slash when the text starts with one.
type Message struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Text      string
	Command   string
	File      *File
}

// Callback is an inline button press.
type Callback struct {
	ID        string
	UserID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Transport sends replies to the chat platform. Text is HTML formatted.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	SendImage(ctx context.Context, chatID int64, filename string, data []byte) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Extractor is the OCR backend in use. *providers.Selector implements it.
type Extractor interface {
	Extract(ctx context.Context, in providers.Input) (string, error)
}

// Renderer draws confirmed text. *render.Renderer implements it.
type Renderer interface {
	Render(text string, background []byte) (*render.Image, error)
}
