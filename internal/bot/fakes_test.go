package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/lehigh-university-libraries/listprint/pkg/render"
)

type outgoing struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  Keyboard
}

type answer struct {
	ID    string
	Text  string
	Alert bool
}

type fakeTransport struct {
	mu        sync.Mutex
	nextID    int
	sent      []outgoing
	edits     []outgoing
	images    [][]byte
	answers   []answer
	deleted   []int
	shown     []string
	files     map[string][]byte
	downloads int

	editErr   error
	deleteErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100, files: map[string][]byte{}}
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, outgoing{ChatID: chatID, MessageID: f.nextID, Text: text, Keyboard: kb})
	f.shown = append(f.shown, text)
	return f.nextID, nil
}

func (f *fakeTransport) EditText(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, outgoing{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	f.shown = append(f.shown, text)
	return nil
}

func (f *fakeTransport) SendImage(ctx context.Context, chatID int64, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, data)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{ID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

// lastText returns the most recent text the user saw, sent or edited.
func (f *fakeTransport) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.shown) == 0 {
		return ""
	}
	return f.shown[len(f.shown)-1]
}

func (f *fakeTransport) lastSent() outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return outgoing{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentSnapshot() []outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outgoing(nil), f.sent...)
}

func (f *fakeTransport) lastAnswer() answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return answer{}
	}
	return f.answers[len(f.answers)-1]
}

type fakeExtractor struct {
	mu     sync.Mutex
	text   string
	err    error
	calls  int
	inputs []providers.Input
	block  chan struct{}
	panic  bool
	// ignoreCancel makes a blocked call wait for block even after ctx ends
	ignoreCancel bool
}

func (f *fakeExtractor) Extract(ctx context.Context, in providers.Input) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, in)
	block := f.block
	f.mu.Unlock()

	if f.panic {
		panic("ocr exploded")
	}
	if block != nil {
		if f.ignoreCancel {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return f.text, f.err
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	mu          sync.Mutex
	texts       []string
	backgrounds [][]byte
	err         error
}

func (f *fakeRenderer) Render(text string, background []byte) (*render.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.backgrounds = append(f.backgrounds, background)
	if f.err != nil {
		return nil, f.err
	}
	return &render.Image{Data: []byte("\x89PNG fake"), Width: render.Width, Height: render.CanvasHeight(1), Lines: 1}, nil
}
