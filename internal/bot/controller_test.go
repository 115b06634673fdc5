package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/listprint/pkg/render"
)

const (
	userID = int64(42)
	chatID = int64(4200)
)

type harness struct {
	t         *testing.T
	transport *fakeTransport
	extractor *fakeExtractor
	renderer  *fakeRenderer
	ctrl      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		extractor: &fakeExtractor{text: "Milk\nEggs\nBread"},
		renderer:  &fakeRenderer{},
	}
	h.ctrl = New(Options{
		Transport: h.transport,
		Extractor: h.extractor,
		Renderer:  h.renderer,
		Settings:  DefaultSettings(),
	})
	return h
}

func (h *harness) state() State {
	return h.ctrl.sessions.Get(userID).State
}

func (h *harness) sendPhoto(fileID string, size int64) {
	h.ctrl.HandleMessage(context.Background(), Message{
		UserID: userID, ChatID: chatID, MessageID: 7,
		File: &File{ID: fileID, Size: size, Photo: true},
	})
}

func (h *harness) sendDocument(f File) {
	h.ctrl.HandleMessage(context.Background(), Message{UserID: userID, ChatID: chatID, MessageID: 8, File: &f})
}

func (h *harness) sendText(text string) {
	h.ctrl.HandleMessage(context.Background(), Message{UserID: userID, ChatID: chatID, MessageID: 9, Text: text})
}

func (h *harness) command(name string) {
	h.ctrl.HandleMessage(context.Background(), Message{UserID: userID, ChatID: chatID, MessageID: 10, Text: "/" + name, Command: name})
}

func (h *harness) press(data string) {
	h.ctrl.HandleCallback(context.Background(), Callback{ID: "cb-" + data, UserID: userID, ChatID: chatID, MessageID: 500, Data: data})
}

// reachConfirmation uploads a photo whose OCR returns text.
func (h *harness) reachConfirmation(text string) {
	h.t.Helper()
	h.extractor.text = text
	h.transport.files["photo-1"] = []byte("jpeg-bytes")
	h.sendPhoto("photo-1", 2048)
	require.Equal(h.t, AwaitingConfirmation, h.state())
}

func TestUploadShowsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk\nEggs\nBread")

	last := h.transport.lastSent()
	assert.Contains(t, last.Text, "<code>Milk\nEggs\nBread</code>")
	assert.Equal(t, confirmKeyboard, last.Keyboard)
	assert.Equal(t, "Milk\nEggs\nBread", h.ctrl.sessions.Get(userID).Text)

	require.Len(t, h.extractor.inputs, 1)
	in := h.extractor.inputs[0]
	assert.Equal(t, "photo_7.jpg", in.Filename)
	assert.False(t, in.IsPDF)
	assert.Equal(t, []byte("jpeg-bytes"), in.Data)

	assert.False(t, h.ctrl.sessions.Busy(userID))
	assert.Len(t, h.transport.deleted, 1, "progress message removed")
}

func TestConfirmRendersAndResets(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk\nEggs\nBread")

	h.press(CallbackConfirm)

	assert.Equal(t, Idle, h.state())
	assert.Equal(t, []string{"Milk\nEggs\nBread"}, h.renderer.texts)
	require.Len(t, h.transport.images, 1)
	assert.Equal(t, msgImageCreated, h.transport.lastAnswer().Text)
	assert.Equal(t, 0, h.ctrl.sessions.Len())
}

func TestConfirmOutsideConfirmationIsRejected(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		state State
	}{
		{"idle", func(h *harness) {}, Idle},
		{"editing", func(h *harness) {
			h.reachConfirmation("Milk")
			h.press(CallbackEdit)
		}, EditingText},
		{"awaiting background", func(h *harness) { h.command("back") }, AwaitingBackground},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			before := h.ctrl.sessions.Get(userID)

			h.press(CallbackConfirm)

			assert.Equal(t, answer{ID: "cb-" + CallbackConfirm, Text: msgNothingToConfirm, Alert: true}, h.transport.lastAnswer())
			assert.Equal(t, before, h.ctrl.sessions.Get(userID))
			assert.Equal(t, tt.state, h.state())
			assert.Empty(t, h.renderer.texts)
		})
	}
}

func TestDoubleConfirmRendersOnce(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.press(CallbackConfirm)
		}()
	}
	wg.Wait()

	assert.Len(t, h.renderer.texts, 1)
	alerts := 0
	for _, a := range h.transport.answers {
		if a.Alert {
			alerts++
		}
	}
	assert.Equal(t, 4, alerts)
}

func TestOversizedUploadNeverReachesOCR(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"photo", File{ID: "f", Photo: true, Size: 10*1024*1024 + 1}},
		{"image document", File{ID: "f", Name: "list.png", MIMEType: "image/png", Size: 11 * 1024 * 1024}},
		{"pdf", File{ID: "f", Name: "list.pdf", MIMEType: "application/pdf", Size: 50*1024*1024 + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.files["f"] = []byte("data")

			h.sendDocument(tt.file)

			assert.Equal(t, 0, h.extractor.callCount())
			assert.Equal(t, 0, h.transport.downloads)
			assert.Contains(t, h.transport.lastSent().Text, "too large")
			assert.Equal(t, Idle, h.state())
			assert.False(t, h.ctrl.sessions.Busy(userID))
		})
	}
}

func TestOversizedAfterDownloadNeverReachesOCR(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SetSettings(Settings{ImageMaxSize: 4, PDFMaxSize: 4})
	h.transport.files["f"] = []byte("12345")

	h.sendPhoto("f", 0)

	assert.Equal(t, 0, h.extractor.callCount())
	assert.Contains(t, h.transport.lastText(), "too large")
	assert.Equal(t, Idle, h.state())
}

func TestPDFWithinLimitIsExtracted(t *testing.T) {
	h := newHarness(t)
	h.transport.files["doc"] = []byte("%PDF-1.4 not really a pdf")

	h.sendDocument(File{ID: "doc", Name: "list.pdf", MIMEType: "application/pdf", Size: 20 * 1024 * 1024})

	require.Equal(t, 1, h.extractor.callCount())
	in := h.extractor.inputs[0]
	assert.True(t, in.IsPDF)
	assert.Equal(t, "list.pdf", in.Filename)
	assert.Equal(t, AwaitingConfirmation, h.state())
}

func TestUploadWhileNotIdleIsRejected(t *testing.T) {
	for _, setup := range []func(h *harness){
		func(h *harness) { h.reachConfirmation("Milk") },
		func(h *harness) {
			h.reachConfirmation("Milk")
			h.press(CallbackEdit)
		},
	} {
		h := newHarness(t)
		setup(h)
		before := h.ctrl.sessions.Get(userID)
		calls := h.extractor.callCount()

		h.transport.files["photo-2"] = []byte("other")
		h.sendPhoto("photo-2", 100)

		assert.Equal(t, msgFinishCurrent, h.transport.lastSent().Text)
		assert.Equal(t, before, h.ctrl.sessions.Get(userID))
		assert.Equal(t, calls, h.extractor.callCount())
	}
}

func TestOverlappingUploadsOnlyOneRuns(t *testing.T) {
	h := newHarness(t)
	h.extractor.block = make(chan struct{})
	h.transport.files["p"] = []byte("jpeg")

	done := make(chan struct{})
	go func() {
		h.sendPhoto("p", 10)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.extractor.callCount() == 1 }, time.Second, time.Millisecond)

	h.sendPhoto("p", 10)
	assert.Equal(t, msgFinishCurrent, h.transport.lastSent().Text)

	close(h.extractor.block)
	<-done

	assert.Equal(t, 1, h.extractor.callCount())
	assert.Equal(t, AwaitingConfirmation, h.state())
}

func TestCancelDuringExtraction(t *testing.T) {
	tests := []struct {
		name         string
		ignoreCancel bool
	}{
		{"extractor stops on cancel", false},
		{"result arrives after cancel", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.extractor.block = make(chan struct{})
			h.extractor.ignoreCancel = tt.ignoreCancel
			h.transport.files["p"] = []byte("jpeg")

			done := make(chan struct{})
			go func() {
				h.sendPhoto("p", 10)
				close(done)
			}()
			require.Eventually(t, func() bool { return h.extractor.callCount() == 1 }, time.Second, time.Millisecond)
			progressID := h.transport.sentSnapshot()[0].MessageID

			h.command("cancel")
			if tt.ignoreCancel {
				close(h.extractor.block)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("upload kept running after cancel")
			}

			assert.Equal(t, Idle, h.state())
			assert.False(t, h.ctrl.sessions.Busy(userID))
			assert.Equal(t, msgCancelled, h.transport.lastSent().Text)
			for _, out := range h.transport.sent {
				assert.NotEqual(t, confirmKeyboard, out.Keyboard, "review dialog sent after cancel")
			}
			assert.Contains(t, h.transport.deleted, progressID)
			assert.Equal(t, 0, h.ctrl.sessions.Len())
		})
	}
}

func TestUploadAfterCancelledExtraction(t *testing.T) {
	h := newHarness(t)
	h.extractor.block = make(chan struct{})
	h.transport.files["p"] = []byte("jpeg")

	done := make(chan struct{})
	go func() {
		h.sendPhoto("p", 10)
		close(done)
	}()
	require.Eventually(t, func() bool { return h.extractor.callCount() == 1 }, time.Second, time.Millisecond)
	h.command("cancel")
	<-done

	h.extractor.block = nil
	h.reachConfirmation("Bread")
	assert.Equal(t, "Bread", h.ctrl.sessions.Get(userID).Text)
}

func TestExtractionSlotsDoNotBlockOtherEvents(t *testing.T) {
	transport := newFakeTransport()
	extractor := &fakeExtractor{text: "Milk", block: make(chan struct{})}
	ctrl := New(Options{
		Transport:      transport,
		Extractor:      extractor,
		Renderer:       &fakeRenderer{},
		Settings:       DefaultSettings(),
		MaxExtractions: 1,
	})
	transport.files["p"] = []byte("jpeg")

	upload := func(user int64) <-chan struct{} {
		done := make(chan struct{})
		go func() {
			ctrl.HandleMessage(context.Background(), Message{UserID: user, ChatID: user, MessageID: 1, File: &File{ID: "p", Size: 4, Photo: true}})
			close(done)
		}()
		return done
	}

	first := upload(1)
	require.Eventually(t, func() bool { return extractor.callCount() == 1 }, time.Second, time.Millisecond)
	second := upload(2)

	// user 2 waits for the slot but their commands are still served
	ctrl.HandleMessage(context.Background(), Message{UserID: 2, ChatID: 2, MessageID: 2, Text: "/help", Command: "help"})
	var helped bool
	for _, out := range transport.sentSnapshot() {
		if out.ChatID == 2 && out.Text == msgHelp {
			helped = true
		}
	}
	assert.True(t, helped, "help answered while the upload waits")
	assert.Never(t, func() bool { return extractor.callCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(extractor.block)
	<-first
	<-second

	assert.Equal(t, 2, extractor.callCount())
	assert.Equal(t, AwaitingConfirmation, ctrl.sessions.Get(1).State)
	assert.Equal(t, AwaitingConfirmation, ctrl.sessions.Get(2).State)
}

func TestExtractionFailureReturnsToIdle(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
	}{
		{"error", "", errors.New("datalab job did not finish in time")},
		{"empty", "", nil},
		{"whitespace", " \n ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.extractor.text = tt.text
			h.extractor.err = tt.err
			h.transport.files["p"] = []byte("jpeg")

			h.sendPhoto("p", 10)

			assert.Equal(t, Idle, h.state())
			assert.Equal(t, msgNoTextImage, h.transport.lastText())
			assert.False(t, h.ctrl.sessions.Busy(userID))
		})
	}
}

func TestExtractionFailureFallsBackToNewMessage(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = errors.New("boom")
	h.transport.editErr = errors.New("message to edit not found")
	h.transport.files["p"] = []byte("jpeg")

	h.sendPhoto("p", 10)

	assert.Equal(t, msgNoTextImage, h.transport.lastSent().Text)
}

func TestEditFlow(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk\nEgs")

	h.press(CallbackEdit)
	require.Equal(t, EditingText, h.state())
	lastEdit := h.transport.edits[len(h.transport.edits)-1]
	assert.Equal(t, 500, lastEdit.MessageID)
	assert.Equal(t, editKeyboard, lastEdit.Keyboard)
	assert.Contains(t, lastEdit.Text, "<code>Milk\nEgs</code>")

	h.sendText("   ")
	assert.Equal(t, msgEmptyEdit, h.transport.lastSent().Text)
	assert.Equal(t, EditingText, h.state())
	assert.Equal(t, "Milk\nEgs", h.ctrl.sessions.Get(userID).Text)

	h.sendText("  Milk\nEggs  ")
	assert.Equal(t, AwaitingConfirmation, h.state())
	assert.Equal(t, "Milk\nEggs", h.ctrl.sessions.Get(userID).Text)
	assert.Equal(t, confirmKeyboard, h.transport.lastSent().Keyboard)
	assert.Contains(t, h.transport.lastSent().Text, headingEdited)

	h.press(CallbackConfirm)
	assert.Equal(t, []string{"Milk\nEggs"}, h.renderer.texts)
}

func TestBackToConfirmationKeepsText(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk")
	h.press(CallbackEdit)

	h.press(CallbackBackToConfirmation)

	assert.Equal(t, Session{State: AwaitingConfirmation, Text: "Milk"}, h.ctrl.sessions.Get(userID))
	lastEdit := h.transport.edits[len(h.transport.edits)-1]
	assert.Equal(t, confirmKeyboard, lastEdit.Keyboard)

	h.press(CallbackBackToConfirmation)
	assert.True(t, h.transport.lastAnswer().Alert)
	assert.Equal(t, AwaitingConfirmation, h.state())
}

func TestEditOutsideConfirmationIsRejected(t *testing.T) {
	h := newHarness(t)
	h.press(CallbackEdit)
	assert.True(t, h.transport.lastAnswer().Alert)
	assert.Equal(t, Idle, h.state())
}

func TestLongEditedTextRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk")
	h.press(CallbackEdit)

	long := strings.Repeat("Apples and pears ", 400)
	long = strings.TrimSpace(long)
	h.sendText(long)

	view := h.transport.lastSent().Text
	assert.Contains(t, view, "Text truncated (showing 3000 of")
	assert.Equal(t, long, h.ctrl.sessions.Get(userID).Text)

	h.press(CallbackConfirm)
	require.Len(t, h.renderer.texts, 1)
	assert.Equal(t, long, h.renderer.texts[0])
}

func TestCancelFromAnyState(t *testing.T) {
	for _, setup := range []func(h *harness){
		func(h *harness) {},
		func(h *harness) { h.reachConfirmation("Milk") },
		func(h *harness) {
			h.reachConfirmation("Milk")
			h.press(CallbackEdit)
		},
		func(h *harness) { h.command("back") },
	} {
		h := newHarness(t)
		setup(h)

		h.press(CallbackCancel)

		assert.Equal(t, Idle, h.state())
		assert.Equal(t, msgCancelledShort, h.transport.lastAnswer().Text)
		assert.Equal(t, 0, h.ctrl.sessions.Len())
	}
}

func TestCancelCommand(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("Milk")
	h.command("cancel")
	assert.Equal(t, Idle, h.state())
	assert.Equal(t, msgCancelled, h.transport.lastSent().Text)
}

func TestBackgroundFlow(t *testing.T) {
	h := newHarness(t)

	h.command("back")
	require.Equal(t, AwaitingBackground, h.state())
	assert.Equal(t, msgAskBackground, h.transport.lastSent().Text)

	h.transport.files["doc"] = []byte("%PDF")
	h.sendDocument(File{ID: "doc", Name: "bg.pdf", MIMEType: "application/pdf", Size: 10})
	assert.Equal(t, msgBackgroundRetry, h.transport.lastSent().Text)
	assert.Equal(t, AwaitingBackground, h.state())

	h.sendText("hello")
	assert.Equal(t, msgBackgroundRetry, h.transport.lastSent().Text)
	assert.Equal(t, AwaitingBackground, h.state())

	h.sendPhoto("bg", 11*1024*1024)
	assert.Contains(t, h.transport.lastSent().Text, "too large")
	assert.Equal(t, AwaitingBackground, h.state())

	h.transport.files["bg"] = []byte("background-bytes")
	h.sendPhoto("bg", 100)
	assert.Equal(t, msgBackgroundSaved, h.transport.lastSent().Text)
	assert.Equal(t, Idle, h.state())
	assert.Equal(t, 0, h.extractor.callCount())

	h.reachConfirmation("Milk")
	h.press(CallbackConfirm)
	require.Len(t, h.renderer.backgrounds, 1)
	assert.Equal(t, []byte("background-bytes"), h.renderer.backgrounds[0])

	// the background survives the confirm cycle
	h.reachConfirmation("Eggs")
	h.press(CallbackConfirm)
	assert.Equal(t, []byte("background-bytes"), h.renderer.backgrounds[1])

	h.command("nobackground")
	assert.Equal(t, msgBackgroundRemoved, h.transport.lastSent().Text)
	h.command("nobackground")
	assert.Equal(t, msgNoBackground, h.transport.lastSent().Text)
}

func TestBackWhileExtractingIsRejected(t *testing.T) {
	h := newHarness(t)
	_, ok := h.ctrl.sessions.BeginUpload(context.Background(), userID)
	require.True(t, ok)

	h.command("back")

	assert.Equal(t, msgFinishCurrent, h.transport.lastSent().Text)
	assert.Equal(t, Idle, h.state())
}

func TestUnsupportedDocument(t *testing.T) {
	h := newHarness(t)
	h.transport.files["txt"] = []byte("hello")

	h.sendDocument(File{ID: "txt", Name: "notes.txt", MIMEType: "text/plain", Size: 5})

	assert.Equal(t, msgUnsupportedFile, h.transport.lastSent().Text)
	assert.Equal(t, 0, h.extractor.callCount())
	assert.Equal(t, 0, h.transport.downloads)
	assert.False(t, h.ctrl.sessions.Busy(userID))
}

func TestTextOutsideEditing(t *testing.T) {
	h := newHarness(t)
	h.sendText("hello")
	assert.Equal(t, msgUnknown, h.transport.lastSent().Text)

	h.command("help")
	assert.Equal(t, msgHelp, h.transport.lastSent().Text)

	h.command("frobnicate")
	assert.Equal(t, msgUnknown, h.transport.lastSent().Text)
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.extractor.panic = true
	h.transport.files["p"] = []byte("jpeg")

	assert.NotPanics(t, func() { h.sendPhoto("p", 10) })

	assert.Equal(t, msgGenericError, h.transport.lastSent().Text)
	assert.Equal(t, Idle, h.state())
	assert.False(t, h.ctrl.sessions.Busy(userID))
}

func TestDownloadFailureClearsSession(t *testing.T) {
	h := newHarness(t)

	h.sendPhoto("missing", 10)

	assert.Equal(t, msgGenericError, h.transport.lastSent().Text)
	assert.Equal(t, Idle, h.state())
	assert.Equal(t, 0, h.extractor.callCount())
}

func TestRenderFailureReportsToUser(t *testing.T) {
	h := newHarness(t)
	h.renderer.err = render.ErrEmptyText
	h.reachConfirmation("Milk")

	h.press(CallbackConfirm)

	assert.Equal(t, msgRenderFailed, h.transport.edits[len(h.transport.edits)-1].Text)
	assert.Empty(t, h.transport.images)
	assert.Equal(t, Idle, h.state())
}

func TestDeleteFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.transport.deleteErr = errors.New("message can't be deleted")
	h.reachConfirmation("Milk")

	h.press(CallbackConfirm)

	assert.Len(t, h.transport.images, 1)
	assert.Equal(t, msgImageCreated, h.transport.lastAnswer().Text)
}

func TestPlainTextSetting(t *testing.T) {
	h := newHarness(t)
	settings := DefaultSettings()
	settings.PlainText = true
	h.ctrl.SetSettings(settings)

	h.reachConfirmation("# Groceries\n\n- **Milk**\n- Eggs")

	assert.Equal(t, "Groceries\n\nMilk\nEggs", h.ctrl.sessions.Get(userID).Text)
}

func TestDisplayIsEscaped(t *testing.T) {
	h := newHarness(t)
	h.reachConfirmation("<b>Milk</b> & <eggs")

	assert.Contains(t, h.transport.lastSent().Text, "<code>Milk &amp; &lt;eggs</code>")
	assert.Equal(t, "<b>Milk</b> & <eggs", h.ctrl.sessions.Get(userID).Text)
}

func TestShoppingListScenario(t *testing.T) {
	h := newHarness(t)
	r, err := render.New(render.Options{})
	require.NoError(t, err)
	h.ctrl.renderer = r

	h.reachConfirmation("Milk\nEggs\nBread")
	assert.Contains(t, h.transport.lastSent().Text, "<code>Milk\nEggs\nBread</code>")

	h.press(CallbackConfirm)

	require.Len(t, h.transport.images, 1)
	img, err := png.Decode(bytes.NewReader(h.transport.images[0]))
	require.NoError(t, err)
	assert.Equal(t, render.Width, img.Bounds().Dx())
	assert.Equal(t, render.CanvasHeight(3), img.Bounds().Dy())
}

func TestBackgroundScenario(t *testing.T) {
	h := newHarness(t)
	r, err := render.New(render.Options{})
	require.NoError(t, err)
	h.ctrl.renderer = r

	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 10, 120, 10, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	h.command("back")
	h.transport.files["bg"] = buf.Bytes()
	h.sendPhoto("bg", int64(buf.Len()))
	require.Equal(t, Idle, h.state())

	h.reachConfirmation("Milk")
	h.press(CallbackConfirm)

	require.Len(t, h.transport.images, 1)
	out, err := png.Decode(bytes.NewReader(h.transport.images[0]))
	require.NoError(t, err)
	red, green, blue, _ := out.At(3, 3).RGBA()
	got := color.RGBA{R: uint8(red >> 8), G: uint8(green >> 8), B: uint8(blue >> 8)}
	assert.InDelta(t, 10, int(got.R), 2)
	assert.InDelta(t, 120, int(got.G), 2)
	assert.InDelta(t, 10, int(got.B), 2)
}
