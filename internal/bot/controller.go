// Package bot implements the per-user review workflow: upload, text
// extraction, confirm or edit, and rendering of the final image.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/listprint/internal/utils"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxExtractions bounds concurrent OCR calls when Options leaves it unset.
const DefaultMaxExtractions = 8

// Settings are the limits the controller enforces. They may be replaced at
// runtime with SetSettings.
type Settings struct {
	ImageMaxSize int64
	PDFMaxSize   int64
	MaxPDFPages  int
	DisplayLimit int
	PlainText    bool
}

// DefaultSettings returns the standard limits.
func DefaultSettings() Settings {
	return Settings{
		ImageMaxSize: 10 * 1024 * 1024,
		PDFMaxSize:   50 * 1024 * 1024,
		DisplayLimit: 3000,
	}
}

// Options wires a Controller. Sessions and Backgrounds are created when nil.
// MaxExtractions caps OCR calls in flight across all users; uploads beyond
// it wait for a slot without holding up other events.
type Options struct {
	Transport      Transport
	Extractor      Extractor
	Renderer       Renderer
	Sessions       *SessionStore
	Backgrounds    *BackgroundStore
	Settings       Settings
	MaxExtractions int
}

// Controller handles inbound events. It is safe for concurrent use; events
// for different users run independently.
type Controller struct {
	transport   Transport
	extractor   Extractor
	renderer    Renderer
	sessions    *SessionStore
	backgrounds *BackgroundStore
	extractions *semaphore.Weighted
	settings    atomic.Pointer[Settings]
}

func New(opts Options) *Controller {
	if opts.Sessions == nil {
		opts.Sessions = NewSessionStore()
	}
	if opts.Backgrounds == nil {
		opts.Backgrounds = NewBackgroundStore()
	}
	if opts.Settings.DisplayLimit <= 0 {
		opts.Settings.DisplayLimit = DefaultSettings().DisplayLimit
	}
	if opts.MaxExtractions <= 0 {
		opts.MaxExtractions = DefaultMaxExtractions
	}

	c := &Controller{
		transport:   opts.Transport,
		extractor:   opts.Extractor,
		renderer:    opts.Renderer,
		sessions:    opts.Sessions,
		backgrounds: opts.Backgrounds,
		extractions: semaphore.NewWeighted(int64(opts.MaxExtractions)),
	}
	c.settings.Store(&opts.Settings)
	return c
}

// SetSettings replaces the enforced limits for subsequent events.
func (c *Controller) SetSettings(s Settings) {
	if s.DisplayLimit <= 0 {
		s.DisplayLimit = DefaultSettings().DisplayLimit
	}
	c.settings.Store(&s)
}

func (c *Controller) currentSettings() Settings {
	return *c.settings.Load()
}

// HandleMessage processes one inbound message.
func (c *Controller) HandleMessage(ctx context.Context, m Message) {
	log := slog.With("event_id", uuid.NewString(), "user_id", m.UserID, "chat_id", m.ChatID)
	defer c.recoverEvent(ctx, log, m.UserID, m.ChatID)

	var err error
	switch {
	case m.Command != "":
		err = c.handleCommand(ctx, log, m)
	case m.File != nil:
		err = c.handleFile(ctx, log, m)
	default:
		err = c.handleText(ctx, log, m)
	}
	if err != nil {
		c.abort(ctx, log, m.UserID, m.ChatID, err)
	}
}

// HandleCallback processes one inline button press.
func (c *Controller) HandleCallback(ctx context.Context, cb Callback) {
	log := slog.With("event_id", uuid.NewString(), "user_id", cb.UserID, "chat_id", cb.ChatID, "callback", cb.Data)
	defer c.recoverEvent(ctx, log, cb.UserID, cb.ChatID)

	var err error
	switch cb.Data {
	case CallbackConfirm:
		err = c.confirm(ctx, log, cb)
	case CallbackEdit:
		err = c.edit(ctx, log, cb)
	case CallbackBackToConfirmation:
		err = c.backToConfirmation(ctx, log, cb)
	case CallbackCancel:
		err = c.cancel(ctx, log, cb)
	default:
		log.Debug("Ignoring unknown callback")
		c.bestEffort(log, "answer callback", c.transport.AnswerCallback(ctx, cb.ID, "", false))
	}
	if err != nil {
		c.abort(ctx, log, cb.UserID, cb.ChatID, err)
	}
}

func (c *Controller) handleCommand(ctx context.Context, log *slog.Logger, m Message) error {
	log.Debug("Command received", "command", m.Command)

	switch strings.ToLower(m.Command) {
	case "start", "help":
		return c.reply(ctx, m.ChatID, msgHelp)
	case "back":
		if c.sessions.Busy(m.UserID) {
			return c.reply(ctx, m.ChatID, msgFinishCurrent)
		}
		if err := c.sessions.Update(m.UserID, func(s *Session) error {
			s.State = AwaitingBackground
			return nil
		}); err != nil {
			return err
		}
		return c.reply(ctx, m.ChatID, msgAskBackground)
	case "nobackground":
		if c.backgrounds.Delete(m.UserID) {
			log.Info("Background removed")
			return c.reply(ctx, m.ChatID, msgBackgroundRemoved)
		}
		return c.reply(ctx, m.ChatID, msgNoBackground)
	case "cancel":
		c.sessions.Clear(m.UserID)
		return c.reply(ctx, m.ChatID, msgCancelled)
	default:
		return c.reply(ctx, m.ChatID, msgUnknown)
	}
}

func (c *Controller) handleText(ctx context.Context, log *slog.Logger, m Message) error {
	switch c.sessions.Get(m.UserID).State {
	case EditingText:
		return c.applyEdit(ctx, log, m)
	case AwaitingBackground:
		return c.reply(ctx, m.ChatID, msgBackgroundRetry)
	default:
		return c.reply(ctx, m.ChatID, msgUnknown)
	}
}

func (c *Controller) applyEdit(ctx context.Context, log *slog.Logger, m Message) error {
	edited := strings.TrimSpace(m.Text)
	if edited == "" {
		return c.reply(ctx, m.ChatID, msgEmptyEdit)
	}

	err := c.sessions.Update(m.UserID, func(s *Session) error {
		if s.State != EditingText {
			return ErrWrongState
		}
		s.State = AwaitingConfirmation
		s.Text = edited
		return nil
	})
	if errors.Is(err, ErrWrongState) {
		return c.reply(ctx, m.ChatID, msgUnknown)
	}
	if err != nil {
		return err
	}

	log.Info("Text edited", "length", len(edited))
	view := textView(headingEdited, edited, hintReview, c.currentSettings().DisplayLimit)
	_, err = c.transport.SendText(ctx, m.ChatID, view, confirmKeyboard)
	return err
}

// confirm consumes the session before rendering, so a repeated press finds
// the session Idle and only gets an alert.
func (c *Controller) confirm(ctx context.Context, log *slog.Logger, cb Callback) error {
	var text string
	err := c.sessions.Update(cb.UserID, func(s *Session) error {
		if s.State != AwaitingConfirmation {
			return ErrWrongState
		}
		text = s.Text
		s.State = Idle
		return nil
	})
	if errors.Is(err, ErrWrongState) || (err == nil && text == "") {
		log.Info("Confirm outside of confirmation", "state", c.sessions.Get(cb.UserID).State)
		return c.transport.AnswerCallback(ctx, cb.ID, msgNothingToConfirm, true)
	}
	if err != nil {
		return err
	}

	c.bestEffort(log, "delete confirmation message", c.transport.DeleteMessage(ctx, cb.ChatID, cb.MessageID))

	progressID, err := c.transport.SendText(ctx, cb.ChatID, msgRendering, nil)
	if err != nil {
		return err
	}

	background := c.backgrounds.Get(cb.UserID)
	log.Info("Rendering image", "length", len(text), "background", background != nil)

	img, err := c.renderer.Render(text, background)
	if err != nil {
		log.Error("Rendering failed", "err", err)
		c.bestEffort(log, "edit progress message", c.transport.EditText(ctx, cb.ChatID, progressID, msgRenderFailed, nil))
		return c.transport.AnswerCallback(ctx, cb.ID, "", false)
	}

	if err := c.transport.SendImage(ctx, cb.ChatID, resultFilename, img.Data); err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	c.bestEffort(log, "delete progress message", c.transport.DeleteMessage(ctx, cb.ChatID, progressID))
	c.bestEffort(log, "answer callback", c.transport.AnswerCallback(ctx, cb.ID, msgImageCreated, false))

	log.Info("Image delivered", "width", img.Width, "height", img.Height, "lines", img.Lines)
	return nil
}

func (c *Controller) edit(ctx context.Context, log *slog.Logger, cb Callback) error {
	var text string
	err := c.sessions.Update(cb.UserID, func(s *Session) error {
		if s.State != AwaitingConfirmation || s.Text == "" {
			return ErrWrongState
		}
		s.State = EditingText
		text = s.Text
		return nil
	})
	if errors.Is(err, ErrWrongState) {
		return c.transport.AnswerCallback(ctx, cb.ID, msgNothingToEdit, true)
	}
	if err != nil {
		return err
	}

	view := textView(headingEditing, text, hintEdit, c.currentSettings().DisplayLimit)
	c.bestEffort(log, "edit message", c.transport.EditText(ctx, cb.ChatID, cb.MessageID, view, editKeyboard))
	return c.transport.AnswerCallback(ctx, cb.ID, "", false)
}

func (c *Controller) backToConfirmation(ctx context.Context, log *slog.Logger, cb Callback) error {
	var text string
	err := c.sessions.Update(cb.UserID, func(s *Session) error {
		if s.State != EditingText {
			return ErrWrongState
		}
		s.State = AwaitingConfirmation
		text = s.Text
		return nil
	})
	if errors.Is(err, ErrWrongState) {
		return c.transport.AnswerCallback(ctx, cb.ID, msgNothingToEdit, true)
	}
	if err != nil {
		return err
	}

	view := textView(headingExtracted, text, hintReview, c.currentSettings().DisplayLimit)
	c.bestEffort(log, "edit message", c.transport.EditText(ctx, cb.ChatID, cb.MessageID, view, confirmKeyboard))
	return c.transport.AnswerCallback(ctx, cb.ID, "", false)
}

func (c *Controller) cancel(ctx context.Context, log *slog.Logger, cb Callback) error {
	c.sessions.Clear(cb.UserID)
	log.Info("Processing cancelled")

	if err := c.transport.EditText(ctx, cb.ChatID, cb.MessageID, msgCancelled, nil); err != nil {
		log.Debug("Unable to edit message, sending a new one", "err", utils.MaskSensitiveError(err))
		if _, err := c.transport.SendText(ctx, cb.ChatID, msgCancelled, nil); err != nil {
			return err
		}
	}
	return c.transport.AnswerCallback(ctx, cb.ID, msgCancelledShort, false)
}

func (c *Controller) reply(ctx context.Context, chatID int64, text string) error {
	_, err := c.transport.SendText(ctx, chatID, text, nil)
	return err
}

// bestEffort logs a failed cosmetic transport call and carries on.
func (c *Controller) bestEffort(log *slog.Logger, action string, err error) {
	if err != nil {
		log.Debug("Best effort action failed", "action", action, "err", utils.MaskSensitiveError(err))
	}
}

// abort handles an unexpected handler error: the session is cleared and the
// user gets a generic apology.
func (c *Controller) abort(ctx context.Context, log *slog.Logger, userID, chatID int64, err error) {
	log.Error("Event handling failed", "err", utils.MaskSensitiveError(err))
	c.sessions.Clear(userID)
	if _, sendErr := c.transport.SendText(ctx, chatID, msgGenericError, nil); sendErr != nil {
		log.Error("Unable to notify user", "err", utils.MaskSensitiveError(sendErr))
	}
}

func (c *Controller) recoverEvent(ctx context.Context, log *slog.Logger, userID, chatID int64) {
	r := recover()
	if r == nil {
		return
	}
	log.Error("Panic while handling event", "panic", r, "stack", string(debug.Stack()))
	c.abort(ctx, log, userID, chatID, fmt.Errorf("panic: %v", r))
}
