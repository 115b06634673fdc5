package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/listprint/internal/utils"
	"github.com/lehigh-university-libraries/listprint/pkg/markdown"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

type fileKind int

const (
	fileUnsupported fileKind = iota
	fileImage
	filePDF
)

var (
	imageMIMETypes  = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
)

// classify decides how an attachment is handled from its declared MIME type
// or, failing that, its file extension.
func classify(f *File) fileKind {
	if f.Photo {
		return fileImage
	}
	mime := strings.ToLower(f.MIMEType)
	ext := strings.ToLower(filepath.Ext(f.Name))

	switch {
	case mime == "application/pdf" || ext == ".pdf":
		return filePDF
	case slices.Contains(imageMIMETypes, mime) || slices.Contains(imageExtensions, ext):
		return fileImage
	default:
		return fileUnsupported
	}
}

func (s Settings) maxSize(kind fileKind) int64 {
	if kind == filePDF {
		return s.PDFMaxSize
	}
	return s.ImageMaxSize
}

func (c *Controller) handleFile(ctx context.Context, log *slog.Logger, m Message) error {
	kind := classify(m.File)
	log = log.With("file_kind", kind.String(), "declared_size", m.File.Size)

	if c.sessions.Get(m.UserID).State == AwaitingBackground {
		return c.handleBackground(ctx, log, m, kind)
	}

	uploadCtx, ok := c.sessions.BeginUpload(ctx, m.UserID)
	if !ok {
		log.Info("Upload rejected, another operation is in progress")
		return c.reply(ctx, m.ChatID, msgFinishCurrent)
	}
	defer c.sessions.EndUpload(m.UserID)

	if kind == fileUnsupported {
		log.Info("Unsupported file", "mime_type", m.File.MIMEType, "name", m.File.Name)
		return c.reply(ctx, m.ChatID, msgUnsupportedFile)
	}

	settings := c.currentSettings()
	limit := settings.maxSize(kind)
	if m.File.Size > limit {
		log.Info("Upload rejected, file too large", "limit", limit)
		return c.reply(ctx, m.ChatID, msgTooLarge(limit))
	}

	progressID, err := c.transport.SendText(ctx, m.ChatID, msgReceived(kind == filePDF), nil)
	if err != nil {
		return err
	}

	data, err := c.transport.Download(uploadCtx, m.File.ID)
	if uploadCtx.Err() != nil {
		c.dropCancelled(ctx, log, m.ChatID, progressID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", kind, err)
	}
	if int64(len(data)) > limit {
		log.Info("Upload rejected after download, file too large", "size", len(data), "limit", limit)
		c.notify(ctx, log, m.ChatID, progressID, msgTooLarge(limit))
		return nil
	}

	if kind == filePDF {
		if pages, ok := inspectPDF(log, data); ok && settings.MaxPDFPages > 0 && pages > settings.MaxPDFPages {
			c.notify(ctx, log, m.ChatID, progressID, msgTooManyPages(pages, settings.MaxPDFPages))
			return nil
		}
		c.bestEffort(log, "edit progress message", c.transport.EditText(ctx, m.ChatID, progressID, msgExtractingPDF, nil))
	} else {
		c.bestEffort(log, "edit progress message", c.transport.EditText(ctx, m.ChatID, progressID, msgExtractingImage, nil))
	}

	in := providers.Input{
		Data:     data,
		Filename: uploadFilename(m, kind),
		MIMEType: m.File.MIMEType,
		IsPDF:    kind == filePDF,
	}
	log.Info("Extracting text", "filename", in.Filename, "size", len(data))

	text, err := c.extract(uploadCtx, log, in)
	if uploadCtx.Err() != nil {
		c.dropCancelled(ctx, log, m.ChatID, progressID)
		return nil
	}
	if err != nil {
		log.Warn("Text extraction failed", "err", utils.MaskSensitiveError(err))
	} else if settings.PlainText {
		text = markdown.ToPlain(text)
	}
	if err != nil || strings.TrimSpace(text) == "" {
		c.notify(ctx, log, m.ChatID, progressID, noTextMessage(kind))
		return nil
	}

	err = c.sessions.Update(m.UserID, func(s *Session) error {
		// a cancel between extraction and here has already reset the session
		if uploadCtx.Err() != nil {
			return ErrWrongState
		}
		s.State = AwaitingConfirmation
		s.Text = text
		return nil
	})
	if errors.Is(err, ErrWrongState) {
		c.dropCancelled(ctx, log, m.ChatID, progressID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("Text extracted", "length", len(text))

	c.bestEffort(log, "delete progress message", c.transport.DeleteMessage(ctx, m.ChatID, progressID))
	view := textView(headingExtracted, text, hintReview, settings.DisplayLimit)
	_, err = c.transport.SendText(ctx, m.ChatID, view, confirmKeyboard)
	return err
}

// extract runs OCR once a slot is free. Waiting only blocks this upload.
func (c *Controller) extract(ctx context.Context, log *slog.Logger, in providers.Input) (string, error) {
	if !c.extractions.TryAcquire(1) {
		log.Info("Waiting for a free OCR slot")
		if err := c.extractions.Acquire(ctx, 1); err != nil {
			return "", err
		}
	}
	defer c.extractions.Release(1)
	return c.extractor.Extract(ctx, in)
}

// dropCancelled removes the progress message of an upload the user cancelled.
// The cancel itself already answered the user.
func (c *Controller) dropCancelled(ctx context.Context, log *slog.Logger, chatID int64, progressID int) {
	log.Info("Upload cancelled before extraction finished")
	c.bestEffort(log, "delete progress message", c.transport.DeleteMessage(ctx, chatID, progressID))
}

// handleBackground stores an image sent after /back. Anything else gets a
// retry prompt and the session keeps waiting.
func (c *Controller) handleBackground(ctx context.Context, log *slog.Logger, m Message, kind fileKind) error {
	if kind != fileImage {
		return c.reply(ctx, m.ChatID, msgBackgroundRetry)
	}

	limit := c.currentSettings().ImageMaxSize
	if m.File.Size > limit {
		return c.reply(ctx, m.ChatID, msgTooLarge(limit))
	}

	data, err := c.transport.Download(ctx, m.File.ID)
	if err != nil {
		return fmt.Errorf("download background: %w", err)
	}
	if int64(len(data)) > limit {
		return c.reply(ctx, m.ChatID, msgTooLarge(limit))
	}

	c.backgrounds.Set(m.UserID, data)
	c.sessions.Clear(m.UserID)
	log.Info("Background saved", "size", len(data))
	return c.reply(ctx, m.ChatID, msgBackgroundSaved)
}

// notify replaces the progress message with text, or sends text as a new
// message when the edit fails.
func (c *Controller) notify(ctx context.Context, log *slog.Logger, chatID int64, progressID int, text string) {
	err := c.transport.EditText(ctx, chatID, progressID, text, nil)
	if err == nil {
		return
	}
	log.Debug("Unable to edit progress message", "err", utils.MaskSensitiveError(err))
	if _, err := c.transport.SendText(ctx, chatID, text, nil); err != nil {
		log.Error("Unable to notify user", "err", utils.MaskSensitiveError(err))
	}
}

var disablePDFConfigDir sync.Once

// inspectPDF logs the page count. Unreadable files are only warned about and
// left for the OCR backend to judge.
func inspectPDF(log *slog.Logger, data []byte) (int, bool) {
	// page counting needs neither user fonts nor a config file on disk
	disablePDFConfigDir.Do(api.DisableConfigDir)

	pages, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		log.Warn("Unable to read PDF page count", "err", err)
		return 0, false
	}
	log.Info("PDF inspected", "pages", pages)
	return pages, true
}

func uploadFilename(m Message, kind fileKind) string {
	if m.File.Photo {
		return fmt.Sprintf("photo_%d.jpg", m.MessageID)
	}
	if m.File.Name != "" {
		return m.File.Name
	}
	if kind == filePDF {
		return uuid.NewString() + ".pdf"
	}
	return uuid.NewString() + ".jpg"
}

func noTextMessage(kind fileKind) string {
	if kind == filePDF {
		return msgNoTextPDF
	}
	return msgNoTextImage
}

func (k fileKind) String() string {
	switch k {
	case fileImage:
		return "image"
	case filePDF:
		return "pdf"
	default:
		return "unsupported"
	}
}
