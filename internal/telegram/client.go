// Package telegram connects the bot controller to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/listprint/internal/bot"
	"github.com/lehigh-university-libraries/listprint/internal/utils"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
)

// Handler receives converted updates. *bot.Controller implements it.
type Handler interface {
	HandleMessage(ctx context.Context, m bot.Message)
	HandleCallback(ctx context.Context, cb bot.Callback)
}

// Config holds configuration for the Telegram client.
type Config struct {
	Token       string
	HTTPTimeout time.Duration
	// APIEndpoint and FileEndpoint default to the public Bot API.
	APIEndpoint  string
	FileEndpoint string
}

// Client implements bot.Transport over the Bot API.
type Client struct {
	api          *tgbotapi.BotAPI
	http         *http.Client
	fileEndpoint string
}

// New connects to the Bot API and verifies the token.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable must be set")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}

	// long polling holds requests open, so the API client gets extra headroom
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout + 90*time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, httpClient)
	if err != nil {
		return nil, utils.MaskSensitiveError(fmt.Errorf("connect to telegram: %w", err))
	}

	slog.Info("Connected to Telegram", "username", api.Self.UserName)
	return &Client{
		api:          api,
		http:         &http.Client{Timeout: cfg.HTTPTimeout},
		fileEndpoint: cfg.FileEndpoint,
	}, nil
}

// Username returns the bot's username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Run long-polls updates and hands each one to h on its own goroutine, so a
// slow upload never holds up other users. Pending updates from before startup
// are dropped. When ctx is cancelled Run stops receiving and waits for
// in-flight handlers.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		slog.Warn("Unable to drop pending updates", "err", utils.MaskSensitiveError(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	d := newDispatcher(h)

	slog.Info("Bot started", "username", c.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			slog.Info("Waiting for in-flight updates")
			return d.wait()
		case update, ok := <-updates:
			if !ok {
				return d.wait()
			}
			d.dispatch(ctx, update)
		}
	}
}

// dispatcher runs handlers without a concurrency cap; dispatch never blocks.
// Expensive work is bounded inside the handler instead.
type dispatcher struct {
	g errgroup.Group
	h Handler
}

func newDispatcher(h Handler) *dispatcher {
	return &dispatcher{h: h}
}

func (d *dispatcher) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := toCallback(update.CallbackQuery)
		d.g.Go(func() error {
			d.h.HandleCallback(ctx, cb)
			return nil
		})
	case update.Message != nil:
		m, ok := toMessage(update.Message)
		if !ok {
			slog.Debug("Ignoring message without text or file", "update_id", update.UpdateID)
			return
		}
		d.g.Go(func() error {
			d.h.HandleMessage(ctx, m)
			return nil
		})
	}
}

func (d *dispatcher) wait() error {
	return d.g.Wait()
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb bot.Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb != nil {
		msg.ReplyMarkup = inlineKeyboard(kb)
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, utils.MaskSensitiveError(err)
	}
	return sent.MessageID, nil
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, kb bot.Keyboard) error {
	var edit tgbotapi.EditMessageTextConfig
	if kb != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, inlineKeyboard(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := c.api.Request(edit)
	return utils.MaskSensitiveError(err)
}

func (c *Client) SendImage(ctx context.Context, chatID int64, filename string, data []byte) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	_, err := c.api.Send(photo)
	return utils.MaskSensitiveError(err)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := c.api.Request(cfg)
	return utils.MaskSensitiveError(err)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return utils.MaskSensitiveError(err)
}

// Download fetches a file by id. The file URL embeds the bot token, so
// errors are masked before they are returned.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, utils.MaskSensitiveError(fmt.Errorf("get file: %w", err))
	}
	url := fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.MaskSensitiveError(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, utils.MaskSensitiveError(fmt.Errorf("download file: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download file: status %d - %s", resp.StatusCode, providers.TruncateBody(body, 200))
	}
	return io.ReadAll(resp.Body)
}

func inlineKeyboard(kb bot.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// toMessage converts a Bot API message. Messages without a sender, text or
// supported attachment are skipped.
func toMessage(msg *tgbotapi.Message) (bot.Message, bool) {
	if msg.From == nil || msg.Chat == nil {
		return bot.Message{}, false
	}

	m := bot.Message{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.IsCommand() {
		m.Command = msg.Command()
	}

	switch {
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		m.File = &bot.File{ID: p.FileID, Size: int64(p.FileSize), Photo: true}
	case msg.Document != nil:
		d := msg.Document
		m.File = &bot.File{ID: d.FileID, Name: d.FileName, MIMEType: d.MimeType, Size: int64(d.FileSize)}
	}

	if m.File == nil && m.Text == "" {
		return bot.Message{}, false
	}
	return m, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func toCallback(q *tgbotapi.CallbackQuery) bot.Callback {
	cb := bot.Callback{
		ID:   q.ID,
		Data: q.Data,
	}
	if q.From != nil {
		cb.UserID = q.From.ID
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}
	return cb
}
