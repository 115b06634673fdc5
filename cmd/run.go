package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lehigh-university-libraries/listprint/internal/bot"
	"github.com/lehigh-university-libraries/listprint/internal/config"
	"github.com/lehigh-university-libraries/listprint/internal/telegram"
	"github.com/lehigh-university-libraries/listprint/internal/utils"
	"github.com/lehigh-university-libraries/listprint/pkg/render"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot",
	Long: `Start the Telegram bot and long-poll for updates until interrupted.

Changes to the config file are picked up while the bot runs: limits apply to
the next upload and a changed ocr_provider switches the OCR backend.`,
	RunE: runBot,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	if err := cfg.Validate(true); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	selector := newSelector(mgr.Get)
	if _, err := selector.Switch(cfg.OCRProvider); err != nil {
		// uploads answer with a "no text" message until the config names a working backend
		slog.Error("OCR provider unavailable", "provider", cfg.OCRProvider, "err", err)
	}

	renderer, err := render.New(render.Options{
		FontPath: cfg.Render.FontPath,
		Palette:  cfg.Render.Palette,
	})
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	slog.Info("Renderer ready", "font", renderer.FontName())

	client, err := telegram.New(telegram.Config{
		Token:       cfg.BotToken,
		HTTPTimeout: cfg.HTTPTimeout(),
	})
	if err != nil {
		return err
	}

	controller := bot.New(bot.Options{
		Transport: client,
		Extractor: selector,
		Renderer:  renderer,
		Settings:  settingsFrom(cfg),
		// WORKERS caps concurrent OCR extractions; updates themselves are never queued
		MaxExtractions: cfg.Workers,
	})

	mgr.OnChange(func(c *config.Config) {
		controller.SetSettings(settingsFrom(c))
		msg, err := selector.Switch(c.OCRProvider)
		if err != nil {
			slog.Error("Unable to switch OCR provider, keeping the current one", "provider", c.OCRProvider, "active", selector.Active(), "err", err)
			return
		}
		slog.Info(msg)
	})
	mgr.WatchConfig()

	slog.Info("Starting bot", "provider", selector.Active(), "max_extractions", cfg.Workers)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx, controller); err != nil {
		return utils.MaskSensitiveError(err)
	}
	slog.Info("Bot stopped")
	return nil
}
