package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/listprint/pkg/render"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a text file as a shopping list PNG",
	Long: `Lay out text the same way the bot does after a confirmation and write the PNG.

Pass --text - to read the list from stdin.`,
	RunE: runRender,
}

var (
	renderText       string
	renderBackground string
	renderOutput     string
)

func init() {
	RootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVar(&renderText, "text", "", "Path to a UTF-8 text file, or - for stdin (required)")
	renderCmd.Flags().StringVar(&renderBackground, "background", "", "Optional background image")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "shopping_list.png", "Output PNG path")

	err := renderCmd.MarkFlagRequired("text")
	if err != nil {
		slog.Error("Unable to mark text as required", "err", err)
		os.Exit(1)
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	var (
		text []byte
		err  error
	)
	if renderText == "-" {
		text, err = io.ReadAll(cmd.InOrStdin())
	} else {
		text, err = os.ReadFile(renderText)
	}
	if err != nil {
		return fmt.Errorf("read text: %w", err)
	}

	var background []byte
	if renderBackground != "" {
		background, err = os.ReadFile(renderBackground)
		if err != nil {
			return fmt.Errorf("read background: %w", err)
		}
	}

	mgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	r, err := render.New(render.Options{
		FontPath: cfg.Render.FontPath,
		Palette:  cfg.Render.Palette,
	})
	if err != nil {
		return err
	}

	img, err := r.Render(string(text), background)
	if err != nil {
		return err
	}

	if err := os.WriteFile(renderOutput, img.Data, 0644); err != nil {
		return err
	}
	slog.Info("Rendered shopping list", "output", renderOutput, "font", r.FontName(), "width", img.Width, "height", img.Height, "lines", img.Lines)
	return nil
}
