package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/listprint/pkg/markdown"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract text from an image or PDF",
	Long: `Run a file through an OCR backend and print the extracted text.

The backend defaults to ocr_provider from the configuration. Use --provider
to try the other one without editing the config.`,
	RunE: runExtract,
}

var (
	extractFile     string
	extractProvider string
	extractPlain    bool
	extractOutput   string
)

func init() {
	RootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&extractFile, "file", "", "Path to an image or PDF (required)")
	extractCmd.Flags().StringVar(&extractProvider, "provider", "", "OCR backend to use: datalab or tesseract (defaults to the configured one)")
	extractCmd.Flags().BoolVar(&extractPlain, "plain", false, "Strip Markdown from the extracted text")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "Write the text to a file instead of stdout")

	err := extractCmd.MarkFlagRequired("file")
	if err != nil {
		slog.Error("Unable to mark file as required", "err", err)
		os.Exit(1)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(extractFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", extractFile)
	}

	mgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	selector := newSelector(mgr.Get)
	if extractProvider != "" {
		if _, err := providers.ParseKind(extractProvider); err != nil {
			return fmt.Errorf("--provider %q: choose one of %s", extractProvider, joinKinds(selector.List()))
		}
		if err := mgr.Override("ocr_provider", extractProvider); err != nil {
			return err
		}
	}
	cfg := mgr.Get()
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := selector.Switch(cfg.OCRProvider); err != nil {
		return err
	}

	in, err := readInput(extractFile)
	if err != nil {
		return err
	}
	slog.Info("Extracting text", "file", extractFile, "provider", selector.Active(), "mime_type", in.MIMEType, "size", len(in.Data))

	text, err := selector.Extract(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if extractPlain || cfg.OCRPlainText {
		text = markdown.ToPlain(text)
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("No text found", "file", extractFile)
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return writeOutput(cmd.OutOrStdout(), extractOutput, []byte(text))
}

func joinKinds(kinds []providers.Kind) string {
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return strings.Join(names, ", ")
}

// readInput loads path and sniffs its type from the content, falling back to
// the extension for formats the sniffer does not know.
func readInput(path string) (providers.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return providers.Input{}, fmt.Errorf("read %s: %w", path, err)
	}

	mimeType := http.DetectContentType(data)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "application/octet-stream" || mimeType == "text/plain" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			mimeType = "application/pdf"
		case ".webp":
			mimeType = "image/webp"
		case ".jpg", ".jpeg":
			mimeType = "image/jpeg"
		case ".png":
			mimeType = "image/png"
		}
	}

	return providers.Input{
		Data:     data,
		Filename: filepath.Base(path),
		MIMEType: mimeType,
		IsPDF:    mimeType == "application/pdf",
	}, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path != "" {
		return os.WriteFile(path, data, 0644)
	}
	_, err := stdout.Write(data)
	return err
}
