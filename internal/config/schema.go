package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/listprint/internal/utils"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"go.yaml.in/yaml/v3"
)

// Config is the complete bot configuration.
type Config struct {
	BotToken     string          `mapstructure:"bot_token" yaml:"bot_token"`
	OCRProvider  string          `mapstructure:"ocr_provider" yaml:"ocr_provider"`     // "datalab" or "tesseract"
	OCRPlainText bool            `mapstructure:"ocr_plain_text" yaml:"ocr_plain_text"` // flatten Markdown before review
	Workers      int             `mapstructure:"workers" yaml:"workers"`               // concurrent OCR extractions
	Datalab      DatalabConfig   `mapstructure:"datalab" yaml:"datalab"`
	Tesseract    TesseractConfig `mapstructure:"tesseract" yaml:"tesseract"`
	Limits       LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Render       RenderConfig    `mapstructure:"render" yaml:"render"`
}

// DatalabConfig configures the remote Marker API.
type DatalabConfig struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	APIURL          string  `mapstructure:"api_url" yaml:"api_url"`
	PollingInterval float64 `mapstructure:"polling_interval" yaml:"polling_interval"` // seconds
	MaxPolls        int     `mapstructure:"max_polls" yaml:"max_polls"`
	HTTPTimeout     float64 `mapstructure:"http_timeout" yaml:"http_timeout"` // seconds
}

// TesseractConfig configures the local engine.
type TesseractConfig struct {
	Lang string `mapstructure:"lang" yaml:"lang"` // e.g. "eng+rus"
}

// LimitsConfig holds upload ceilings and display caps.
type LimitsConfig struct {
	ImageMaxSize int64 `mapstructure:"image_max_size" yaml:"image_max_size"` // bytes
	PDFMaxSize   int64 `mapstructure:"pdf_max_size" yaml:"pdf_max_size"`     // bytes
	MaxPDFPages  int   `mapstructure:"max_pdf_pages" yaml:"max_pdf_pages"`   // 0 disables the check
	DisplayLimit int   `mapstructure:"display_limit" yaml:"display_limit"`   // characters
}

// RenderConfig configures the layout engine.
type RenderConfig struct {
	FontPath string   `mapstructure:"font_path" yaml:"font_path"`
	Palette  []string `mapstructure:"palette" yaml:"palette"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProvider: string(providers.KindRemote),
		Workers:     8,
		Datalab: DatalabConfig{
			APIURL:          "https://www.datalab.to/api/v1/marker",
			PollingInterval: 2,
			MaxPolls:        300,
			HTTPTimeout:     60,
		},
		Tesseract: TesseractConfig{
			Lang: "eng",
		},
		Limits: LimitsConfig{
			ImageMaxSize: 10 * 1024 * 1024,
			PDFMaxSize:   50 * 1024 * 1024,
			DisplayLimit: 3000,
		},
		Render: RenderConfig{
			Palette: []string{"#FAFAFF", "#FFFAFA", "#FAFFFA", "#FFFFFA"},
		},
	}
}

// Validate checks the configuration. The bot token is only required when the
// bot itself is started.
func (c *Config) Validate(requireToken bool) error {
	var errs []error

	kind, err := providers.ParseKind(c.OCRProvider)
	if err != nil {
		errs = append(errs, err)
	}
	if kind == providers.KindRemote && c.Datalab.APIKey == "" {
		errs = append(errs, errors.New("DATALAB_API_KEY must be set when OCR_PROVIDER is datalab"))
	}
	if requireToken && c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN must be set"))
	}
	if c.Datalab.PollingInterval <= 0 {
		errs = append(errs, fmt.Errorf("polling_interval must be positive, got %v", c.Datalab.PollingInterval))
	}
	if c.Datalab.MaxPolls <= 0 {
		errs = append(errs, fmt.Errorf("max_polls must be positive, got %d", c.Datalab.MaxPolls))
	}
	if c.Limits.ImageMaxSize <= 0 || c.Limits.PDFMaxSize <= 0 {
		errs = append(errs, errors.New("image_max_size and pdf_max_size must be positive"))
	}
	if c.Limits.DisplayLimit <= 0 {
		errs = append(errs, fmt.Errorf("display_limit must be positive, got %d", c.Limits.DisplayLimit))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}

	return errors.Join(errs...)
}

// PollInterval returns the Datalab polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Datalab.PollingInterval * float64(time.Second))
}

// HTTPTimeout returns the Datalab HTTP client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Datalab.HTTPTimeout * float64(time.Second))
}

// Languages splits the Tesseract language setting.
func (c *Config) Languages() []string {
	var langs []string
	for _, l := range strings.FieldsFunc(c.Tesseract.Lang, func(r rune) bool { return r == '+' || r == ',' }) {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

// Masked returns a copy with secrets replaced.
func (c *Config) Masked() *Config {
	masked := *c
	masked.BotToken = utils.MaskSecret(c.BotToken)
	masked.Datalab.APIKey = utils.MaskSecret(c.Datalab.APIKey)
	masked.Render.Palette = append([]string(nil), c.Render.Palette...)
	return &masked
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Masked())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
