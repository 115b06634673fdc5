package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"bot_token":                "BOT_TOKEN",
	"ocr_provider":             "OCR_PROVIDER",
	"ocr_plain_text":           "OCR_PLAIN_TEXT",
	"workers":                  "WORKERS",
	"datalab.api_key":          "DATALAB_API_KEY",
	"datalab.api_url":          "DATALAB_API_URL",
	"datalab.polling_interval": "POLLING_INTERVAL",
	"datalab.max_polls":        "MAX_POLLS",
	"datalab.http_timeout":     "HTTP_TIMEOUT",
	"tesseract.lang":           "TESSERACT_LANG",
	"limits.image_max_size":    "IMAGE_MAX_SIZE",
	"limits.pdf_max_size":      "PDF_MAX_SIZE",
	"limits.max_pdf_pages":     "MAX_PDF_PAGES",
	"limits.display_limit":     "DISPLAY_LIMIT",
	"render.font_path":         "FONT_PATH",
	"render.palette":           "RENDER_PALETTE",
}

// defaultValues flattens cfg into leaf keys so env bindings and file values
// merge with defaults key by key.
func defaultValues(cfg *Config) map[string]any {
	return map[string]any{
		"bot_token":                cfg.BotToken,
		"ocr_provider":             cfg.OCRProvider,
		"ocr_plain_text":           cfg.OCRPlainText,
		"workers":                  cfg.Workers,
		"datalab.api_key":          cfg.Datalab.APIKey,
		"datalab.api_url":          cfg.Datalab.APIURL,
		"datalab.polling_interval": cfg.Datalab.PollingInterval,
		"datalab.max_polls":        cfg.Datalab.MaxPolls,
		"datalab.http_timeout":     cfg.Datalab.HTTPTimeout,
		"tesseract.lang":           cfg.Tesseract.Lang,
		"limits.image_max_size":    cfg.Limits.ImageMaxSize,
		"limits.pdf_max_size":      cfg.Limits.PDFMaxSize,
		"limits.max_pdf_pages":     cfg.Limits.MaxPDFPages,
		"limits.display_limit":     cfg.Limits.DisplayLimit,
		"render.font_path":         cfg.Render.FontPath,
		"render.palette":           cfg.Render.Palette,
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config. An empty
// cfgFile searches for listprint.yaml in the working directory and
// $HOME/.listprint; a missing file is not an error.
func NewManager(cfgFile string) (*Manager, error) {
	m := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := m.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	return m, nil
}

func (m *Manager) initViper(cfgFile string) error {
	for key, value := range defaultValues(DefaultConfig()) {
		m.v.SetDefault(key, value)
	}

	for key, env := range envBindings {
		if err := m.v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if cfgFile != "" {
		m.v.SetConfigFile(cfgFile)
	} else {
		m.v.SetConfigName("listprint")
		m.v.SetConfigType("yaml")
		m.v.AddConfigPath(".")
		m.v.AddConfigPath("$HOME/.listprint")
	}

	if err := m.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if used := m.v.ConfigFileUsed(); used != "" {
		slog.Debug("Loaded config file", "path", used)
	}
	return nil
}

// load parses the current viper state into a Config struct.
func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Override sets key for the rest of the process, above file and env values.
func (m *Manager) Override(key string, value any) error {
	m.v.Set(key, value)
	cfg, err := m.load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig enables hot-reloading when a config file is in use.
func (m *Manager) WatchConfig() {
	if m.v.ConfigFileUsed() == "" {
		slog.Debug("No config file in use, hot reload disabled")
		return
	}
	m.v.OnConfigChange(m.handleChange)
	m.v.WatchConfig()
}

// handleChange reloads the config after viper re-read the file. An invalid
// file is logged and the previous configuration stays in effect.
func (m *Manager) handleChange(e fsnotify.Event) {
	cfg, err := m.load()
	if err != nil {
		slog.Error("Unable to reload config", "file", e.Name, "err", err)
		return
	}
	if err := cfg.Validate(false); err != nil {
		slog.Error("Ignoring invalid config change", "file", e.Name, "err", err)
		return
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	slog.Info("Config reloaded", "file", e.Name, "op", e.Op.String())
	for _, fn := range callbacks {
		fn(cfg)
	}
}
