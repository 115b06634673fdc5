package cmd

import (
	"github.com/lehigh-university-libraries/listprint/internal/bot"
	"github.com/lehigh-university-libraries/listprint/internal/config"
	"github.com/lehigh-university-libraries/listprint/pkg/datalab"
	"github.com/lehigh-university-libraries/listprint/pkg/providers"
	"github.com/lehigh-university-libraries/listprint/pkg/tesseract"
)

// newSelector registers both OCR backends. Factories read the configuration
// when they run, so a backend built after a reload picks up the new values.
func newSelector(current func() *config.Config) *providers.Selector {
	return providers.NewSelector(map[providers.Kind]providers.Factory{
		providers.KindRemote: func() (providers.Provider, error) {
			cfg := current()
			p, err := datalab.New(datalab.Config{
				APIKey:       cfg.Datalab.APIKey,
				BaseURL:      cfg.Datalab.APIURL,
				PollInterval: cfg.PollInterval(),
				MaxPolls:     cfg.Datalab.MaxPolls,
				Timeout:      cfg.HTTPTimeout(),
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		providers.KindLocal: func() (providers.Provider, error) {
			p, err := tesseract.New(tesseract.Config{Languages: current().Languages()})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	})
}

func settingsFrom(cfg *config.Config) bot.Settings {
	return bot.Settings{
		ImageMaxSize: cfg.Limits.ImageMaxSize,
		PDFMaxSize:   cfg.Limits.PDFMaxSize,
		MaxPDFPages:  cfg.Limits.MaxPDFPages,
		DisplayLimit: cfg.Limits.DisplayLimit,
		PlainText:    cfg.OCRPlainText,
	}
}
