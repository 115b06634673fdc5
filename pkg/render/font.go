package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// systemFonts are tried in order after the configured font path.
var systemFonts = []string{
	"C:/Windows/Fonts/arial.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/System/Library/Fonts/Helvetica.ttc",
}

// faceFunc returns a fresh face for one render. opentype faces keep internal
// buffers and must not be shared between goroutines.
type faceFunc func() font.Face

func loadFont(configured string) (faceFunc, string) {
	candidates := systemFonts
	if configured != "" {
		candidates = append([]string{configured}, systemFonts...)
	}

	for _, path := range candidates {
		f, err := parseFontFile(path)
		if err != nil {
			if path == configured {
				slog.Warn("Configured font is not usable", "path", path, "err", err)
			} else {
				slog.Debug("Font not available", "path", path, "err", err)
			}
			continue
		}
		newFace, err := faceFactory(f)
		if err != nil {
			slog.Debug("Unable to create font face", "path", path, "err", err)
			continue
		}
		slog.Debug("Using font", "path", path)
		return newFace, path
	}

	slog.Warn("No system font found, using the embedded Go font")
	f, err := opentype.Parse(goregular.TTF)
	if err == nil {
		if newFace, err := faceFactory(f); err == nil {
			return newFace, "goregular"
		}
	}

	slog.Warn("Embedded font unavailable, falling back to a bitmap font", "err", err)
	return func() font.Face { return basicfont.Face7x13 }, "basicfont"
}

func parseFontFile(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".ttc") {
		collection, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse collection: %w", err)
		}
		return collection.Font(0)
	}

	return opentype.Parse(data)
}

func faceFactory(f *opentype.Font) (faceFunc, error) {
	opts := &opentype.FaceOptions{
		Size:    FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	}

	check, err := opentype.NewFace(f, opts)
	if err != nil {
		return nil, err
	}
	check.Close()

	return func() font.Face {
		face, err := opentype.NewFace(f, opts)
		if err != nil {
			return basicfont.Face7x13
		}
		return face
	}, nil
}
