package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	// decoders for user supplied backgrounds
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// decodeBackground decodes data, applies EXIF orientation, resizes it to fill
// the canvas exactly and flattens any transparency onto white.
func decodeBackground(data []byte, width, height int) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}

	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	flat := imaging.New(width, height, color.White)
	return imaging.Overlay(flat, resized, image.Pt(0, 0), 1.0), nil
}

func fillSolid(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func parseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

func parsePalette(hexes []string) ([]color.RGBA, error) {
	palette := make([]color.RGBA, 0, len(hexes))
	for _, h := range hexes {
		c, err := parseColor(h)
		if err != nil {
			return nil, err
		}
		palette = append(palette, c)
	}
	return palette, nil
}
