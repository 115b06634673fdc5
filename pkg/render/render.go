// Package render draws shopping list text onto a generated PNG canvas.
package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"math/rand/v2"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	Width           = 1200
	Padding         = 60
	FontSize        = 48
	LineSpacing     = 20
	HeaderAllowance = 40
	FirstLineOffset = 30
	ShadowOffset    = 2
)

var ErrEmptyText = errors.New("nothing to render")

var (
	DefaultPalette     = []string{"#FAFAFF", "#FFFAFA", "#FAFFFA", "#FFFFFA"}
	DefaultTextColor   = "#1E1E1E"
	DefaultShadowColor = "#C8C8C8"
)

// Options configures a Renderer. Zero values select the defaults.
type Options struct {
	FontPath    string
	Palette     []string
	TextColor   string
	ShadowColor string
}

// Image is an encoded PNG and the layout it was drawn with.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Lines  int
}

// Renderer is safe for concurrent use.
type Renderer struct {
	newFace  faceFunc
	fontName string
	palette  []color.RGBA
	text     color.RGBA
	shadow   color.RGBA
	pick     func(n int) int
}

// New resolves the font once and parses the configured colours. A missing
// font is never an error; an unparseable colour is.
func New(opts Options) (*Renderer, error) {
	if len(opts.Palette) == 0 {
		opts.Palette = DefaultPalette
	}
	if opts.TextColor == "" {
		opts.TextColor = DefaultTextColor
	}
	if opts.ShadowColor == "" {
		opts.ShadowColor = DefaultShadowColor
	}

	palette, err := parsePalette(opts.Palette)
	if err != nil {
		return nil, err
	}
	text, err := parseColor(opts.TextColor)
	if err != nil {
		return nil, err
	}
	shadow, err := parseColor(opts.ShadowColor)
	if err != nil {
		return nil, err
	}

	newFace, name := loadFont(opts.FontPath)

	return &Renderer{
		newFace:  newFace,
		fontName: name,
		palette:  palette,
		text:     text,
		shadow:   shadow,
		pick:     rand.IntN,
	}, nil
}

// FontName reports which font file (or built-in font) is in use.
func (r *Renderer) FontName() string {
	return r.fontName
}

// Layout returns the wrapped lines for text and the canvas size they need.
func (r *Renderer) Layout(text string) ([]string, int, int) {
	face := r.newFace()
	defer face.Close()
	lines := Wrap(face, Normalize(text), Width-2*Padding)
	return lines, Width, CanvasHeight(len(lines))
}

// Render draws text on background, or on a random pastel colour when
// background is nil or cannot be decoded. It returns ErrEmptyText when text
// has nothing printable.
func (r *Renderer) Render(text string, background []byte) (*Image, error) {
	if strings.TrimSpace(text) == "" {
		slog.Warn("Empty text passed to renderer")
		return nil, ErrEmptyText
	}

	face := r.newFace()
	defer face.Close()

	lines := Wrap(face, Normalize(text), Width-2*Padding)
	if len(lines) == 0 {
		return nil, ErrEmptyText
	}
	height := CanvasHeight(len(lines))

	canvas := image.NewRGBA(image.Rect(0, 0, Width, height))
	r.paintBackground(canvas, background)
	r.drawLines(canvas, face, lines)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, err
	}

	slog.Info("Image rendered", "width", Width, "height", height, "lines", len(lines), "bytes", buf.Len())
	return &Image{
		Data:   buf.Bytes(),
		Width:  Width,
		Height: height,
		Lines:  len(lines),
	}, nil
}

func (r *Renderer) paintBackground(canvas *image.RGBA, background []byte) {
	b := canvas.Bounds()
	if len(background) > 0 {
		bg, err := decodeBackground(background, b.Dx(), b.Dy())
		if err == nil {
			draw.Draw(canvas, b, bg, image.Point{}, draw.Src)
			slog.Debug("Background applied", "bytes", len(background), "width", b.Dx(), "height", b.Dy())
			return
		}
		slog.Error("Unable to use background, falling back to a solid colour", "err", err)
	} else {
		slog.Debug("No background supplied, using a solid colour")
	}

	fillSolid(canvas, r.palette[r.pick(len(r.palette))])
}

func (r *Renderer) drawLines(canvas *image.RGBA, face font.Face, lines []string) {
	ascent := face.Metrics().Ascent
	d := &font.Drawer{Dst: canvas, Face: face}

	y := Padding + FirstLineOffset
	for _, line := range lines {
		if line != "" {
			d.Src = image.NewUniform(r.shadow)
			d.Dot = fixed.Point26_6{X: fixed.I(Padding + ShadowOffset), Y: fixed.I(y+ShadowOffset) + ascent}
			d.DrawString(line)

			d.Src = image.NewUniform(r.text)
			d.Dot = fixed.Point26_6{X: fixed.I(Padding), Y: fixed.I(y) + ascent}
			d.DrawString(line)
		}
		y += FontSize + LineSpacing
	}
}
