package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const strokeWidth = 3

// Style is the colour scheme used when compositing elements onto a frame
type Style struct {
	Contour color.RGBA // box and band outline
	Result  color.RGBA // label background
	Text    color.RGBA
}

// DefaultStyle matches the colours shipped in the config defaults
func DefaultStyle() Style {
	c, _ := ParseColor("#FFD22B")
	return Style{Contour: c, Result: c, Text: color.RGBA{A: 0xff}}
}

// ParseColor parses #RRGGBB or #RGB
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Compose draws elements onto img: outlined boxes, filled bands and index labels
func Compose(img draw.Image, elements []Element, style Style) {
	bounds := img.Bounds()
	for _, el := range elements {
		if el.Geometry == nil {
			continue
		}
		g := el.Geometry
		strokeRect(img, toImageRect(g.Box), style.Contour)
		if g.Band != nil {
			band := toImageRect(*g.Band).Intersect(bounds)
			draw.Draw(img, band, image.NewUniform(withAlpha(style.Contour, 0x60)), image.Point{}, draw.Over)
		}

		label := toImageRect(g.Label).Intersect(bounds)
		if label.Empty() {
			continue
		}
		draw.Draw(img, label, image.NewUniform(style.Result), image.Point{}, draw.Src)
		drawLabel(img, label, fmt.Sprintf("%d %s", el.DisplayIndex, el.Value), style.Text)
	}
}

func drawLabel(img draw.Image, r image.Rectangle, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
	}
	text = fitLabel(d, text, fixed.I(r.Dx()-4))
	if text == "" {
		return
	}
	ascent := face.Metrics().Ascent.Ceil()
	baseline := r.Min.Y + (r.Dy()+ascent)/2
	d.Dot = fixed.P(r.Min.X+2, baseline)
	d.DrawString(text)
}

// fitLabel drops trailing runes until text fits in maxWidth
func fitLabel(d *font.Drawer, text string, maxWidth fixed.Int26_6) string {
	for len(text) > 0 && d.MeasureString(text) > maxWidth {
		_, size := utf8.DecodeLastRuneInString(text)
		text = text[:len(text)-size]
	}
	return text
}

func strokeRect(img draw.Image, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+strokeWidth),
		image.Rect(r.Min.X, r.Max.Y-strokeWidth, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+strokeWidth, r.Max.Y),
		image.Rect(r.Max.X-strokeWidth, r.Min.Y, r.Max.X, r.Max.Y),
	}
	bounds := img.Bounds()
	for _, e := range edges {
		draw.Draw(img, e.Intersect(bounds), src, image.Point{}, draw.Src)
	}
}

func toImageRect(r types.Rect) image.Rectangle {
	return image.Rect(int(r.X), int(r.Y), int(r.X+r.W), int(r.Y+r.H))
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}
