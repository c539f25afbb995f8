package caption

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	wrapWidth  = 60
	lineHeight = 30
	margin     = 60
	fontSize   = 24
	textLeft   = 10
)

// candidate locations for the caption font; the default bitmap face is
// used when none of them is readable
var fontPaths = []string{
	"DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Wrap breaks text into lines of at most width characters on word
// boundaries, hard-breaking words longer than width. Width counts
// characters, not bytes. It always returns at least one line.
func Wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := ""
	currentLen := 0
	for _, word := range words {
		runes := []rune(word)
		for len(runes) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
				currentLen = 0
			}
			lines = append(lines, string(runes[:width]))
			runes = runes[width:]
		}
		word = string(runes)
		wordLen := len(runes)
		switch {
		case current == "":
			current = word
			currentLen = wordLen
		case currentLen+1+wordLen <= width:
			current += " " + word
			currentLen += 1 + wordLen
		default:
			lines = append(lines, current)
			current = word
			currentLen = wordLen
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// Annotate returns an RGB canvas holding the image with its prompt drawn
// in black on a white band below it. Inputs of any color mode are accepted.
func Annotate(img image.Image, prompt string) *image.RGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	lines := Wrap(prompt, wrapWidth)
	textHeight := len(lines) * lineHeight

	canvas := image.NewRGBA(image.Rect(0, 0, width, height+margin+textHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 0, width, height), img, bounds.Min, draw.Src)

	face := loadFace()
	ascent := face.Metrics().Ascent.Ceil()
	y := height + margin/2 + ascent
	for _, line := range lines {
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.Black),
			Face: face,
			Dot:  fixed.P(textLeft, y),
		}
		d.DrawString(line)
		y += lineHeight
	}

	return canvas
}

func loadFace() font.Face {
	for _, path := range fontPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		parsed, err := opentype.Parse(data)
		if err != nil {
			log.Debug().Msgf("failed to parse font %s: %v", path, err)
			continue
		}
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    fontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			continue
		}
		return face
	}
	return basicfont.Face7x13
}
