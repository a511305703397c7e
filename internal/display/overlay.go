package display

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/sweeney/book-kiosk/internal/status"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	overlayText       = color.RGBA{R: 0xd0, A: 0xff}
	overlayBackground = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xd0}
)

const (
	overlayScale  = 3
	overlayMargin = 8
)

// overlayLines returns the diagnostic text for the current state, one
// line per active condition. No conditions means no overlay.
func overlayLines(snap status.Snapshot) []string {
	var lines []string
	if snap.SerialFail {
		lines = append(lines, "SERIAL CONNECTION FAILED")
	}
	if snap.SerialWaiting {
		lines = append(lines, "WAITING FOR SERIAL DEVICE")
	}
	if snap.VideoLoadFailure() {
		pages := make([]string, len(snap.Unavailable))
		for i, p := range snap.Unavailable {
			pages[i] = string(p)
		}
		lines = append(lines, "VIDEO LOAD FAILURE: "+strings.Join(pages, ", "))
	}
	if len(snap.SuspectedFaulty) > 0 {
		pages := make([]string, len(snap.SuspectedFaulty))
		for i, p := range snap.SuspectedFaulty {
			pages[i] = fmt.Sprint(p)
		}
		lines = append(lines, "SUSPECTED FAULTY PAGES: "+strings.Join(pages, ", "))
	}
	return lines
}

// drawOverlay renders lines in the top-left corner of dst. Text is drawn
// with the 7x13 bitmap face and scaled up so it is legible across a room.
func drawOverlay(dst *image.RGBA, lines []string) {
	if len(lines) == 0 {
		return
	}
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()

	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	text := image.NewRGBA(image.Rect(0, 0, width+4, lineHeight*len(lines)+4))
	draw.Draw(text, text.Bounds(), image.NewUniform(overlayBackground), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: text, Src: image.NewUniform(overlayText), Face: face}
	for i, l := range lines {
		d.Dot = fixed.P(2, 2+face.Metrics().Ascent.Ceil()+i*lineHeight)
		d.DrawString(l)
	}

	target := image.Rect(0, 0, text.Bounds().Dx()*overlayScale, text.Bounds().Dy()*overlayScale).
		Add(image.Pt(overlayMargin, overlayMargin)).
		Intersect(dst.Bounds())
	draw.NearestNeighbor.Scale(dst, target, text, text.Bounds(), draw.Over, nil)
}
