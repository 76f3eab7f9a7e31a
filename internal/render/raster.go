package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/fogleman/gg"
)

// Rasterize paints scene in order onto a new image
func Rasterize(scene Scene) *image.RGBA {
	w, h := scene.Width, scene.Height
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dc := gg.NewContextForRGBA(img)
	for i := range scene.Shapes {
		sh := &scene.Shapes[i]
		dc.SetColor(color.NRGBA(sh.Fill))
		switch sh.Kind {
		case KindRect:
			dc.DrawRectangle(sh.X, sh.Y, sh.W, sh.H)
			dc.Fill()
		case KindCircle:
			dc.DrawCircle(sh.X, sh.Y, sh.R)
			dc.Fill()
		case KindLine:
			stroke(dc, sh)
		}
	}
	return img
}

// EncodePNG rasterizes scene and writes it to w
func EncodePNG(w io.Writer, scene Scene) error {
	if err := png.Encode(w, Rasterize(scene)); err != nil {
		return fmt.Errorf("render: failed to encode png: %w", err)
	}
	return nil
}

func stroke(dc *gg.Context, sh *Shape) {
	dc.SetLineWidth(math.Max(sh.Width, 1))
	dc.SetLineCapButt()
	if sh.DashOn > 0 && sh.DashOff > 0 {
		dc.SetDash(sh.DashOn, sh.DashOff)
	} else {
		dc.SetDash()
	}
	dc.DrawLine(sh.X, sh.Y, sh.X2, sh.Y2)
	dc.Stroke()
}
