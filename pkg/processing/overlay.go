package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/detailseg/pkg/types"
)

// CreateDebugOverlay renders the separator signal and the final crop bounds
// on a copy of img. Separator rows get a red marker strip along the left
// edge, crop tops are drawn green and crop bottoms gold.
func CreateDebugOverlay(img image.Image, signal types.RowSignal, crops []types.Region) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	red := color.NRGBA{255, 0, 0, 255}
	green := color.NRGBA{0, 200, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	strip := int(math.Max(4, 0.02*float64(w)))
	stroke := int(math.Max(1, 0.002*float64(h)))

	for y, blank := range signal {
		if blank {
			drawHLine(nrgba, y, 0, strip, red)
		}
	}

	for _, crop := range crops {
		for s := 0; s < stroke; s++ {
			drawHLine(nrgba, crop.Start+s, 0, w, green)
			drawHLine(nrgba, crop.End-s, 0, w, gold)
		}
		drawVLine(nrgba, w-1, crop.Start, crop.End+1, green)
	}

	return nrgba
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
