package extractor

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/geometry"
)

var (
	detectedColor = color.RGBA{255, 0, 255, 0}
	chosenColor   = color.RGBA{0, 255, 0, 0}
	cornerColor   = color.RGBA{0, 0, 255, 0}
)

// asColor returns a 3-channel copy of img for drawing overlays.
func asColor(img gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	if img.Channels() == 1 {
		gocv.CvtColor(img, &dst, gocv.ColorGrayToBGR)
		return dst
	}
	img.CopyTo(&dst)
	return dst
}

func drawLine(img *gocv.Mat, l geometry.Line, clr color.RGBA, thickness int) {
	gocv.Line(img, image.Pt(l.X1, l.Y1), image.Pt(l.X2, l.Y2), clr, thickness)
}

// drawLines renders every detected segment over base.
func drawLines(base gocv.Mat, lines []geometry.Line) gocv.Mat {
	out := asColor(base)
	for _, l := range lines {
		drawLine(&out, l, detectedColor, 2)
	}
	return out
}

// drawCorners renders the two chosen pairs and the resolved corners over base.
func drawCorners(base gocv.Mat, first, second geometry.Pair, quad geometry.Quad) gocv.Mat {
	out := asColor(base)
	for _, l := range []geometry.Line{first.A, first.B, second.A, second.B} {
		drawLine(&out, l, chosenColor, 3)
	}

	radius := max(4, min(out.Cols(), out.Rows())/100)
	for _, p := range quad {
		center := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
		gocv.Circle(&out, center, radius, cornerColor, -1)
	}
	return out
}
