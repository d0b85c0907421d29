package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/geometry"
)

var errEmptyImage = errors.New("empty image")

// Segmenter separates the record or cover from its background. The returned
// mask may have any channel count; the pipeline coerces it to grayscale.
type Segmenter interface {
	Segment(ctx context.Context, img gocv.Mat) (gocv.Mat, error)
}

// Sharpen convolves src with a row-major 3x3 kernel at the source depth.
func Sharpen(src gocv.Mat, kernel []float32) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyImage
	}
	if len(kernel) != 9 {
		return gocv.NewMat(), fmt.Errorf("sharpen kernel has %d values, need 9", len(kernel))
	}

	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer k.Close()
	for i, v := range kernel {
		k.SetFloatAt(i/3, i%3, v)
	}

	dst := gocv.NewMat()
	gocv.Filter2D(src, &dst, -1, k, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return dst, nil
}

// toGray returns a single-channel copy of src.
func toGray(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&dst)
	case 4:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	}
	return dst
}

func dilate(src gocv.Mat, size, iterations int) gocv.Mat {
	dst := src.Clone()
	if iterations <= 0 {
		return dst
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(size, size))
	defer kernel.Close()

	for i := 0; i < iterations; i++ {
		next := gocv.NewMat()
		gocv.Dilate(dst, &next, kernel)
		dst.Close()
		dst = next
	}
	return dst
}

// PrepareMask coerces a segmenter mask to single-channel grayscale at the
// given size and, when cfg.BinarizeMask is set, thresholds and dilates it.
func PrepareMask(raw gocv.Mat, width, height int, cfg Config) (gocv.Mat, error) {
	if raw.Empty() {
		return gocv.NewMat(), errEmptyImage
	}

	gray := toGray(raw)
	if gray.Cols() != width || gray.Rows() != height {
		resized := gocv.NewMat()
		gocv.Resize(gray, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationNearestNeighbor)
		gray.Close()
		gray = resized
	}
	if !cfg.BinarizeMask {
		return gray, nil
	}
	defer gray.Close()

	// Threshold is exclusive, so subtract one to keep pixels equal to it.
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, cfg.MaskThreshold-1, 255, gocv.ThresholdBinary)

	return dilate(binary, cfg.MaskDilateSize, cfg.MaskDilateIterations), nil
}

// Detection is the output of DetectLines. Edges and Dilated are kept for
// debug snapshots and must be closed by the caller.
type Detection struct {
	Lines   []geometry.Line
	Edges   gocv.Mat
	Dilated gocv.Mat
}

// Close releases the intermediate edge maps.
func (d *Detection) Close() {
	d.Edges.Close()
	d.Dilated.Close()
}

// DetectLines runs Canny, dilates the edges and extracts segments with the
// probabilistic Hough transform. Malformed or zero-length segments are
// logged and dropped. No lines is not an error.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func DetectLines(mask gocv.Mat, cfg Config, log zerolog.Logger) (*Detection, error) {
	if mask.Empty() {
		return nil, errEmptyImage
	}

	d := &Detection{Edges: gocv.NewMat()}
	gocv.Canny(mask, &d.Edges, cfg.CannyLow, cfg.CannyHigh)
	d.Dilated = dilate(d.Edges, cfg.EdgeDilateSize, cfg.EdgeDilateIterations)

	raw := gocv.NewMat()
	defer raw.Close()
	gocv.HoughLinesPWithParams(d.Dilated, &raw, cfg.HoughRho, cfg.houghTheta(),
		cfg.HoughThreshold, cfg.MinLineLength, cfg.MaxLineGap)

	for i := 0; i < raw.Rows(); i++ {
		coords := raw.GetVeciAt(i, 0)
		l, err := geometry.LineFromCoords(coords)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("dropping malformed line")
			continue
		}
		if l.Degenerate() {
			log.Debug().Stringer("line", l).Msg("dropping zero-length line")
			continue
		}
		d.Lines = append(d.Lines, l)
	}
	return d, nil
}

// Rectify warps src so that quad maps onto a size x size square.
func Rectify(src gocv.Mat, quad geometry.Quad, size int) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyImage
	}

	from := make([]gocv.Point2f, len(quad))
	for i, p := range quad {
		from[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	s := float32(size)
	to := []gocv.Point2f{{X: 0, Y: 0}, {X: s, Y: 0}, {X: s, Y: s}, {X: 0, Y: s}}

	fromVec := gocv.NewPoint2fVectorFromPoints(from)
	defer fromVec.Close()
	toVec := gocv.NewPoint2fVectorFromPoints(to)
	defer toVec.Close()

	m := gocv.GetPerspectiveTransform2f(fromVec, toVec)
	defer m.Close()
	if m.Empty() {
		return gocv.NewMat(), errors.New("perspective transform is empty")
	}

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, m, image.Pt(size, size))
	if w, h := dst.Cols(), dst.Rows(); dst.Empty() || w != size || h != size {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("warp produced %dx%d image, want %dx%d", w, h, size, size)
	}
	return dst, nil
}
