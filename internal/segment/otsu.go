// Package segment provides foreground segmenters for the extraction pipeline.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Polarity says whether the subject is brighter or darker than its
// background.
type Polarity string

const (
	// PolarityAuto decides per image from the brightness of the borders.
	PolarityAuto Polarity = "auto"
	// PolarityBright treats the brighter Otsu class as foreground.
	PolarityBright Polarity = "bright"
	// PolarityDark treats the darker Otsu class as foreground.
	PolarityDark Polarity = "dark"
)

// ErrNoForeground is returned when the gray levels of an image do not split
// into two distinct classes, as with sensor noise or a textured surface.
var ErrNoForeground = errors.New("otsu: no distinct foreground")

// DefaultMinSeparability rejects unimodal histograms. A Gaussian split at
// its mean scores 2/pi (about 0.64); a uniform one scores 0.75.
const DefaultMinSeparability = 0.72

// brightBorder is the mean border gray level from which the background is
// considered bright.
const brightBorder = 150.0

// Otsu separates a subject from a roughly uniform background with a global
// Otsu threshold. It needs no network and is deterministic.
type Otsu struct {
	// BlurSize is the Gaussian kernel side; 0 disables blurring.
	BlurSize int
	// CloseSize is the morphological close kernel side; 0 disables closing.
	CloseSize int
	Polarity  Polarity
	// MinSeparability is the lowest accepted Otsu separability of the
	// blurred gray image; 0 disables the check.
	MinSeparability float64
}

// NewOtsu returns an Otsu segmenter with a 5x5 blur, 7x7 close,
// automatic polarity and the default separability floor.
func NewOtsu() *Otsu {
	return &Otsu{BlurSize: 5, CloseSize: 7, Polarity: PolarityAuto, MinSeparability: DefaultMinSeparability}
}

// ParsePolarity validates a polarity name. Empty means auto.
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(s); p {
	case "":
		return PolarityAuto, nil
	case PolarityAuto, PolarityBright, PolarityDark:
		return p, nil
	default:
		return "", fmt.Errorf("unknown polarity %q", s)
	}
}

// Segment returns a single-channel 0/255 mask the size of img.
func (o *Otsu) Segment(_ context.Context, img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), errors.New("otsu: empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	if o.BlurSize > 0 {
		size := o.BlurSize | 1
		gocv.GaussianBlur(gray, &gray, image.Pt(size, size), 0, 0, gocv.BorderDefault)
	}

	if o.MinSeparability > 0 {
		if sep, ok := Separability(gray); ok && sep < o.MinSeparability {
			return gocv.NewMat(), fmt.Errorf("%w: separability %.2f below %.2f", ErrNoForeground, sep, o.MinSeparability)
		}
	}

	typ := gocv.ThresholdBinary
	if o.darkSubject(gray) {
		typ = gocv.ThresholdBinaryInv
	}
	mask := gocv.NewMat()
	gocv.Threshold(gray, &mask, 0, 255, typ|gocv.ThresholdOtsu)

	if o.CloseSize > 0 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(o.CloseSize, o.CloseSize))
		defer kernel.Close()
		gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	}
	return mask, nil
}

func (o *Otsu) darkSubject(gray gocv.Mat) bool {
	switch o.Polarity {
	case PolarityDark:
		return true
	case PolarityBright:
		return false
	default:
		return BorderMean(gray) >= brightBorder
	}
}

// BorderMean is the mean gray level of the four border bands of a
// single-channel image. Each band is 2% of the shorter side, at least 5px.
func BorderMean(gray gocv.Mat) float64 {
	h, w := gray.Rows(), gray.Cols()
	band := int(math.Max(5, float64(min(h, w))*0.02))
	band = min(band, h, w)

	rects := []image.Rectangle{
		image.Rect(0, 0, w, band),
		image.Rect(0, h-band, w, h),
		image.Rect(0, 0, band, h),
		image.Rect(w-band, 0, w, h),
	}
	var sum float64
	for _, r := range rects {
		region := gray.Region(r)
		sum += region.Mean().Val1
		region.Close()
	}
	return sum / float64(len(rects))
}

// Separability is the ratio of the best Otsu between-class variance to the
// total variance of an 8-bit single-channel image, in [0, 1]. It reports
// false for an empty or flat image.
func Separability(gray gocv.Mat) (float64, bool) {
	if gray.Empty() {
		return 0, false
	}
	data, err := gray.DataPtrUint8()
	if err != nil {
		return 0, false
	}

	var hist [256]float64
	for _, v := range data {
		hist[v]++
	}
	n := float64(len(data))

	var mean float64
	for i, c := range hist {
		mean += float64(i) * c / n
	}
	var total float64
	for i, c := range hist {
		d := float64(i) - mean
		total += d * d * c / n
	}
	if total == 0 {
		return 0, false
	}

	var w0, mu0, best float64
	for i, c := range hist[:255] {
		p := c / n
		w0 += p
		mu0 += float64(i) * p
		if w0 == 0 || w0 >= 1 {
			continue
		}
		d := mean*w0 - mu0
		if between := d * d / (w0 * (1 - w0)); between > best {
			best = between
		}
	}
	return math.Min(best/total, 1), true
}
