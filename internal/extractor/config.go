package extractor

import (
	"math"

	"vinyl-cover-extractor/internal/geometry"
)

// Config holds every tunable of the extraction pipeline. DefaultConfig
// reproduces the reference behaviour.
type Config struct {
	// SharpenKernel is a row-major 3x3 convolution kernel.
	SharpenKernel []float32 `koanf:"sharpen_kernel" validate:"len=9"`

	// BinarizeMask thresholds and dilates the segmenter output. When false
	// the grayscale mask is used as is.
	BinarizeMask bool `koanf:"binarize_mask"`
	// MaskThreshold is the minimum brightness of a foreground mask pixel.
	MaskThreshold float32 `koanf:"mask_threshold" validate:"gte=0,lte=255"`
	MaskDilateSize       int `koanf:"mask_dilate_size" validate:"gte=1"`
	MaskDilateIterations int `koanf:"mask_dilate_iterations" validate:"gte=0"`

	CannyLow             float32 `koanf:"canny_low" validate:"gte=0"`
	CannyHigh            float32 `koanf:"canny_high" validate:"gtfield=CannyLow"`
	EdgeDilateSize       int     `koanf:"edge_dilate_size" validate:"gte=1"`
	EdgeDilateIterations int     `koanf:"edge_dilate_iterations" validate:"gte=0"`

	HoughRho          float32 `koanf:"hough_rho" validate:"gt=0"`
	HoughThetaDegrees float32 `koanf:"hough_theta_degrees" validate:"gt=0"`
	HoughThreshold    int     `koanf:"hough_threshold" validate:"gt=0"`
	MinLineLength     float32 `koanf:"min_line_length" validate:"gte=0"`
	MaxLineGap        float32 `koanf:"max_line_gap" validate:"gte=0"`

	// ProximityFraction of the shorter image side under which two line
	// endpoints count as the same place.
	ProximityFraction   float64 `koanf:"proximity_fraction" validate:"gt=0,lte=1"`
	DuplicateSimilarity float64 `koanf:"duplicate_similarity" validate:"gt=0,lte=1"`
	AxisSimilarity      float64 `koanf:"axis_similarity" validate:"gt=0,lte=1"`

	// Strategy is "best-fit" (default) or "simple".
	Strategy string `koanf:"strategy" validate:"oneof=best-fit simple"`

	// OutputSize is the side of the rectified square in pixels.
	OutputSize int `koanf:"output_size" validate:"gt=0"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		SharpenKernel: []float32{
			0, -2, 0,
			-2, 10, -2,
			0, -2, 0,
		},

		BinarizeMask:         true,
		MaskThreshold:        150,
		MaskDilateSize:       5,
		MaskDilateIterations: 1,

		CannyLow:             40,
		CannyHigh:            150,
		EdgeDilateSize:       5,
		EdgeDilateIterations: 2,

		HoughRho:          1,
		HoughThetaDegrees: 1,
		HoughThreshold:    100,
		MinLineLength:     100,
		MaxLineGap:        100,

		ProximityFraction:   0.3,
		DuplicateSimilarity: 0.92,
		AxisSimilarity:      0.9,
		Strategy:            string(geometry.StrategyBestFit),

		OutputSize: 500,
	}
}

func (c Config) houghTheta() float32 {
	return c.HoughThetaDegrees * math.Pi / 180
}

func (c Config) geometryParams(width, height int) geometry.Params {
	return geometry.Params{
		ProximityThreshold:  geometry.ProximityThreshold(width, height, c.ProximityFraction),
		DuplicateSimilarity: c.DuplicateSimilarity,
		AxisSimilarity:      c.AxisSimilarity,
		Strategy:            geometry.Strategy(c.Strategy),
	}
}
