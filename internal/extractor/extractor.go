// Package extractor locates a square record sleeve or label in a photograph
// and rectifies it to a fixed-size square.
//
// The pipeline runs top to bottom with no feedback: sharpen, segment the
// foreground, detect straight edges, deduplicate and pair them, resolve four
// corners and warp the original image. Any stage may end the run with a
// *Failure, after which callers are expected to fall back to the original
// image.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/geometry"
	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/metrics"
)

// Snapshot names, in pipeline order.
const (
	SnapshotOriginal      = "1-original"
	SnapshotSharpened     = "2-sharpened"
	SnapshotMask          = "3-mask"
	SnapshotCanny         = "4-canny_edges"
	SnapshotDilated       = "5-dilated_edges"
	SnapshotDetectedLines = "6-detected_lines"
	SnapshotCorners       = "7-corners"
	SnapshotWarped        = "8-warped"
)

// Sink receives diagnostic snapshots. Save must not retain img after it
// returns and reports its own errors; the pipeline never reads snapshots back.
type Sink interface {
	Save(ctx context.Context, run, name string, img gocv.Mat)
}

// Result is a successful extraction. Image is OutputSize x OutputSize and
// must be closed by the caller.
type Result struct {
	Image      gocv.Mat
	Corners    geometry.Quad
	Resolution geometry.Resolution
	Detected   int
}

// Close releases the rectified image.
func (r *Result) Close() error {
	return r.Image.Close()
}

// Extractor runs the pipeline. It holds no per-image state and may be used
// from several goroutines as long as the Segmenter and Sink allow it.
type Extractor struct {
	cfg  Config
	seg  Segmenter
	log  zerolog.Logger
	sink Sink
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for stage traces and failures.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// WithSink enables debug snapshots.
func WithSink(s Sink) Option {
	return func(e *Extractor) { e.sink = s }
}

// New builds an Extractor. The configuration is checked for values that
// would make the pipeline misbehave rather than fail cleanly.
func New(cfg Config, seg Segmenter, opts ...Option) (*Extractor, error) {
	if seg == nil {
		return nil, errors.New("extractor: segmenter is required")
	}
	if len(cfg.SharpenKernel) != 9 {
		return nil, fmt.Errorf("extractor: sharpen kernel has %d values, need 9", len(cfg.SharpenKernel))
	}
	switch geometry.Strategy(cfg.Strategy) {
	case geometry.StrategyBestFit, geometry.StrategySimple:
	default:
		return nil, fmt.Errorf("extractor: unknown strategy %q", cfg.Strategy)
	}
	if cfg.OutputSize <= 0 {
		return nil, fmt.Errorf("extractor: output size must be positive, got %d", cfg.OutputSize)
	}

	e := &Extractor{
		cfg: cfg,
		seg: seg,
		log: logging.Component("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the configuration the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// Extract finds the cover in img and returns it rectified. img is not
// modified. Every error is a *Failure matching ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, img gocv.Mat) (res *Result, err error) {
	run := logging.CorrelationIDFromContext(ctx)
	if run == "" {
		run = logging.GenerateCorrelationID()
	}
	log := e.log.With().Str("run", run).Logger()

	defer func() {
		reason := ReasonOf(err)
		metrics.RecordOutcome(string(reason))
		if err != nil {
			log.Warn().Err(err).Str("reason", string(reason)).Msg("extraction failed")
		}
	}()

	if img.Empty() {
		return nil, fail(ReasonInvalidInput, errEmptyImage)
	}
	width, height := img.Cols(), img.Rows()
	log.Debug().Int("width", width).Int("height", height).Msg("extraction started")
	e.snapshot(ctx, run, SnapshotOriginal, img)

	start := time.Now()
	sharp, err := Sharpen(img, e.cfg.SharpenKernel)
	if err != nil {
		return nil, fail(ReasonInvalidInput, err)
	}
	defer sharp.Close()
	metrics.ObserveStage("sharpen", start)
	e.snapshot(ctx, run, SnapshotSharpened, sharp)

	start = time.Now()
	mask, err := e.mask(ctx, sharp, width, height)
	if err != nil {
		return nil, fail(ReasonSegmentation, err)
	}
	defer mask.Close()
	metrics.ObserveStage("mask", start)
	e.snapshot(ctx, run, SnapshotMask, mask)

	start = time.Now()
	det, err := DetectLines(mask, e.cfg, log)
	if err != nil {
		return nil, fail(ReasonInsufficientLines, err)
	}
	defer det.Close()
	metrics.ObserveStage("lines", start)
	log.Debug().Int("lines", len(det.Lines)).Msg("lines detected")
	e.snapshot(ctx, run, SnapshotCanny, det.Edges)
	e.snapshot(ctx, run, SnapshotDilated, det.Dilated)
	if e.sink != nil {
		overlay := drawLines(img, det.Lines)
		e.snapshot(ctx, run, SnapshotDetectedLines, overlay)
		overlay.Close()
	}

	start = time.Now()
	r, err := geometry.Resolve(det.Lines, width, height, e.cfg.geometryParams(width, height))
	metrics.ObserveStage("resolve", start)
	metrics.RecordLines(len(det.Lines), len(r.Unique))
	log.Debug().
		Int("unique", len(r.Unique)).
		Int("pairs", len(r.Pairs)).
		Msg("lines resolved")
	if err != nil {
		if errors.Is(err, geometry.ErrOutOfBounds) {
			e.snapshotCorners(ctx, run, img, r)
		}
		return nil, fail(geometryReason(err), err)
	}
	log.Debug().Stringer("corners", r.Quad).Msg("corners resolved")
	e.snapshotCorners(ctx, run, img, r)

	start = time.Now()
	warped, err := Rectify(img, r.Quad, e.cfg.OutputSize)
	if err != nil {
		return nil, fail(ReasonWarp, err)
	}
	metrics.ObserveStage("warp", start)
	e.snapshot(ctx, run, SnapshotWarped, warped)

	return &Result{
		Image:      warped,
		Corners:    r.Quad,
		Resolution: r,
		Detected:   len(det.Lines),
	}, nil
}

// mask asks the segmenter for a foreground mask of sharp and normalises it.
func (e *Extractor) mask(ctx context.Context, sharp gocv.Mat, width, height int) (gocv.Mat, error) {
	raw, err := e.seg.Segment(ctx, sharp)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("segment: %w", err)
	}
	defer raw.Close()

	mask, err := PrepareMask(raw, width, height, e.cfg)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("prepare mask: %w", err)
	}
	return mask, nil
}

// ExtractOrOriginal returns the rectified cover, or a copy of img when
// extraction fails. The boolean reports whether extraction succeeded. The
// returned Mat must be closed by the caller.
func (e *Extractor) ExtractOrOriginal(ctx context.Context, img gocv.Mat) (gocv.Mat, bool) {
	res, err := e.Extract(ctx, img)
	if err != nil {
		return img.Clone(), false
	}
	return res.Image, true
}

// ExtractPNG decodes an encoded image, extracts the cover and returns it
// as PNG bytes.
func (e *Extractor) ExtractPNG(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imageio.Decode(data)
	if err != nil {
		metrics.RecordOutcome(string(ReasonInvalidInput))
		return nil, fail(ReasonInvalidInput, err)
	}
	defer img.Close()

	res, err := e.Extract(ctx, img)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	out, err := imageio.EncodePNG(res.Image)
	if err != nil {
		return nil, fail(ReasonWarp, err)
	}
	return out, nil
}

func (e *Extractor) snapshot(ctx context.Context, run, name string, img gocv.Mat) {
	if e.sink == nil {
		return
	}
	e.sink.Save(ctx, run, name, img)
}

func (e *Extractor) snapshotCorners(ctx context.Context, run string, img gocv.Mat, r geometry.Resolution) {
	if e.sink == nil {
		return
	}
	overlay := drawCorners(img, r.First, r.Second, r.Quad)
	defer overlay.Close()
	e.sink.Save(ctx, run, SnapshotCorners, overlay)
}
