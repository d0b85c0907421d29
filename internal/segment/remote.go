package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/metrics"
)

// maxResponseBytes bounds the mask image read from the service.
const maxResponseBytes = 64 << 20

// RemoteConfig configures the background-removal service client.
type RemoteConfig struct {
	// URL receives a multipart POST with the image in field "file" and
	// answers with an encoded image whose alpha channel, or luminance when
	// there is no alpha, is the foreground mask.
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`

	// Breaker settings. The circuit opens after FailureThreshold
	// consecutive failures and probes again after OpenTimeout.
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gte=0"`
	HalfOpenRequests uint32        `koanf:"half_open_requests" validate:"gte=1"`
}

// DefaultRemoteConfig returns conservative client settings with no URL.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
		HalfOpenRequests: 1,
	}
}

// Remote delegates segmentation to an HTTP service behind a circuit breaker.
type Remote struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	log    zerolog.Logger
}

const breakerName = "segmenter"

// NewRemote builds a Remote client. A nil client uses one with cfg.Timeout.
func NewRemote(cfg RemoteConfig, client *http.Client) (*Remote, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote segmenter: url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := logging.Component("segmenter")

	metrics.SegmenterBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.SegmenterBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Remote{
		url:    cfg.URL,
		client: client,
		cb:     cb,
		log:    log,
	}, nil
}

// Segment posts img to the service and decodes the returned mask.
func (r *Remote) Segment(ctx context.Context, img gocv.Mat) (gocv.Mat, error) {
	payload, err := imageio.EncodePNG(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("remote segmenter: %w", err)
	}

	body, err := r.cb.Execute(func() ([]byte, error) {
		return r.post(ctx, payload)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.SegmenterRequests.WithLabelValues("rejected").Inc()
		return gocv.NewMat(), fmt.Errorf("remote segmenter: %w", err)
	case err != nil:
		metrics.SegmenterRequests.WithLabelValues("error").Inc()
		return gocv.NewMat(), fmt.Errorf("remote segmenter: %w", err)
	}
	metrics.SegmenterRequests.WithLabelValues("ok").Inc()

	mask, err := decodeMask(body)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("remote segmenter: %w", err)
	}
	r.log.Debug().Int("bytes", len(body)).Msg("mask received")
	return mask, nil
}

// State reports the breaker state.
func (r *Remote) State() gobreaker.State {
	return r.cb.State()
}

func (r *Remote) post(ctx context.Context, payload []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segmentation failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// decodeMask returns the alpha channel of an RGBA response, or the
// luminance of anything else.
func decodeMask(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil || img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: mask response", imageio.ErrUndecodable)
	}
	if img.Channels() != 4 {
		img.Close()
		return imageio.DecodeGray(data)
	}
	defer img.Close()

	channels := gocv.Split(img)
	for _, c := range channels[:3] {
		c.Close()
	}
	return channels[3], nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
