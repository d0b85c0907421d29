package segment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"gocv.io/x/gocv"
)

func whiteSquare(t *testing.T) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 300, 400, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&img, image.Rect(100, 50, 300, 250), color.RGBA{255, 255, 255, 0}, -1)
	return img
}

func TestOtsuSegmentsBrightSquare(t *testing.T) {
	img := whiteSquare(t)
	defer img.Close()

	mask, err := NewOtsu().Segment(context.Background(), img)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer mask.Close()

	if mask.Channels() != 1 || mask.Cols() != 400 || mask.Rows() != 300 {
		t.Fatalf("mask %dx%d with %d channels", mask.Cols(), mask.Rows(), mask.Channels())
	}
	if v := mask.GetUCharAt(150, 200); v != 255 {
		t.Errorf("inside square = %d, want 255", v)
	}
	if v := mask.GetUCharAt(10, 10); v != 0 {
		t.Errorf("background = %d, want 0", v)
	}
}

func TestOtsuPolarity(t *testing.T) {
	dark := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 300, 400, gocv.MatTypeCV8UC3)
	defer dark.Close()
	gocv.Rectangle(&dark, image.Rect(100, 50, 300, 250), color.RGBA{0, 0, 0, 0}, -1)
	bright := whiteSquare(t)
	defer bright.Close()

	tests := []struct {
		name     string
		img      gocv.Mat
		polarity Polarity
		inside   uint8
	}{
		{name: "auto bright subject", img: bright, polarity: PolarityAuto, inside: 255},
		{name: "auto dark subject", img: dark, polarity: PolarityAuto, inside: 255},
		{name: "forced dark on bright subject", img: bright, polarity: PolarityDark, inside: 0},
		{name: "forced bright on dark subject", img: dark, polarity: PolarityBright, inside: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := (&Otsu{Polarity: tt.polarity}).Segment(context.Background(), tt.img)
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			defer mask.Close()

			if v := mask.GetUCharAt(150, 200); v != tt.inside {
				t.Errorf("inside square = %d, want %d", v, tt.inside)
			}
		})
	}
}

func TestBorderMean(t *testing.T) {
	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 0, 0, 0), 100, 100, gocv.MatTypeCV8U)
	defer gray.Close()
	gocv.Rectangle(&gray, image.Rect(20, 20, 80, 80), color.RGBA{0, 0, 0, 0}, -1)

	if m := BorderMean(gray); m != 200 {
		t.Errorf("BorderMean = %v, want 200", m)
	}
}

func TestParsePolarity(t *testing.T) {
	for in, want := range map[string]Polarity{"": PolarityAuto, "auto": PolarityAuto, "dark": PolarityDark, "bright": PolarityBright} {
		got, err := ParsePolarity(in)
		if err != nil || got != want {
			t.Errorf("ParsePolarity(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolarity("negative"); err == nil {
		t.Error("expected error for unknown polarity")
	}
}

func noiseImage(t *testing.T) gocv.Mat {
	t.Helper()
	gocv.SetRNGSeed(7)
	img := gocv.NewMatWithSize(300, 400, gocv.MatTypeCV8UC3)
	gocv.RandU(&img, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(256, 256, 256, 0))
	return img
}

func TestOtsuRejectsNoise(t *testing.T) {
	img := noiseImage(t)
	defer img.Close()

	mask, err := NewOtsu().Segment(context.Background(), img)
	if !errors.Is(err, ErrNoForeground) {
		mask.Close()
		t.Fatalf("error = %v, want ErrNoForeground", err)
	}

	o := NewOtsu()
	o.MinSeparability = 0
	mask, err = o.Segment(context.Background(), img)
	if err != nil {
		t.Fatalf("Segment without floor: %v", err)
	}
	mask.Close()
}

func TestSeparability(t *testing.T) {
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 300, 400, gocv.MatTypeCV8U)
	defer square.Close()
	gocv.Rectangle(&square, image.Rect(100, 50, 300, 250), color.RGBA{255, 255, 255, 0}, -1)

	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 0, 0, 0), 50, 50, gocv.MatTypeCV8U)
	defer flat.Close()

	noise := noiseImage(t)
	defer noise.Close()
	noiseGray := gocv.NewMat()
	defer noiseGray.Close()
	gocv.CvtColor(noise, &noiseGray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(noiseGray, &noiseGray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	if sep, ok := Separability(square); !ok || sep < 0.99 {
		t.Errorf("two-level image separability = %v, %v; want ~1", sep, ok)
	}
	if _, ok := Separability(flat); ok {
		t.Error("flat image should report no separability")
	}
	if sep, ok := Separability(noiseGray); !ok || sep >= DefaultMinSeparability {
		t.Errorf("blurred noise separability = %v, %v; want below %v", sep, ok, DefaultMinSeparability)
	}
}

func TestOtsuEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := NewOtsu().Segment(context.Background(), empty); err == nil {
		t.Error("expected error for empty image")
	}
}

// alphaMaskPNG encodes a transparent 40x30 RGBA image with an opaque block.
func alphaMaskPNG(t *testing.T) []byte {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 10; y < 20; y++ {
		for x := 10; x < 30; x++ {
			rgba.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRemoteSegment(t *testing.T) {
	maskPNG := alphaMaskPNG(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if data, _ := io.ReadAll(file); len(data) == 0 {
			t.Error("empty upload")
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(maskPNG)
	}))
	defer srv.Close()

	cfg := DefaultRemoteConfig()
	cfg.URL = srv.URL
	remote, err := NewRemote(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), 30, 40, gocv.MatTypeCV8UC3)
	defer img.Close()

	mask, err := remote.Segment(context.Background(), img)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	defer mask.Close()

	if mask.Channels() != 1 {
		t.Fatalf("mask channels = %d, want 1", mask.Channels())
	}
	if v := mask.GetUCharAt(15, 20); v != 255 {
		t.Errorf("opaque pixel = %d, want 255", v)
	}
	if v := mask.GetUCharAt(2, 2); v != 0 {
		t.Errorf("transparent pixel = %d, want 0", v)
	}
}

func TestRemoteBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultRemoteConfig()
	cfg.URL = srv.URL
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Hour
	remote, err := NewRemote(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()

	for i := 0; i < 2; i++ {
		if _, err := remote.Segment(context.Background(), img); err == nil {
			t.Fatalf("call %d: expected error from failing service", i)
		}
	}
	if remote.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", remote.State())
	}

	_, err = remote.Segment(context.Background(), img)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("service called %d times, want 2", n)
	}
}

func TestNewRemoteRequiresURL(t *testing.T) {
	if _, err := NewRemote(DefaultRemoteConfig(), nil); err == nil {
		t.Error("expected error without url")
	}
}
