package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/extractor"
	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/segment"
)

// writeFixtures creates a directory holding one clean cover, one blank
// image, one unreadable .png and a non-image file.
func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 600, 800, gocv.MatTypeCV8UC3)
	defer square.Close()
	gocv.Rectangle(&square, image.Rect(200, 100, 600, 500), color.RGBA{255, 255, 255, 0}, -1)
	if err := imageio.WriteFile(filepath.Join(dir, "a-square.png"), square); err != nil {
		t.Fatal(err)
	}

	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 300, 300, gocv.MatTypeCV8UC3)
	defer blank.Close()
	if err := imageio.WriteFile(filepath.Join(dir, "b-blank.png"), blank); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "c-broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("side A"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestExtractor(t *testing.T) *extractor.Extractor {
	t.Helper()
	e, err := extractor.New(extractor.DefaultConfig(), segment.NewOtsu())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestExpandInputs(t *testing.T) {
	dir := writeFixtures(t)

	if _, err := ExpandInputs([]string{dir}, Options{}); !errors.Is(err, ErrFolderNeedsOutput) {
		t.Errorf("error = %v, want ErrFolderNeedsOutput", err)
	}

	files, err := ExpandInputs([]string{dir, "single.jpg"}, Options{OutputDir: "out"})
	if err != nil {
		t.Fatalf("ExpandInputs: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	want := "a-square.png,b-blank.png,c-broken.png,single.jpg"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("files = %s, want %s", got, want)
	}
}

func TestRunReport(t *testing.T) {
	dir := writeFixtures(t)
	outDir := t.TempDir()
	files, err := ExpandInputs([]string{dir}, Options{OutputDir: outDir})
	if err != nil {
		t.Fatal(err)
	}

	var progress bytes.Buffer
	runner := NewRunner(newTestExtractor(t), Options{OutputDir: outDir, Progress: &progress})

	report, err := runner.Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Total != 3 || report.Succeeded != 1 || report.Failed != 2 {
		t.Errorf("report total/ok/failed = %d/%d/%d, want 3/1/2", report.Total, report.Succeeded, report.Failed)
	}
	if report.Failures[string(extractor.ReasonInsufficientLines)] != 1 {
		t.Errorf("failures = %v, want one insufficient_lines", report.Failures)
	}
	if report.Failures[string(extractor.ReasonInvalidInput)] != 1 {
		t.Errorf("failures = %v, want one invalid_input", report.Failures)
	}

	first := report.Files[0]
	if !first.OK || len(first.Corners) != 4 {
		t.Fatalf("first file result = %+v", first)
	}
	if first.Output != filepath.Join(outDir, "a-square.png") {
		t.Errorf("output = %q", first.Output)
	}
	out, err := imageio.ReadFile(first.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	defer out.Close()
	if out.Cols() != 500 || out.Rows() != 500 {
		t.Errorf("written cover is %dx%d, want 500x500", out.Cols(), out.Rows())
	}

	if report.Files[1].Output != "" {
		t.Errorf("failed file should not be written without fallback: %q", report.Files[1].Output)
	}

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("progress lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "[1/3] extracted cover -> ") {
		t.Errorf("progress line 1 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[2/3] no cover: insufficient_lines") {
		t.Errorf("progress line 2 = %q", lines[1])
	}
	if !strings.Contains(report.Summary(), "1/3 covers extracted") {
		t.Errorf("summary = %q", report.Summary())
	}
}

func TestRunFallbackWritesOriginal(t *testing.T) {
	dir := writeFixtures(t)
	outDir := t.TempDir()
	runner := NewRunner(newTestExtractor(t), Options{OutputDir: outDir, Fallback: true})

	report, err := runner.Run(context.Background(), []string{filepath.Join(dir, "b-blank.png")})
	if err != nil {
		t.Fatal(err)
	}

	fr := report.Files[0]
	if fr.OK || fr.Output == "" {
		t.Fatalf("result = %+v, want failed with fallback output", fr)
	}
	img, err := imageio.ReadFile(fr.Output)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()
	if img.Cols() != 300 {
		t.Errorf("fallback width = %d, want original 300", img.Cols())
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	dir := writeFixtures(t)
	runner := NewRunner(newTestExtractor(t), Options{DryRun: true})

	report, err := runner.Run(context.Background(), []string{filepath.Join(dir, "a-square.png")})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Files[0].OK || report.Files[0].Output != "" {
		t.Errorf("dry run result = %+v", report.Files[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "a-square_cover.png")); !os.IsNotExist(err) {
		t.Error("dry run wrote an output file")
	}
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, gocv.Mat) (*extractor.Result, error) {
	panic("corrupt buffer")
}

func TestRunRecoversFromPanic(t *testing.T) {
	dir := writeFixtures(t)
	var progress bytes.Buffer
	runner := NewRunner(panickingExtractor{}, Options{DryRun: true, Progress: &progress})

	report, err := runner.Run(context.Background(), []string{
		filepath.Join(dir, "a-square.png"),
		filepath.Join(dir, "b-blank.png"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 2 || report.Failures["panic"] != 2 {
		t.Errorf("report = %+v", report)
	}
	if !strings.Contains(progress.String(), "WARNING: Skipping") {
		t.Errorf("progress = %q", progress.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := writeFixtures(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewRunner(newTestExtractor(t), Options{DryRun: true}).
		Run(ctx, []string{filepath.Join(dir, "a-square.png")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(report.Files) != 0 {
		t.Errorf("processed %d files after cancellation", len(report.Files))
	}
}

func TestOutputPath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		opts Options
		in   string
		want string
	}{
		{name: "overwrite", opts: Options{Overwrite: true}, in: "/scans/a/x.jpg", want: "/scans/a/x.jpg"},
		{name: "default suffix", opts: Options{}, in: "/scans/a/x.jpg", want: "/scans/a/x_cover.jpg"},
		{name: "relative output dir", opts: Options{OutputDir: "covers"}, in: filepath.Join(root, "a", "x.jpg"), want: filepath.Join(root, "covers", "x.jpg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRunner(nil, tt.opts).outputPath(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("outputPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReportJSON(t *testing.T) {
	r := newReport(2)
	r.add(FileResult{Path: "a.png", OK: true, Corners: [][2]float64{{1, 2}, {3, 2}, {3, 4}, {1, 4}}})
	r.add(FileResult{Path: "b.png", Reason: "out_of_bounds"})

	path := filepath.Join(t.TempDir(), "report.json")
	if err := r.WriteJSON(path); err != nil {
		t.Fatal(err)
	}
	back, err := ReadReport(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Succeeded != 1 || back.Failures["out_of_bounds"] != 1 || len(back.Files) != 2 {
		t.Errorf("round trip report = %+v", back)
	}
	if r.Rate() != 0.5 {
		t.Errorf("Rate = %v, want 0.5", r.Rate())
	}
}
