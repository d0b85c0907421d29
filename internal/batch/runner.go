// Package batch runs the extractor over many files and collects a report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/extractor"
	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/logging"
)

// ErrFolderNeedsOutput is returned when a directory is given without an
// output directory or overwrite, which would scatter results next to inputs.
var ErrFolderNeedsOutput = errors.New("when passing a folder, provide an output directory or overwrite")

// Extractor is the part of *extractor.Extractor the runner needs.
type Extractor interface {
	Extract(ctx context.Context, img gocv.Mat) (*extractor.Result, error)
}

// Options control where results go.
type Options struct {
	// OutputDir receives results. A relative path is resolved next to each
	// input's parent directory.
	OutputDir string
	// Overwrite replaces the input files.
	Overwrite bool
	// DryRun extracts but writes nothing.
	DryRun bool
	// Fallback writes the original image when extraction fails.
	Fallback bool
	// Progress receives one "[i/n] ..." line per file. Nil discards them.
	Progress io.Writer
}

// Runner processes files one at a time.
type Runner struct {
	ext  Extractor
	opts Options
	log  zerolog.Logger
}

// NewRunner returns a runner using ext.
func NewRunner(ext Extractor, opts Options) *Runner {
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	return &Runner{ext: ext, opts: opts, log: logging.Component("batch")}
}

// ExpandInputs replaces directories with the image files they contain.
// Unreadable directories are logged and skipped.
func ExpandInputs(inputs []string, opts Options) ([]string, error) {
	var files []string
	for _, in := range inputs {
		if !isDir(in) {
			files = append(files, in)
			continue
		}
		if !opts.Overwrite && opts.OutputDir == "" && !opts.DryRun {
			return nil, fmt.Errorf("%w: %s", ErrFolderNeedsOutput, in)
		}
		dirFiles, err := expandDirectory(in)
		if err != nil {
			logging.Error().Err(err).Str("dir", in).Msg("failed to list directory")
			continue
		}
		files = append(files, dirFiles...)
	}
	return files, nil
}

// Run extracts every file and returns the report. It stops early only when
// ctx is cancelled, returning the partial report and ctx.Err().
func (r *Runner) Run(ctx context.Context, files []string) (*Report, error) {
	start := time.Now()
	report := newReport(len(files))
	defer func() { report.Duration = time.Since(start).Round(time.Millisecond).String() }()

	for idx, filename := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr := r.processFile(ctx, idx, len(files), filename)
		report.add(fr)
	}

	r.log.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("batch finished")
	return report, nil
}

func (r *Runner) processFile(ctx context.Context, idx, total int, filename string) (fr FileResult) {
	status := fmt.Sprintf("[%d/%d] ", idx+1, total)
	fr.Path = filename
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			fr.OK = false
			fr.Reason = "panic"
			fr.Error = fmt.Sprint(rec)
			fmt.Fprintf(r.opts.Progress, "%sWARNING: Skipping '%s': %v\n", status, filename, rec)
		}
		fr.DurationMS = time.Since(start).Milliseconds()
	}()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx, r.log).With().Str("file", filename).Logger()

	img, err := imageio.ReadFile(filename)
	if err != nil {
		fr.Reason = string(extractor.ReasonInvalidInput)
		fr.Error = err.Error()
		log.Warn().Err(err).Msg("cannot read image")
		fmt.Fprintf(r.opts.Progress, "%sWARNING: Skipping '%s': %v\n", status, filename, err)
		return fr
	}
	defer img.Close()

	res, err := r.ext.Extract(ctx, img)
	if err != nil {
		fr.Reason = string(extractor.ReasonOf(err))
		if fr.Reason == "" {
			fr.Reason = "error"
		}
		fr.Error = err.Error()
	} else {
		defer res.Close()
		fr.OK = true
		for _, c := range res.Corners {
			fr.Corners = append(fr.Corners, [2]float64{c.X, c.Y})
		}
	}

	out := img
	if fr.OK {
		out = res.Image
	}
	if !r.opts.DryRun && (fr.OK || r.opts.Fallback) {
		path, err := r.outputPath(filename)
		if err == nil {
			err = imageio.WriteFile(path, out)
		}
		if err != nil {
			log.Error().Err(err).Msg("cannot write result")
		} else {
			fr.Output = path
			log.Debug().Str("output", path).Msg("wrote result")
		}
	}

	fmt.Fprintln(r.opts.Progress, status+progressLine(fr, r.opts.DryRun))
	return fr
}

func progressLine(fr FileResult, dryRun bool) string {
	name := filepath.Base(fr.Path)
	switch {
	case dryRun && fr.OK:
		return fmt.Sprintf("would extract cover (%s)", name)
	case dryRun:
		return fmt.Sprintf("no cover: %s (%s)", fr.Reason, name)
	}

	dest := fr.Output
	if dest == "" {
		dest = "(no output)"
	}
	if fr.OK {
		return fmt.Sprintf("extracted cover -> %s", dest)
	}
	return fmt.Sprintf("no cover: %s -> %s", fr.Reason, dest)
}

// outputPath decides where the result for filename goes.
func (r *Runner) outputPath(filename string) (string, error) {
	switch {
	case r.opts.Overwrite:
		return filename, nil
	case r.opts.OutputDir != "":
		dir := r.opts.OutputDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(filepath.Dir(filename)), dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return filepath.Join(dir, filepath.Base(filename)), nil
	default:
		ext := filepath.Ext(filename)
		return strings.TrimSuffix(filename, ext) + "_cover" + ext, nil
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func expandDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if imageio.IsImageFile(path) {
			imageFiles = append(imageFiles, path)
		}
	}
	return imageFiles, nil
}
