// Command coverextract finds the record sleeve or label in photographs and
// writes it out as a rectified square image.
//
//	coverextract [options] image_files_or_dirs...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vinyl-cover-extractor/internal/batch"
	"vinyl-cover-extractor/internal/config"
	"vinyl-cover-extractor/internal/debug"
	"vinyl-cover-extractor/internal/extractor"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/metrics"
	"vinyl-cover-extractor/internal/segment"
)

func main() {
	var (
		configPath  string
		verbose     bool
		dryRun      bool
		outputDir   string
		overwrite   bool
		fallback    bool
		strategy    string
		debugDir    string
		reportPath  string
		metricsFile string
	)

	flag.StringVar(&configPath, "config", "", "YAML config file (default $COVER_CONFIG)")
	flag.BoolVar(&verbose, "verbose", false, "Print debug information")
	flag.BoolVar(&dryRun, "dry-run", false, "Do not write output images")
	flag.StringVar(&outputDir, "output-dir", "", "Output directory for extracted covers")
	flag.BoolVar(&overwrite, "overwrite", false, "Overwrite original images")
	flag.BoolVar(&fallback, "fallback", false, "Write the original image when no cover is found")
	flag.StringVar(&strategy, "strategy", "", "Pair selection strategy: best-fit or simple")
	flag.StringVar(&debugDir, "debug-dir", "", "Write stage snapshots to this directory (cleared first)")
	flag.StringVar(&reportPath, "report", "", "Write a JSON batch report to this file")
	flag.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] image_files...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if strategy != "" {
		cfg.Extractor.Strategy = strategy
	}
	if debugDir != "" {
		cfg.Debug.Sink = config.SinkDir
		cfg.Debug.Dir = debugDir
	}
	if metricsFile != "" {
		cfg.Metrics.Textfile = metricsFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	logging.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, files, batch.Options{
		OutputDir: outputDir,
		Overwrite: overwrite,
		DryRun:    dryRun,
		Fallback:  fallback,
		Progress:  os.Stdout,
	}, reportPath)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, inputs []string, opts batch.Options, reportPath string) int {
	seg, err := newSegmenter(cfg.Segmenter)
	if err != nil {
		logging.Error().Err(err).Msg("cannot create segmenter")
		return 2
	}

	extOpts := []extractor.Option{extractor.WithLogger(logging.Component("extractor"))}
	switch cfg.Debug.Sink {
	case config.SinkDir:
		sink, err := debug.NewDirSink(cfg.Debug.Dir)
		if err != nil {
			logging.Error().Err(err).Msg("cannot prepare debug directory")
			return 2
		}
		extOpts = append(extOpts, extractor.WithSink(sink))
	case config.SinkS3:
		sink, err := debug.NewS3Sink(ctx, cfg.Debug.S3)
		if err != nil {
			logging.Error().Err(err).Msg("cannot create s3 debug sink")
			return 2
		}
		defer sink.Close()
		logging.Info().Str("bucket", cfg.Debug.S3.Bucket).Str("prefix", sink.Prefix()).Msg("uploading snapshots")
		extOpts = append(extOpts, extractor.WithSink(sink))
	}

	ext, err := extractor.New(cfg.Extractor, seg, extOpts...)
	if err != nil {
		logging.Error().Err(err).Msg("invalid extractor configuration")
		return 2
	}

	files, err := batch.ExpandInputs(inputs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 2
	}

	logging.Debug().
		Int("files", len(files)).
		Str("segmenter", cfg.Segmenter.Kind).
		Str("strategy", cfg.Extractor.Strategy).
		Str("debug_sink", cfg.Debug.Sink).
		Msg("starting batch")

	report, runErr := batch.NewRunner(ext, opts).Run(ctx, files)
	fmt.Println(report.Summary())

	if reportPath != "" {
		if err := report.WriteJSON(reportPath); err != nil {
			logging.Error().Err(err).Msg("cannot write report")
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logging.Error().Err(err).Msg("cannot write metrics textfile")
		}
	}

	if runErr != nil {
		logging.Warn().Err(runErr).Msg("batch interrupted")
		return 130
	}
	return 0
}

func newSegmenter(cfg config.SegmenterConfig) (extractor.Segmenter, error) {
	switch cfg.Kind {
	case config.SegmenterRemote:
		remote, err := segment.NewRemote(cfg.Remote, nil)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		polarity, err := segment.ParsePolarity(cfg.Polarity)
		if err != nil {
			return nil, err
		}
		otsu := segment.NewOtsu()
		otsu.Polarity = polarity
		otsu.MinSeparability = cfg.MinSeparability
		return otsu, nil
	}
}
