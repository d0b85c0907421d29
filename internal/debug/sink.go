// Package debug persists pipeline snapshots for visual inspection. Snapshots
// are write-only diagnostics; failures are logged and counted, never
// returned to the pipeline.
package debug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/metrics"
)

// DirSink writes snapshots as PNG files into one scratch directory.
type DirSink struct {
	dir string
	log zerolog.Logger
}

// NewDirSink creates dir if needed, removes the regular files at its top
// level and returns a sink that writes "<run>-<name>.png" files into it.
// Subdirectories and their contents are left alone.
func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" || filepath.Clean(dir) == "/" {
		return nil, fmt.Errorf("debug dir %q refused", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	if err := clearFiles(dir); err != nil {
		return nil, fmt.Errorf("clear debug dir: %w", err)
	}
	return &DirSink{dir: dir, log: logging.Component("debug")}, nil
}

func clearFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the snapshot directory.
func (s *DirSink) Dir() string { return s.dir }

// Save writes img to the snapshot directory.
func (s *DirSink) Save(_ context.Context, run, name string, img gocv.Mat) {
	path := filepath.Join(s.dir, fileName(run, name))
	if err := imageio.WriteFile(path, img); err != nil {
		metrics.SnapshotErrors.WithLabelValues("dir").Inc()
		s.log.Warn().Err(err).Str("path", path).Msg("snapshot not written")
		return
	}
	s.log.Debug().Str("path", path).Msg("snapshot written")
}

func fileName(run, name string) string {
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if run == "" {
		return name + ".png"
	}
	return run + "-" + name + ".png"
}
