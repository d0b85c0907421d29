// Package config loads the extractor configuration.
//
// Values are layered with koanf, later layers winning:
//
//  1. Built-in defaults (extractor.DefaultConfig and friends)
//  2. An optional YAML file (-config flag or COVER_CONFIG)
//  3. COVER_* environment variables
//
// The merged result is checked with validator struct tags and a few
// cross-field rules before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"vinyl-cover-extractor/internal/debug"
	"vinyl-cover-extractor/internal/extractor"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/segment"
)

// ConfigPathEnvVar names a YAML file to load when no path is given.
const ConfigPathEnvVar = "COVER_CONFIG"

const envPrefix = "COVER_"

// Segmenter kinds.
const (
	SegmenterOtsu   = "otsu"
	SegmenterRemote = "remote"
)

// Debug sink kinds.
const (
	SinkNone = "none"
	SinkDir  = "dir"
	SinkS3   = "s3"
)

// Config is the complete application configuration.
type Config struct {
	Extractor extractor.Config `koanf:"extractor"`
	Segmenter SegmenterConfig  `koanf:"segmenter"`
	Debug     DebugConfig      `koanf:"debug"`
	Logging   logging.Config   `koanf:"logging"`
	Metrics   MetricsConfig    `koanf:"metrics"`
}

// SegmenterConfig selects the foreground segmenter and its settings.
type SegmenterConfig struct {
	Kind string `koanf:"kind" validate:"oneof=otsu remote"`

	// Polarity and MinSeparability apply to the otsu segmenter.
	Polarity        string               `koanf:"polarity" validate:"oneof=auto bright dark"`
	MinSeparability float64              `koanf:"min_separability" validate:"gte=0,lte=1"`
	Remote          segment.RemoteConfig `koanf:"remote"`
}

// DebugConfig selects the stage snapshot sink.
type DebugConfig struct {
	Sink string         `koanf:"sink" validate:"oneof=none dir s3"`
	Dir  string         `koanf:"dir"`
	S3   debug.S3Config `koanf:"s3"`
}

// MetricsConfig controls metrics export for batch runs.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics registry after a batch run
	// in the node-exporter textfile format.
	Textfile string `koanf:"textfile"`
}

func defaultConfig() *Config {
	return &Config{
		Extractor: extractor.DefaultConfig(),
		Segmenter: SegmenterConfig{
			Kind:            SegmenterOtsu,
			Polarity:        string(segment.PolarityAuto),
			MinSeparability: segment.DefaultMinSeparability,
			Remote:          segment.DefaultRemoteConfig(),
		},
		Debug: DebugConfig{
			Sink: SinkNone,
			Dir:  "debug",
			S3:   debug.S3Config{Prefix: "cover-debug"},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load merges defaults, the YAML file at path (or $COVER_CONFIG when path
// is empty) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envMappings maps short environment names onto koanf paths. Anything not
// listed falls back to COVER_SECTION__FIELD -> section.field.
var envMappings = map[string]string{
	"cover_log_level":            "logging.level",
	"cover_log_format":           "logging.format",
	"cover_log_caller":           "logging.caller",
	"cover_strategy":             "extractor.strategy",
	"cover_output_size":          "extractor.output_size",
	"cover_sharpen_kernel":       "extractor.sharpen_kernel",
	"cover_mask_threshold":       "extractor.mask_threshold",
	"cover_proximity_fraction":   "extractor.proximity_fraction",
	"cover_segmenter":            "segmenter.kind",
	"cover_segmenter_url":        "segmenter.remote.url",
	"cover_segmenter_polarity":   "segmenter.polarity",
	"cover_min_separability":     "segmenter.min_separability",
	"cover_segmenter_timeout":    "segmenter.remote.timeout",
	"cover_debug_sink":           "debug.sink",
	"cover_debug_dir":            "debug.dir",
	"cover_s3_bucket":            "debug.s3.bucket",
	"cover_s3_prefix":            "debug.s3.prefix",
	"cover_s3_region":            "debug.s3.region",
	"cover_s3_endpoint":          "debug.s3.endpoint",
	"cover_s3_access_key_id":     "debug.s3.access_key_id",
	"cover_s3_secret_access_key": "debug.s3.secret_access_key",
	"cover_s3_use_path_style":    "debug.s3.use_path_style",
	"cover_metrics_textfile":     "metrics.textfile",
}

// envTransformFunc returns the koanf path for an environment variable, or
// "" to ignore it.
//
//	COVER_STRATEGY           -> extractor.strategy
//	COVER_EXTRACTOR__CANNY_LOW -> extractor.canny_low
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if path, ok := envMappings[key]; ok {
		return path
	}
	if key == strings.ToLower(ConfigPathEnvVar) {
		return ""
	}

	rest := strings.TrimPrefix(key, strings.ToLower(envPrefix))
	if !strings.Contains(rest, "__") {
		return ""
	}
	return strings.ReplaceAll(rest, "__", ".")
}

var sliceConfigPaths = []string{
	"extractor.sharpen_kernel",
}

// processSliceFields splits comma-separated environment values for fields
// that are slices in the config struct.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Segmenter.Kind == SegmenterRemote && c.Segmenter.Remote.URL == "" {
		return errors.New("segmenter.remote.url is required for the remote segmenter")
	}
	switch c.Debug.Sink {
	case SinkDir:
		if c.Debug.Dir == "" {
			return errors.New("debug.dir is required for the dir sink")
		}
	case SinkS3:
		if c.Debug.S3.Bucket == "" {
			return errors.New("debug.s3.bucket is required for the s3 sink")
		}
	}
	return nil
}
