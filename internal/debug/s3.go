package debug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vinyl-cover-extractor/internal/imageio"
	"vinyl-cover-extractor/internal/logging"
	"vinyl-cover-extractor/internal/metrics"
)

// S3Config locates the bucket that receives snapshots. Empty credentials
// fall back to the default AWS credential chain.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	UsePathStyle    bool   `koanf:"use_path_style"`
}

// putter is the part of *s3.Client the sink uses.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads snapshots in the background. Call Close to wait for
// pending uploads before the process exits.
type S3Sink struct {
	client  putter
	bucket  string
	prefix  string
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewS3Sink builds an S3 client from cfg. Every process gets its own key
// prefix so snapshots from different runs never collide.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 sink: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Sink(client, cfg.Bucket, path.Join(cfg.Prefix, uuid.NewString())), nil
}

func newS3Sink(client putter, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
		log:     logging.Component("debug"),
	}
}

// Prefix returns the key prefix shared by all snapshots of this sink.
func (s *S3Sink) Prefix() string { return s.prefix }

// Save encodes img immediately and uploads it asynchronously.
func (s *S3Sink) Save(ctx context.Context, run, name string, img gocv.Mat) {
	data, err := imageio.EncodePNG(img)
	if err != nil {
		metrics.SnapshotErrors.WithLabelValues("s3").Inc()
		s.log.Warn().Err(err).Str("name", name).Msg("snapshot not encoded")
		return
	}
	key := path.Join(s.prefix, fileName(run, name))

	// Uploads outlive the extraction call, so only values are carried over.
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String("image/png"),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			metrics.SnapshotErrors.WithLabelValues("s3").Inc()
			s.log.Warn().Err(err).Str("key", key).Msg("snapshot upload failed")
			return
		}
		s.log.Debug().Str("key", key).Msg("snapshot uploaded")
	}()
}

// Close waits for pending uploads.
func (s *S3Sink) Close() error {
	s.wg.Wait()
	return nil
}
