package export

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores export files under slash-separated relative names
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	// Location describes where files end up, for job logs
	Location() string
}

// FileSink writes files below a local directory
type FileSink struct {
	Dir string
}

// NewFileSink creates the directory if needed
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create export directory").
			WithDetail("dir", dir)
	}
	return &FileSink{Dir: dir}, nil
}

// Put implements Sink
func (s *FileSink) Put(_ context.Context, name string, data []byte) error {
	full := filepath.Join(s.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create export directory").
			WithDetail("path", full)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write export file").
			WithDetail("path", full)
	}
	return nil
}

// Location implements Sink
func (s *FileSink) Location() string {
	return s.Dir
}

// objectUploader is the part of manager.Uploader the sink uses
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads files to a bucket under a key prefix
type S3Sink struct {
	bucket   string
	prefix   string
	uploader objectUploader
}

// NewS3Sink creates a sink using the default AWS credential chain
func NewS3Sink(ctx context.Context, bucket, prefix, region string) (*S3Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	uploader := manager.NewUploader(s3.NewFromConfig(cfg), func(u *manager.Uploader) {
		u.Concurrency = 4
	})
	return newS3Sink(bucket, prefix, uploader), nil
}

func newS3Sink(bucket, prefix string, uploader objectUploader) *S3Sink {
	return &S3Sink{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		uploader: uploader,
	}
}

// Put implements Sink
func (s *S3Sink) Put(ctx context.Context, name string, data []byte) error {
	key := path.Join(s.prefix, name)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to upload export file").
			WithDetail("bucket", s.bucket).
			WithDetail("key", key)
	}
	return nil
}

// Location implements Sink
func (s *S3Sink) Location() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}
