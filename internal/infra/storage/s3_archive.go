// Package storage archives daily reports to S3 or an S3-compatible store.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openctemio/secmon/internal/app/monitor"
	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/logger"
)

// objectPutter is the subset of *s3.Client used by the archive.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive implements monitor.ReportArchive.
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	logger *logger.Logger
}

var _ monitor.ReportArchive = (*S3Archive)(nil)

// NewS3Archive builds an S3 client from cfg. Static keys are used when both
// are set, otherwise the default AWS credential chain applies. A custom
// endpoint switches to path-style addressing for MinIO and friends.
func NewS3Archive(ctx context.Context, cfg *config.ReportConfig, log *logger.Logger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("report bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3Archive(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Archive(client objectPutter, bucket, prefix string, log *logger.Logger) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: log.With("component", "report_archive"),
	}
}

// Store uploads r as JSON and returns its s3:// location. Reports are keyed by
// tenant and date, so a rerun on the same day overwrites the earlier upload.
func (a *S3Archive) Store(ctx context.Context, r monitor.Report) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := a.objectKey(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Debug("report archived", "bucket", a.bucket, "key", key, "bytes", len(body))
	return "s3://" + a.bucket + "/" + key, nil
}

func (a *S3Archive) objectKey(r monitor.Report) string {
	return path.Join(a.prefix, "reports", r.TenantID.String(), r.Date+".json")
}
