package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
)

//go:generate mockgen -source=uploader.go -destination=../mock/backup_uploader.go -package=mock

// Uploader ships a snapshot file to off-site storage.
type Uploader interface {
	// Upload stores the file under the given object key and returns the
	// key it can later be fetched by.
	Upload(ctx context.Context, path, key string) (string, error)
}

// S3Uploader uploads snapshots to an S3-compatible bucket. A custom endpoint
// supports MinIO and other self-hosted stores.
type S3Uploader struct {
	client *s3.Client
	bucket string
	logger *logger.Logger
}

// NewS3Uploader builds the uploader from the backup configuration.
// Credentials come from the standard AWS environment/profile chain.
func NewS3Uploader(ctx context.Context, cfg config.Backup, log *logger.Logger) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, bucket: cfg.S3Bucket, logger: log}, nil
}

// Upload streams the file to the bucket.
func (u *S3Uploader) Upload(ctx context.Context, path, key string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("uploading snapshot: %w", err)
	}

	u.logger.Info().Str("func", "Upload").
		Str("bucket", u.bucket).
		Str("key", key).
		Msg("snapshot uploaded")
	return key, nil
}
