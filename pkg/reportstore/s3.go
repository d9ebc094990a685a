package reportstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// DefaultAWSRegion is used for AWS S3 when nothing else resolves a region.
const DefaultAWSRegion = "us-east-1"

// S3Config configures an S3 store.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3 writes reports as objects.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds a client from the default credential chain, or from the
// static keys when both are set.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name is required", ErrInvalidLocation)
	}
	if (cfg.AccessKeyID != "") != (cfg.SecretAccessKey != "") {
		return nil, fmt.Errorf("%w: access key id and secret must be set together", ErrInvalidLocation)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Save implements Store.
func (s *S3) Save(ctx context.Context, dir, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := objectKey(s.prefix, dir, localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("text/tab-separated-values"),
	})
	if err != nil {
		return "", wrapError(s.bucket, key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func wrapError(bucket, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("put s3://%s/%s: %w: %w", bucket, key, ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("put s3://%s/%s: %w: %w", bucket, key, ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
}
