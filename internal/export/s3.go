package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"photo-compressor-go/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// PutObjectAPI is the part of the S3 client the saver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes the bucket exports are uploaded to.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // empty uses the AWS default
	KeyPrefix       string
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Saver uploads artifacts as objects in one bucket.
type S3Saver struct {
	client    PutObjectAPI
	bucket    string
	keyPrefix string
}

// NewS3Saver returns a saver writing to bucket through client.
func NewS3Saver(client PutObjectAPI, bucket, keyPrefix string) *S3Saver {
	return &S3Saver{
		client:    client,
		bucket:    strings.TrimSpace(bucket),
		keyPrefix: strings.Trim(strings.TrimSpace(keyPrefix), "/"),
	}
}

// NewS3SaverFromConfig builds an S3 client from cfg.
func NewS3SaverFromConfig(ctx context.Context, cfg S3Config) (*S3Saver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Saver(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// Bucket returns the target bucket.
func (s *S3Saver) Bucket() string {
	return s.bucket
}

// Key returns the object key used for filename.
func (s *S3Saver) Key(filename string) string {
	name := filepath.Base(filename)
	if s.keyPrefix == "" {
		return name
	}
	return path.Join(s.keyPrefix, name)
}

// Save uploads artifact as one object.
func (s *S3Saver) Save(ctx context.Context, artifact store.Artifact, filename string) error {
	key := s.Key(filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(artifact.Data),
		ContentType:   aws.String(artifact.MIMEType),
		ContentLength: aws.Int64(int64(len(artifact.Data))),
	})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("put s3://%s/%s: %s: %w", s.bucket, key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
}
