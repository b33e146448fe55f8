package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	Prefix          string // Optional: key prefix, defaults to "videos"
}

// S3Archiver implements Archiver on S3. Downloads are staged on local disk
// so the upload body is seekable.
type S3Archiver struct {
	staging  *LocalArchiver
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
	prefix   string
}

var _ Archiver = (*S3Archiver)(nil)

// NewS3Archiver creates a new S3Archiver.
// The stagingDir parameter specifies where downloads are staged.
func NewS3Archiver(ctx context.Context, stagingDir string, cfg S3Config, client *http.Client) (*S3Archiver, error) {
	staging, err := NewLocalArchiver(stagingDir, client)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "videos"
	}

	return &S3Archiver{
		staging:  staging,
		client:   s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		prefix:   prefix,
	}, nil
}

// Archive uploads every source URL to <prefix>/<taskID>/ and returns the
// object URLs.
func (s *S3Archiver) Archive(ctx context.Context, taskID string, sourceURLs []string) ([]string, error) {
	urls := make([]string, 0, len(sourceURLs))
	for i, src := range sourceURLs {
		key := fmt.Sprintf("%s/%s/%s", s.prefix, taskID, objectName(i, src))
		u, err := s.archiveOne(ctx, key, src)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func (s *S3Archiver) archiveOne(ctx context.Context, key, sourceURL string) (string, error) {
	body, err := fetch(ctx, s.staging.client, sourceURL)
	if err != nil {
		return "", err
	}
	staged, err := s.staging.SaveTemp(ctx, "upload", body)
	_ = body.Close()
	if err != nil {
		return "", err
	}
	defer func() { _ = s.staging.CleanupTemp(context.Background(), []string{staged}) }()

	f, err := s.staging.LoadTemp(ctx, staged)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return s.upload(ctx, key, f)
}

func (s *S3Archiver) upload(ctx context.Context, key string, f io.ReadSeeker) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}
	return s.objectURL(key), nil
}

// objectURL returns the public URL of key.
func (s *S3Archiver) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(key, ".webm"):
		return "video/webm"
	case strings.HasSuffix(key, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
