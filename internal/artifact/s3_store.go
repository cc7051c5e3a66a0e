package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fetchTimeout bounds how long S3Store waits on the provider's output URL
// to start streaming before giving up.
const fetchTimeout = 2 * time.Minute

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
	http   *http.Client
	log    *slog.Logger
}

// S3Config configures S3Store. AccessKeyID/SecretAccessKey are optional;
// when empty, the default AWS credential chain (IAM role, env vars,
// shared config file) is used instead.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// NewS3Store builds an S3Store, loading AWS config the same way the
// pack's zerostate storage package does: explicit static credentials if
// given, otherwise the default provider chain.
func NewS3Store(ctx context.Context, cfg S3Config, log *slog.Logger) (*S3Store, error) {
	if log == nil {
		log = slog.Default()
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		http:   &http.Client{Timeout: fetchTimeout},
		log:    log,
	}, nil
}

// Put streams sourceURL's body straight into S3 under key, without
// buffering the whole artifact in memory.
func (s *S3Store) Put(ctx context.Context, key, sourceURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("artifact: build fetch request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifact: fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact: fetch %s: status %d", sourceURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   resp.Body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("artifact: put %s: %w", key, err)
	}

	s.log.Info("artifact uploaded", "bucket", s.bucket, "key", key)
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

var _ Store = (*S3Store)(nil)
