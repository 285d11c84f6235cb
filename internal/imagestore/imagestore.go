// Package imagestore persists rendered images to S3-compatible object
// storage and exposes their public URLs.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxImageBytes caps a single downloaded render. Renderer output is a few MB;
// anything larger means something went wrong upstream.
const maxImageBytes = 32 << 20

// Config holds configuration for the image store.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string // optional, for S3-compatible stores (MinIO, Supabase)
	PublicBaseURL string // optional override for constructing public URLs
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Store writes images to a single bucket.
type Store struct {
	client        *s3.Client
	httpClient    *http.Client
	bucket        string
	publicBaseURL string
	logger        *slog.Logger
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("image store bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Store around an existing S3 client (tests).
func NewWithClient(client *s3.Client, cfg Config) *Store {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:        client,
		httpClient:    httpClient,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}
}

// UploadFromURL downloads the image at srcURL and stores it under key,
// returning the stored image's public URL. Renderer result URLs are
// temporary, so every image is copied into durable storage.
func (s *Store) UploadFromURL(ctx context.Context, srcURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read image body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = contentTypeForKey(key)
	}

	return s.Upload(ctx, key, bytes.NewReader(data), contentType)
}

// Upload stores body under key and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	url := s.PublicURL(key)
	s.logger.Info("image stored", "key", key, "url", url)
	return url, nil
}

// PublicURL returns the public URL for a stored key.
func (s *Store) PublicURL(key string) string {
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
