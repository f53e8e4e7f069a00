package s3

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/logger"
)

type Config struct {
	Key    string
	Secret string
	Region string
	Bucket string
	// Endpoint overrides the AWS endpoint for S3 compatible providers.
	Endpoint string
	Logger   *log.Logger
}

type Store struct {
	bucket string
	client *s3.Client
	log    *log.Logger
}

// New returns a store backed by an S3 bucket. The bucket must exist.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	var provider aws.CredentialsProvider
	if cfg.Key == "" && cfg.Secret == "" {
		// Load credentials from EC2 Instance Role
		provider = ec2rolecreds.New()
	} else {
		provider = credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(provider),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("s3: couldn't load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	s := &Store{
		bucket: cfg.Bucket,
		client: client,
		log:    logger.Or(cfg.Logger),
	}

	// Check if bucket exists
	input := &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if _, err := s.client.HeadBucket(ctx, input); err != nil {
		return nil, fmt.Errorf("s3: couldn't head bucket %s: %w", s.bucket, err)
	}
	return s, nil
}

func contentType(path string) (string, error) {
	ext := filepath.Ext(path)
	switch ext {
	case ".mp3":
		return "audio/mpeg", nil
	case ".mp4":
		return "video/mp4", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("s3: unknown content type for extension %s", ext)
	}
}

func (s *Store) Upload(ctx context.Context, path, name string) error {
	typ, err := contentType(name)
	if err != nil {
		return err
	}
	reader, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3: couldn't open file %s: %w", path, err)
	}
	defer reader.Close()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        reader,
		ContentType: aws.String(typ),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3: couldn't put object %s: %w", name, err)
	}
	s.log.Debug("s3: put object", "bucket", s.bucket, "name", name)
	return nil
}

func (s *Store) Download(ctx context.Context, path, name string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("s3: couldn't get object %s: %w", name, err)
	}
	defer out.Body.Close()
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("s3: couldn't create %s: %w", path, err)
	}
	if _, err := file.ReadFrom(out.Body); err != nil {
		_ = file.Close()
		return fmt.Errorf("s3: couldn't write %s: %w", path, err)
	}
	return file.Close()
}

// URL returns a presigned download URL valid for a day.
func (s *Store) URL(ctx context.Context, name string) (string, error) {
	client := s3.NewPresignClient(s.client)
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}
	presignedURL, err := client.PresignGetObject(ctx, input, s3.WithPresignExpires(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("s3: couldn't presign object %s: %w", name, err)
	}
	return presignedURL.URL, nil
}
