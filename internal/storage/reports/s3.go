package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// S3Config configures the S3 report store.
type S3Config struct {
	Bucket    string
	Prefix    string // e.g. "bulkimport/reports/"
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores, path-style addressing
	AccessKey string // static credentials; the default chain is used when empty
	SecretKey string
	LinkTTL   time.Duration // presigned link lifetime, default 15m
}

// S3 keeps reports as objects and hands out presigned download links.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	linkTTL time.Duration
}

// NewS3 loads the AWS configuration and builds the client.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		linkTTL: ttl,
	}, nil
}

func (s *S3) key(jobID string) string {
	return path.Join(s.prefix, jobID+".csv")
}

func (s *S3) Put(ctx context.Context, jobID string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(jobID)),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put report %s: %w", jobID, err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, jobID string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrReportNotFound
		}
		return nil, fmt.Errorf("get report %s: %w", jobID, err)
	}
	return out.Body, nil
}

// ReportLink returns a presigned GET URL for the report object.
func (s *S3) ReportLink(ctx context.Context, jobID string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(s.key(jobID)),
		ResponseContentDisposition: aws.String(fmt.Sprintf(`attachment; filename="import-%s-errors.csv"`, jobID)),
	}, s3.WithPresignExpires(s.linkTTL))
	if err != nil {
		return "", fmt.Errorf("presign report %s: %w", jobID, err)
	}
	return req.URL, nil
}
