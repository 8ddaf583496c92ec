package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// S3API is the subset of the S3 client the backend uses. It allows mocking
// in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Presigner signs GET requests. *s3.PresignClient satisfies it.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AWSBackend stores objects in an Amazon S3 (or S3-compatible) bucket and
// hands out presigned download URLs.
type AWSBackend struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Expiry is the lifetime of presigned URLs.
	Expiry    time.Duration
	client    S3API
	presigner S3Presigner
}

// AWSOptions configures NewAWSBackend.
type AWSOptions struct {
	Bucket          string
	Region          string
	Prefix          string
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	Expiry          time.Duration
}

// NewAWSBackend creates an AWSBackend. Credentials come from the default
// chain unless static keys are given. The bucket must be reachable.
func NewAWSBackend(ctx context.Context, opts AWSOptions) (*AWSBackend, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)
	b := NewAWSBackendWithClient(opts.Bucket, opts.Prefix, opts.Expiry, client, s3.NewPresignClient(client))
	if err := b.HealthCheck(ctx); err != nil {
		return nil, err
	}

	slog.Info("AWS storage backend initialized", "bucket", opts.Bucket, "region", opts.Region, "prefix", opts.Prefix)
	return b, nil
}

// NewAWSBackendWithClient creates an AWSBackend around existing clients.
func NewAWSBackendWithClient(bucket, prefix string, expiry time.Duration, client S3API, presigner S3Presigner) *AWSBackend {
	return &AWSBackend{
		Bucket:    bucket,
		Prefix:    prefix,
		Expiry:    expiry,
		client:    client,
		presigner: presigner,
	}
}

func (b *AWSBackend) s3Key(key string) string {
	return b.Prefix + key
}

// Put uploads data with a Content-MD5 header so S3 verifies the payload.
func (b *AWSBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	out := describe(key, b.Bucket, data, meta)
	sum, _ := hex.DecodeString(out.MD5)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.s3Key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum)),
		ContentType:   aws.String(out.ContentType),
		Metadata:      out.Custom,
	}
	if out.CacheControl != "" {
		input.CacheControl = aws.String(out.CacheControl)
	}
	if out.ContentDisposition != "" {
		input.ContentDisposition = aws.String(out.ContentDisposition)
	}
	if out.ContentEncoding != "" {
		input.ContentEncoding = aws.String(out.ContentEncoding)
	}

	resp, err := b.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("uploading to S3: %w", err)
	}
	if resp.ETag != nil {
		out.ETag = *resp.ETag
	}
	return out, nil
}

// URL returns a presigned GET URL. It does not check that the object exists.
func (b *AWSBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	}, s3.WithPresignExpires(b.Expiry))
	if err != nil {
		return nil, fmt.Errorf("presigning S3 URL: %w", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing presigned URL: %w", err)
	}
	return u, nil
}

func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return fberr.ErrNotFound.WithMessage("S3 bucket %q does not exist", b.Bucket).WithCause(err)
		}
		return fmt.Errorf("cannot access S3 bucket %q: %w", b.Bucket, err)
	}
	return nil
}

// isAWSNotFound checks if an AWS error is a not-found error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "404":
			return true
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
