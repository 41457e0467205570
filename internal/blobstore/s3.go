// Package blobstore archives original uploads in an S3-compatible bucket.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dgallion1/recordlens/internal/record"
)

// Options configures the bucket connection.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Archive stores uploads as objects keyed by session id.
type S3Archive struct {
	api    objectAPI
	bucket string
	prefix string
}

// NewS3Archive builds an archive with static credentials. A custom
// endpoint (MinIO, R2) switches to path-style addressing.
func NewS3Archive(opts Options) (*S3Archive, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	region := strings.TrimSpace(opts.Region)
	if bucket == "" || region == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket and region are required")
	}

	s3opts := s3.Options{Region: region}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		s3opts.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
	}
	if ep := strings.TrimSpace(opts.Endpoint); ep != "" {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			ep = "https://" + ep
		}
		s3opts.BaseEndpoint = aws.String(strings.TrimSuffix(ep, "/"))
		s3opts.UsePathStyle = true
	}

	prefix := normalizeKey(opts.Prefix)
	if prefix == "" {
		prefix = "recordlens/uploads"
	}
	return &S3Archive{api: s3.New(s3opts), bucket: bucket, prefix: prefix}, nil
}

func (a *S3Archive) key(id string) string {
	return a.prefix + "/" + normalizeKey(id)
}

// PutUpload stores the document bytes for session id.
func (a *S3Archive) PutUpload(ctx context.Context, id string, data []byte) error {
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", a.key(id), err)
	}
	return nil
}

// GetUpload returns the stored bytes, or record.ErrUploadUnavailable.
func (a *S3Archive) GetUpload(ctx context.Context, id string) ([]byte, error) {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, record.ErrUploadUnavailable
		}
		return nil, fmt.Errorf("s3 get %s: %w", a.key(id), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// HasUpload reports whether an object exists for session id.
func (a *S3Archive) HasUpload(ctx context.Context, id string) (bool, error) {
	_, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(id)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", a.key(id), err)
	}
	return true, nil
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.Trim(key, "/")
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return key
}
