package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dgallion1/recordlens/internal/record"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memObjects) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func newTestArchive() (*S3Archive, *memObjects) {
	mem := &memObjects{objects: map[string][]byte{}}
	return &S3Archive{api: mem, bucket: "b", prefix: "uploads"}, mem
}

func TestArchiveRoundTrip(t *testing.T) {
	a, mem := newTestArchive()
	ctx := context.Background()

	if err := a.PutUpload(ctx, "s1", []byte("doc")); err != nil {
		t.Fatalf("PutUpload: %v", err)
	}
	if _, ok := mem.objects["b/uploads/s1"]; !ok {
		t.Errorf("object stored under unexpected key: %v", mem.objects)
	}
	data, err := a.GetUpload(ctx, "s1")
	if err != nil || string(data) != "doc" {
		t.Fatalf("GetUpload = %q, %v", data, err)
	}
	ok, err := a.HasUpload(ctx, "s1")
	if err != nil || !ok {
		t.Errorf("HasUpload = %v, %v", ok, err)
	}
}

func TestArchiveMissing(t *testing.T) {
	a, _ := newTestArchive()
	ctx := context.Background()
	if _, err := a.GetUpload(ctx, "nope"); !errors.Is(err, record.ErrUploadUnavailable) {
		t.Fatalf("expected ErrUploadUnavailable, got %v", err)
	}
	ok, err := a.HasUpload(ctx, "nope")
	if err != nil || ok {
		t.Errorf("HasUpload = %v, %v; want false, nil", ok, err)
	}
}

func TestNewS3ArchiveValidates(t *testing.T) {
	if _, err := NewS3Archive(Options{Bucket: "b"}); err == nil {
		t.Error("expected error without region")
	}
	a, err := NewS3Archive(Options{Bucket: "b", Region: "us-east-1", Endpoint: "minio:9000/", Prefix: "/x//y/"})
	if err != nil {
		t.Fatalf("NewS3Archive: %v", err)
	}
	if got := a.key("s1"); got != "x/y/s1" {
		t.Errorf("key = %q, want x/y/s1", got)
	}
}
