package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/foxzi/mailforge/internal/config"
)

// mockS3Client implements S3Client for testing
type mockS3Client struct {
	objects map[string][]byte
	types   map[string]string
	headErr error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	m.objects[key] = data
	m.types[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	if _, ok := m.objects[aws.ToString(params.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_URL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.S3Config
		baseURL string
		want    string
	}{
		{
			name: "aws default",
			cfg:  config.S3Config{Bucket: "images", Region: "eu-west-1"},
			want: "https://images.s3.eu-west-1.amazonaws.com/a.png",
		},
		{
			name: "custom endpoint",
			cfg:  config.S3Config{Bucket: "images", Region: "us-east-1", Endpoint: "http://minio:9000/"},
			want: "http://minio:9000/images/a.png",
		},
		{
			name:    "explicit base url with prefix",
			cfg:     config.S3Config{Bucket: "images", Region: "us-east-1", Prefix: "/email-images/public/"},
			baseURL: "https://cdn.example.com",
			want:    "https://cdn.example.com/email-images/public/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewS3StoreWithClient(newMockS3Client(), tt.cfg, tt.baseURL)
			if got := store.URL("a.png"); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestS3Store_PutExistsDelete(t *testing.T) {
	client := newMockS3Client()
	store := NewS3StoreWithClient(client, config.S3Config{Bucket: "images", Region: "us-east-1", Prefix: "public"}, "")
	ctx := context.Background()

	if err := store.Put(ctx, "a.png", bytes.NewReader(pngData), int64(len(pngData)), "image/png"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !bytes.Equal(client.objects["public/a.png"], pngData) {
		t.Error("Put() did not store object under prefixed key")
	}
	if client.types["public/a.png"] != "image/png" {
		t.Errorf("content type = %q, want image/png", client.types["public/a.png"])
	}

	exists, err := store.Exists(ctx, "a.png")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}

	if err := store.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err = store.Exists(ctx, "a.png")
	if err != nil || exists {
		t.Fatalf("Exists() after delete = %v, %v; want false, nil", exists, err)
	}
}

func TestS3Store_ExistsAPIError(t *testing.T) {
	client := newMockS3Client()
	client.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	store := NewS3StoreWithClient(client, config.S3Config{Bucket: "images", Region: "us-east-1"}, "")

	_, err := store.Exists(context.Background(), "a.png")
	if err == nil {
		t.Fatal("Exists() expected error")
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("Exists() error = %v, want wrapped AccessDenied", err)
	}
}

func TestS3Store_ServiceUpload(t *testing.T) {
	client := newMockS3Client()
	store := NewS3StoreWithClient(client, config.S3Config{Bucket: "images", Region: "us-east-1"}, "https://cdn.example.com/")
	svc := NewService(store, "s3", 1024, discardLogger())

	res, err := svc.Upload(context.Background(), "hero.png", bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.URL != "https://cdn.example.com/"+res.Key {
		t.Errorf("URL = %q", res.URL)
	}
	if _, ok := client.objects[res.Key]; !ok {
		t.Error("object not uploaded to bucket")
	}
}
