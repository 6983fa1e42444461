package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"photo-compressor-go/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	key := *in.Bucket + "/" + *in.Key
	f.objects[key] = body
	f.types[key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func TestS3Saver_Key(t *testing.T) {
	tests := []struct {
		prefix   string
		filename string
		want     string
	}{
		{"", "compressed_a.png", "compressed_a.png"},
		{"exports", "compressed_a.png", "exports/compressed_a.png"},
		{"/exports/2024/", "compressed_a.png", "exports/2024/compressed_a.png"},
		{"exports", "../../compressed_a.png", "exports/compressed_a.png"},
	}
	for _, tt := range tests {
		s := NewS3Saver(&fakeS3{}, "bucket", tt.prefix)
		if got := s.Key(tt.filename); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.filename, tt.prefix, got, tt.want)
		}
	}
}

func TestS3Saver_ExportAll(t *testing.T) {
	client := &fakeS3{}
	saver := NewS3Saver(client, "photos", "out")
	o := NewOrchestrator(saver, Config{Stride: 1}, nil)

	summary, err := o.ExportAll(context.Background(), []store.ImageRecord{
		exportRecord("1", "a.png", "AAA"),
		exportRecord("2", "b.png", "BB"),
	})
	if err != nil || summary.Saved != 2 {
		t.Fatalf("ExportAll: %+v, %v", summary, err)
	}
	if string(client.objects["photos/out/compressed_a.png"]) != "AAA" || string(client.objects["photos/out/compressed_b.png"]) != "BB" {
		t.Errorf("unexpected objects: %v", client.objects)
	}
	if client.types["photos/out/compressed_a.png"] != "image/jpeg" {
		t.Errorf("content type = %q", client.types["photos/out/compressed_a.png"])
	}
}

func TestS3Saver_APIError(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	saver := NewS3Saver(&fakeS3{err: apiErr}, "photos", "")

	err := saver.Save(context.Background(), exportRecord("1", "a.png", "A").Compressed, "compressed_a.png")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "AccessDenied") || !strings.Contains(err.Error(), "s3://photos/compressed_a.png") {
		t.Errorf("unexpected message: %v", err)
	}
	var got smithy.APIError
	if !errors.As(err, &got) || got.ErrorCode() != "AccessDenied" {
		t.Errorf("expected wrapped APIError, got %v", err)
	}
}

func TestNewS3SaverFromConfig_RequiresBucket(t *testing.T) {
	if _, err := NewS3SaverFromConfig(context.Background(), S3Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestNewS3SaverFromConfig(t *testing.T) {
	saver, err := NewS3SaverFromConfig(context.Background(), S3Config{
		Bucket:          " photos ",
		Region:          "eu-west-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3SaverFromConfig: %v", err)
	}
	if saver.Bucket() != "photos" {
		t.Errorf("Bucket() = %q", saver.Bucket())
	}
}
