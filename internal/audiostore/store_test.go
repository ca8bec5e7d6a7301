package audiostore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "https://twin.example.com/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	url, err := fs.Put(context.Background(), "phrases/en/abc.mp3", []byte("ID3"), "audio/mpeg", CachePhrase)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://twin.example.com/audio/phrases/en/abc.mp3" {
		t.Errorf("url = %q", url)
	}
	got, err := os.ReadFile(filepath.Join(dir, "phrases", "en", "abc.mp3"))
	if err != nil || string(got) != "ID3" {
		t.Errorf("stored = %q, %v", got, err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir(), "http://localhost")
	for _, key := range []string{"../etc/passwd", "a/../../b", ""} {
		if _, err := fs.Put(context.Background(), key, []byte("x"), "", ""); err == nil {
			t.Errorf("Put(%q) succeeded", key)
		}
	}
}

type fakePutter struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3StorePut(t *testing.T) {
	fake := &fakePutter{}
	s := newS3Store(fake, "twin-audio", "/twin/", "https://cdn.example.com/")

	url, err := s.Put(context.Background(), "replies/2025-01-02/x.mp3", []byte("mp3"), "audio/mpeg", CacheReply)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://cdn.example.com/twin/replies/2025-01-02/x.mp3" {
		t.Errorf("url = %q", url)
	}
	if aws.ToString(fake.in.Bucket) != "twin-audio" || aws.ToString(fake.in.Key) != "twin/replies/2025-01-02/x.mp3" {
		t.Errorf("input = %+v", fake.in)
	}
	if aws.ToString(fake.in.CacheControl) != CacheReply || aws.ToString(fake.in.ContentType) != "audio/mpeg" {
		t.Errorf("headers = %q %q", aws.ToString(fake.in.CacheControl), aws.ToString(fake.in.ContentType))
	}
	body, _ := io.ReadAll(fake.in.Body)
	if string(body) != "mp3" {
		t.Errorf("body = %q", body)
	}
}

func TestS3StoreError(t *testing.T) {
	s := newS3Store(&fakePutter{err: errors.New("AccessDenied")}, "b", "", "https://b.s3.amazonaws.com")
	if _, err := s.Put(context.Background(), "k.mp3", nil, "audio/mpeg", CacheReply); err == nil {
		t.Fatal("expected error")
	}
}
