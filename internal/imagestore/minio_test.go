package imagestore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]bool
	deleted []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/renders-bucket")
	key := strings.TrimPrefix(path, "/")
	switch {
	case r.Method == http.MethodHead:
		if !f.objects[key] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Length", "3")
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>renders-bucket</Name><IsTruncated>false</IsTruncated>`)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>3</Size><ETag>"abc"</ETag><LastModified>2026-10-01T00:00:00.000Z</LastModified></Contents>`, k)
			}
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		f.deleted = append(f.deleted, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newFakeMinio(t *testing.T, objects ...string) (*Minio, *fakeS3) {
	t.Helper()
	f := &fakeS3{objects: map[string]bool{}}
	for _, o := range objects {
		f.objects[o] = true
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := NewMinio(MinioConfig{
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "testsecret",
		Bucket:    "renders-bucket",
		Region:    "us-east-1",
	}, nil)
	require.NoError(t, err)
	return s, f
}

func TestMinio_Exists(t *testing.T) {
	s, _ := newFakeMinio(t, "renders/a/ndvi/0000000000000001.png")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.Exists(ctx, "renders/a/ndvi/0000000000000001.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "renders/a/ndvi/missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMinio_DeletePrefix(t *testing.T) {
	s, f := newFakeMinio(t, "renders/a/ndvi/1.png", "renders/a/ndvi/2.png", "renders/a/evi/3.png")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.DeletePrefix(ctx, "renders/a/ndvi/"))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.ElementsMatch(t, []string{"renders/a/ndvi/1.png", "renders/a/ndvi/2.png"}, f.deleted)
	assert.True(t, f.objects["renders/a/evi/3.png"])
}

func TestNewMinio_Validates(t *testing.T) {
	_, err := NewMinio(MinioConfig{Bucket: "b"}, nil)
	assert.Error(t, err)

	s, err := NewMinio(MinioConfig{Endpoint: "https://s3.example.com/ignored", Bucket: "b", UseSSL: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/b/renders/x.png", s.PublicURL("renders/x.png"))
}
