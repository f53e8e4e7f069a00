package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// bucket is a minimal path style S3 server.
type bucket struct {
	lck     sync.Mutex
	name    string
	objects map[string][]byte
	types   map[string]string
}

func (b *bucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.lck.Lock()
	defer b.lck.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/")
	name, key, _ := strings.Cut(path, "/")
	if name != b.name {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		b.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestUploadDownload(t *testing.T) {
	b := &bucket{name: "songs", objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx := context.Background()
	s, err := New(ctx, &Config{
		Key:      "key",
		Secret:   "secret",
		Region:   "us-east-1",
		Bucket:   "songs",
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}

	src := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(src, []byte("mp3 data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Upload(ctx, src, "01SONG.mp3"); err != nil {
		t.Fatalf("Upload() err = %v", err)
	}
	if string(b.objects["01SONG.mp3"]) != "mp3 data" {
		t.Fatalf("stored object = %q", b.objects["01SONG.mp3"])
	}
	if b.types["01SONG.mp3"] != "audio/mpeg" {
		t.Fatalf("content type = %q", b.types["01SONG.mp3"])
	}

	dst := filepath.Join(t.TempDir(), "copy.mp3")
	if err := s.Download(ctx, dst, "01SONG.mp3"); err != nil {
		t.Fatalf("Download() err = %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "mp3 data" {
		t.Fatalf("downloaded %q", got)
	}
}

func TestUploadUnknownExtension(t *testing.T) {
	s := &Store{}
	if err := s.Upload(context.Background(), "song.flac", "song.flac"); err == nil {
		t.Fatal("Upload() err = nil; want error")
	}
}
