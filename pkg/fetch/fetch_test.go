package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	lck   sync.Mutex
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.lck.Lock()
	defer r.lck.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestFetcher(r *recorder) *Fetcher {
	return New(&Config{Sleep: r.sleep})
}

func TestDownload(t *testing.T) {
	data := bytes.Repeat([]byte{0xff}, 100*1024)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			_, _ = w.Write([]byte("tiny"))
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	r := &recorder{}
	f := newTestFetcher(r)
	dir := t.TempDir()
	path, err := f.Download(context.Background(), srv.URL+"/?item_id=abc", dir, "My Song")
	if err != nil {
		t.Fatalf("Download() err = %v", err)
	}
	if path != filepath.Join(dir, "My_Song.mp3") {
		t.Fatalf("Download() path = %s", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded %d bytes; want %d", len(got), len(data))
	}
	want := []time.Duration{60 * time.Second, 50 * time.Second, 40 * time.Second}
	if fmt.Sprint(r.waits) != fmt.Sprint(want) {
		t.Fatalf("waits = %v; want %v", r.waits, want)
	}
}

func TestDownloadExhausted(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write(bytes.Repeat([]byte{1}, 1023))
	}))
	defer srv.Close()

	r := &recorder{}
	f := newTestFetcher(r)
	dir := t.TempDir()
	_, err := f.Download(context.Background(), srv.URL, dir, "song")
	if !errors.Is(err, ErrDownloadExhausted) {
		t.Fatalf("Download() err = %v; want ErrDownloadExhausted", err)
	}
	if calls != 5 {
		t.Fatalf("server called %d times; want 5", calls)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("output dir has %d files; want 0", len(entries))
	}
	if len(r.waits) != 5 {
		t.Fatalf("waited %d times; want 5", len(r.waits))
	}
}

func TestDownloadBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(bytes.Repeat([]byte{1}, 4096))
	}))
	defer srv.Close()

	f := newTestFetcher(&recorder{})
	if _, err := f.Download(context.Background(), srv.URL, t.TempDir(), "song"); !errors.Is(err, ErrDownloadExhausted) {
		t.Fatalf("Download() err = %v; want ErrDownloadExhausted", err)
	}
}

func TestDownloadDoesntFollowRedirects(t *testing.T) {
	var followed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/target", func(w http.ResponseWriter, r *http.Request) {
		followed = true
		_, _ = w.Write(bytes.Repeat([]byte{1}, 4096))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(&Config{Sleep: (&recorder{}).sleep, MaxAttempts: 2})
	if _, err := f.Download(context.Background(), srv.URL+"/", t.TempDir(), "song"); !errors.Is(err, ErrDownloadExhausted) {
		t.Fatalf("Download() err = %v; want ErrDownloadExhausted", err)
	}
	if followed {
		t.Fatal("Download() followed a redirect")
	}
}

func TestDownloadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(&Config{})
	if _, err := f.Download(ctx, "http://127.0.0.1:0", t.TempDir(), "song"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Download() err = %v; want context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	wait := 60 * time.Second
	var got []time.Duration
	for i := 0; i < 7; i++ {
		next := Backoff(wait, 10*time.Second, 10*time.Second)
		if next > wait {
			t.Fatalf("Backoff(%s) = %s; want non increasing", wait, next)
		}
		if next < 10*time.Second {
			t.Fatalf("Backoff(%s) = %s; want >= 10s", wait, next)
		}
		got = append(got, next)
		wait = next
	}
	want := "[50s 40s 30s 20s 10s 10s 10s]"
	if fmt.Sprint(got) != want {
		t.Fatalf("Backoff sequence = %v; want %s", got, want)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Song", "My_Song.mp3"},
		{"a/b", "a_b.mp3"},
		{"", "song.mp3"},
		{"done.mp3", "done.mp3"},
	}
	for _, tt := range tests {
		if got := Filename(tt.in); got != tt.want {
			t.Errorf("Filename(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
