package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/igolaizola/sunobot/pkg/fetch"
	"github.com/igolaizola/sunobot/pkg/storage"
	"github.com/igolaizola/sunobot/pkg/suno"
)

type clock struct {
	lck   sync.Mutex
	waits []time.Duration
}

func (c *clock) sleep(ctx context.Context, d time.Duration) error {
	c.lck.Lock()
	defer c.lck.Unlock()
	c.waits = append(c.waits, d)
	return ctx.Err()
}

func (c *clock) count(d time.Duration) int {
	c.lck.Lock()
	defer c.lck.Unlock()
	var n int
	for _, w := range c.waits {
		if w == d {
			n++
		}
	}
	return n
}

func providerServer(t *testing.T, incomplete int) *httptest.Server {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload, _ := json.Marshal(map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	jwt := header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"

	var feedCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"last_active_session_id":"sess_1","sessions":[{"id":"sess_1","expire_at":1893456000000}]}}`)
	})
	mux.HandleFunc("/v1/client/sessions/sess_1/tokens", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jwt":%q}`, jwt)
	})
	mux.HandleFunc("/api/billing/info/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_credits_left":10}`)
	})
	mux.HandleFunc("/api/generate/v2/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"clips":[{"id":"clip-a"},{"id":"clip-b"}]}`)
	})
	mux.HandleFunc("/api/feed/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "clip-a,clip-b" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if int(atomic.AddInt32(&feedCalls, 1)) <= incomplete {
			fmt.Fprint(w, `[{"id":"clip-a","status":"queued","metadata":{}},{"id":"clip-b","status":"queued","metadata":{}}]`)
			return
		}
		fmt.Fprint(w, `[
			{"id":"clip-a","title":"Gophers","status":"complete","metadata":{"prompt":"[Verse]\nDig all day"}},
			{"id":"clip-b","title":"Gophers","status":"complete","metadata":{"prompt":"[Verse]\nDig all day"}}
		]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func cdnServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var smallCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("item_id") {
		case "clip-a":
			_, _ = w.Write(bytes.Repeat([]byte{0xff}, 4096))
		default:
			atomic.AddInt32(&smallCalls, 1)
			_, _ = w.Write(bytes.Repeat([]byte{0xff}, 512))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &smallCalls
}

func TestGenerateEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Stop() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	provider := providerServer(t, 3)
	cdn, smallCalls := cdnServer(t)
	sunoClock := &clock{}
	fetchClock := &clock{}

	gen := New(&Config{
		Store: store,
		Sessions: SunoSessions(&suno.Config{
			Wait:     time.Millisecond,
			ClerkURL: provider.URL,
			APIURL:   provider.URL,
			Sleep:    sunoClock.sleep,
		}),
		Fetcher:   fetch.New(&fetch.Config{Sleep: fetchClock.sleep}),
		OutputDir: t.TempDir(),
		AudioURL:  func(id string) string { return cdn.URL + "/?item_id=" + id },
		Duration:  func(string) (float32, error) { return 0, fmt.Errorf("not an mp3") },
	})

	if _, err := gen.AddCredential(ctx, "__client=cookie-value; __client_uat=1"); err != nil {
		t.Fatal(err)
	}
	cred, err := store.NextCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetCredentialQuota(ctx, cred.ID, 1); err != nil {
		t.Fatal(err)
	}

	var delivered []string
	res, err := gen.Generate(ctx, "a song about gophers", func(ctx context.Context, a *Artifact) error {
		delivered = append(delivered, a.ClipID)
		if !strings.HasPrefix(a.Lyric, "Gophers\n\n") {
			t.Errorf("lyric = %q", a.Lyric)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}

	if n := sunoClock.count(10 * time.Second); n != 3 {
		t.Fatalf("polling waited 10s %d times; want 3 (%v)", n, sunoClock.waits)
	}
	if fmt.Sprint(delivered) != "[clip-a]" || res.Downloaded != 1 {
		t.Fatalf("delivered %v downloaded %d; want [clip-a], 1", delivered, res.Downloaded)
	}
	if n := atomic.LoadInt32(smallCalls); n != 5 {
		t.Fatalf("small clip downloaded %d times; want 5", n)
	}

	got, err := store.GetCredential(ctx, cred.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quota != 0 || got.Busy {
		t.Fatalf("credential quota=%d busy=%v; want 0, false", got.Quota, got.Busy)
	}

	song, err := store.GetSong(ctx, res.Song.ID)
	if err != nil {
		t.Fatal(err)
	}
	if song.Name != "Gophers" || len(song.AudioURLs) != 2 || song.VideoURLs[1] != "https://cdn1.suno.ai/clip-b.mp4" {
		t.Fatalf("song = %+v", song)
	}

	if n, _ := gen.Capacity(ctx); n != 0 {
		t.Fatalf("Capacity() = %d; want 0", n)
	}
}
