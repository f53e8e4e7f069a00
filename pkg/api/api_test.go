package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/storage"
)

type fakeStore struct {
	creds []*storage.Credential
	songs []*storage.Song
	page  int
}

func (f *fakeStore) ListCredentials(ctx context.Context) ([]*storage.Credential, error) {
	return f.creds, nil
}

func (f *fakeStore) ListSongs(ctx context.Context, page, size int) ([]*storage.Song, error) {
	f.page = page
	return f.songs, nil
}

func (f *fakeStore) GetSong(ctx context.Context, id string) (*storage.Song, error) {
	for _, s := range f.songs {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, storage.ErrNotFound
}

type fakeGenerator struct {
	capacity int
	addErr   error
	quota    int
	// deadlines records whether each call had a context deadline.
	deadlines map[string]bool
}

func (f *fakeGenerator) record(name string, ctx context.Context) {
	if f.deadlines == nil {
		f.deadlines = map[string]bool{}
	}
	_, ok := ctx.Deadline()
	f.deadlines[name] = ok
}

func (f *fakeGenerator) AddCredential(ctx context.Context, content string) (*storage.Credential, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &storage.Credential{ID: "new", Content: content, Quota: 5, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeGenerator) Capacity(ctx context.Context) (int, error) {
	f.record("capacity", ctx)
	return f.capacity, nil
}

func (f *fakeGenerator) RefreshQuota(ctx context.Context) ([]generator.Report, error) {
	f.record("quota", ctx)
	return []generator.Report{
		{CredentialID: "a", Quota: &f.quota},
		{CredentialID: "b", Err: errors.New("auth")},
	}, nil
}

func (f *fakeGenerator) RefreshExpiry(ctx context.Context) ([]generator.Report, error) {
	f.record("expiry", ctx)
	return nil, nil
}

func newTestHandler(creds map[string]string) (http.Handler, *fakeStore, *fakeGenerator) {
	store := &fakeStore{
		creds: []*storage.Credential{
			{ID: "c1", Content: "__client=supersecretcookie", Quota: 3, ExpiresAt: time.Now().Add(time.Hour)},
			{ID: "c2", Content: "__client=anothersecret", Quota: 0, ExpiresAt: time.Now().Add(time.Hour)},
		},
		songs: []*storage.Song{{ID: "s1", Name: "Gophers", ClipIDs: []string{"a", "b"}, AudioURLs: []string{"a", "b"}}},
	}
	gen := &fakeGenerator{capacity: 3, quota: 7}
	return New(&Config{Store: store, Generator: gen, Credentials: creds}), store, gen
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCapacity(t *testing.T) {
	h, _, _ := newTestHandler(nil)
	rec := do(h, http.MethodGet, "/api/capacity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["capacity"] != 3 {
		t.Fatalf("capacity = %d; want 3", resp["capacity"])
	}
}

func TestCredentialsRedacted(t *testing.T) {
	h, _, _ := newTestHandler(nil)
	rec := do(h, http.MethodGet, "/api/credentials", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "supersecret") || strings.Contains(body, "anothersecret") {
		t.Fatalf("credential content leaked: %s", body)
	}
	var resp []credentialResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 2 || !resp[0].Usable || resp[1].Usable {
		t.Fatalf("credentials = %+v", resp)
	}
}

func TestAddCredential(t *testing.T) {
	tests := []struct {
		addErr error
		body   string
		want   int
	}{
		{nil, `{"content":"__client=newcookievalue"}`, http.StatusCreated},
		{generator.ErrInvalidCredential, `{"content":"short"}`, http.StatusBadRequest},
		{generator.ErrCredentialExists, `{"content":"__client=newcookievalue"}`, http.StatusConflict},
		{nil, `not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		h, _, gen := newTestHandler(nil)
		gen.addErr = tt.addErr
		rec := do(h, http.MethodPost, "/api/credentials", tt.body)
		if rec.Code != tt.want {
			t.Fatalf("POST %s status = %d; want %d", tt.body, rec.Code, tt.want)
		}
		if strings.Contains(rec.Body.String(), "newcookievalue") {
			t.Fatalf("credential content leaked: %s", rec.Body.String())
		}
	}
}

func TestSongs(t *testing.T) {
	h, store, _ := newTestHandler(nil)
	rec := do(h, http.MethodGet, "/api/songs?page=3", "")
	if rec.Code != http.StatusOK || store.page != 3 {
		t.Fatalf("status = %d page = %d", rec.Code, store.page)
	}
	if rec := do(h, http.MethodGet, "/api/songs?page=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid page status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/songs/s1", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Gophers") {
		t.Fatalf("get song status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/api/songs/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing song status = %d", rec.Code)
	}
}

type fakeArchive struct {
	ids []string
}

func (f *fakeArchive) GetMP3(ctx context.Context, path, id string) error {
	f.ids = append(f.ids, id)
	return os.WriteFile(path, []byte("ID3 clip"), 0644)
}

func TestClip(t *testing.T) {
	h, _, _ := newTestHandler(nil)
	if rec := do(h, http.MethodGet, "/api/songs/s1/clips/a", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status without archive = %d", rec.Code)
	}

	store := &fakeStore{songs: []*storage.Song{{ID: "s1", ClipIDs: []string{"a", "b"}}}}
	archive := &fakeArchive{}
	h = New(&Config{Store: store, Generator: &fakeGenerator{}, Archive: archive})
	rec := do(h, http.MethodGet, "/api/songs/s1/clips/b", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ID3 clip" || rec.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("body = %q content type = %q", rec.Body.String(), rec.Header().Get("Content-Type"))
	}
	if len(archive.ids) != 1 || archive.ids[0] != "s1-b" {
		t.Fatalf("archive ids = %q", archive.ids)
	}
	if rec := do(h, http.MethodGet, "/api/songs/s1/clips/other", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown clip status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/songs/missing/clips/a", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown song status = %d", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	h, _, _ := newTestHandler(nil)
	rec := do(h, http.MethodPost, "/api/refresh/quota", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp []reportResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 2 || *resp[0].Quota != 7 || resp[1].Error != "auth" {
		t.Fatalf("reports = %+v", resp)
	}
	if rec := do(h, http.MethodPost, "/api/refresh/other", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown refresh status = %d", rec.Code)
	}
}

func TestRefreshWithoutTimeout(t *testing.T) {
	h, _, gen := newTestHandler(nil)
	for _, path := range []string{"/api/refresh/quota", "/api/refresh/expiry", "/api/capacity"} {
		method := http.MethodPost
		if path == "/api/capacity" {
			method = http.MethodGet
		}
		if rec := do(h, method, path, ""); rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
	if gen.deadlines["quota"] || gen.deadlines["expiry"] {
		t.Fatalf("refresh ran with a request deadline: %v", gen.deadlines)
	}
	if !gen.deadlines["capacity"] {
		t.Fatal("capacity ran without a request deadline")
	}
}

func TestBasicAuth(t *testing.T) {
	h, _, _ := newTestHandler(map[string]string{"admin": "secret"})
	if rec := do(h, http.MethodGet, "/api/capacity", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without auth = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/capacity", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with auth = %d", rec.Code)
	}
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		errC <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()
	cancel()
	select {
	case err := <-errC:
		if err != nil {
			t.Fatalf("Serve() err = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve() didn't stop")
	}
}
