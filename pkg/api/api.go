package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/storage"
)

type Store interface {
	ListCredentials(ctx context.Context) ([]*storage.Credential, error)
	ListSongs(ctx context.Context, page, size int) ([]*storage.Song, error)
	GetSong(ctx context.Context, id string) (*storage.Song, error)
}

type Generator interface {
	AddCredential(ctx context.Context, content string) (*storage.Credential, error)
	Capacity(ctx context.Context) (int, error)
	RefreshQuota(ctx context.Context) ([]generator.Report, error)
	RefreshExpiry(ctx context.Context) ([]generator.Report, error)
}

// Archive returns archived clips.
type Archive interface {
	GetMP3(ctx context.Context, path, id string) error
}

type Config struct {
	Store     Store
	Generator Generator
	// Archive is optional, clips can't be downloaded without it.
	Archive Archive
	Logger  *log.Logger
	Debug   bool
	// Credentials enables basic auth with user/password pairs.
	Credentials map[string]string
}

type credentialResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Quota     int       `json:"quota"`
	Busy      bool      `json:"busy"`
	Usable    bool      `json:"usable"`
	ExpiresAt time.Time `json:"expires_at"`
	Remark    string    `json:"remark,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toCredentialResponse(c *storage.Credential, now time.Time) *credentialResponse {
	return &credentialResponse{
		ID:        c.ID,
		Content:   c.Redacted(),
		Quota:     c.Quota,
		Busy:      c.Busy,
		Usable:    c.Usable(now),
		ExpiresAt: c.ExpiresAt,
		Remark:    c.Remark,
		CreatedAt: c.CreatedAt,
	}
}

type songResponse struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Name      string    `json:"name"`
	Lyric     string    `json:"lyric"`
	AudioURLs []string  `json:"audio_urls"`
	VideoURLs []string  `json:"video_urls"`
	Duration  float32   `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

func toSongResponse(s *storage.Song) *songResponse {
	return &songResponse{
		ID:        s.ID,
		Prompt:    s.Prompt,
		Name:      s.Name,
		Lyric:     s.Lyric,
		AudioURLs: s.AudioURLs,
		VideoURLs: s.VideoURLs,
		Duration:  s.Duration,
		CreatedAt: s.CreatedAt,
	}
}

type reportResponse struct {
	Credential string     `json:"credential"`
	Quota      *int       `json:"quota,omitempty"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	Skipped    bool       `json:"skipped,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// New returns the admin API handler.
func New(cfg *Config) http.Handler {
	l := logger.Or(cfg.Logger)
	store := cfg.Store
	gen := cfg.Generator

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}
	if cfg.Debug {
		mux.Use(middleware.Logger)
	}

	// Refresh passes contact every credential and may outlast the timeout.
	timed := mux.With(middleware.Timeout(60 * time.Second))

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(v); err != nil {
			l.Warn("api: couldn't encode response", "err", err)
		}
	}
	writeError := func(w http.ResponseWriter, status int, msg string, err error) {
		if status >= http.StatusInternalServerError {
			l.Error("api: "+msg, "err", err)
		}
		writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s: %v", msg, err)})
	}

	timed.Get("/api/capacity", func(w http.ResponseWriter, r *http.Request) {
		n, err := gen.Capacity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't get capacity", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"capacity": n})
	})

	timed.Get("/api/credentials", func(w http.ResponseWriter, r *http.Request) {
		creds, err := store.ListCredentials(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't list credentials", err)
			return
		}
		now := time.Now()
		resp := []*credentialResponse{}
		for _, c := range creds {
			resp = append(resp, toCredentialResponse(c, now))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	timed.Post("/api/credentials", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request", err)
			return
		}
		c, err := gen.AddCredential(r.Context(), req.Content)
		switch {
		case errors.Is(err, generator.ErrInvalidCredential):
			writeError(w, http.StatusBadRequest, "couldn't add credential", err)
		case errors.Is(err, generator.ErrCredentialExists):
			writeError(w, http.StatusConflict, "couldn't add credential", err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, "couldn't add credential", err)
		default:
			writeJSON(w, http.StatusCreated, toCredentialResponse(c, time.Now()))
		}
	})

	mux.Post("/api/refresh/{kind}", func(w http.ResponseWriter, r *http.Request) {
		var reports []generator.Report
		var err error
		switch chi.URLParam(r, "kind") {
		case "quota":
			reports, err = gen.RefreshQuota(r.Context())
		case "expiry":
			reports, err = gen.RefreshExpiry(r.Context())
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't refresh credentials", err)
			return
		}
		resp := []*reportResponse{}
		for _, rep := range reports {
			v := &reportResponse{
				Credential: rep.CredentialID,
				Quota:      rep.Quota,
				Expiry:     rep.Expiry,
				Skipped:    rep.Skipped,
			}
			if rep.Err != nil {
				v.Error = rep.Err.Error()
			}
			resp = append(resp, v)
		}
		writeJSON(w, http.StatusOK, resp)
	})

	timed.Get("/api/songs", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if v := r.URL.Query().Get("page"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil || p < 1 {
				writeError(w, http.StatusBadRequest, "invalid page", fmt.Errorf("%q", v))
				return
			}
			page = p
		}
		songs, err := store.ListSongs(r.Context(), page, 20)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't list songs", err)
			return
		}
		resp := []*songResponse{}
		for _, s := range songs {
			resp = append(resp, toSongResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	timed.Get("/api/songs/{id}", func(w http.ResponseWriter, r *http.Request) {
		s, err := store.GetSong(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "couldn't get song", err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't get song", err)
			return
		}
		writeJSON(w, http.StatusOK, toSongResponse(s))
	})

	timed.Get("/api/songs/{id}/clips/{clip}", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Archive == nil {
			http.NotFound(w, r)
			return
		}
		s, err := store.GetSong(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "couldn't get song", err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't get song", err)
			return
		}
		clip := chi.URLParam(r, "clip")
		if !slices.Contains(s.ClipIDs, clip) {
			http.NotFound(w, r)
			return
		}
		f, err := os.CreateTemp("", "sunobot-*.mp3")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't create temp file", err)
			return
		}
		path := f.Name()
		_ = f.Close()
		defer func() { _ = os.Remove(path) }()
		if err := cfg.Archive.GetMP3(r.Context(), path, fmt.Sprintf("%s-%s", s.ID, clip)); err != nil {
			writeError(w, http.StatusInternalServerError, "couldn't get clip", err)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", clip+".mp3"))
		http.ServeFile(w, r, path)
	})

	return mux
}

// Serve listens on addr until the context is done.
func Serve(ctx context.Context, addr string, handler http.Handler, l *log.Logger) error {
	l = logger.Or(l)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		l.Info("api: server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
		close(errC)
	}()
	select {
	case err := <-errC:
		if err != nil {
			return fmt.Errorf("api: couldn't serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: couldn't shutdown: %w", err)
	}
	l.Info("api: server stopped")
	return nil
}
