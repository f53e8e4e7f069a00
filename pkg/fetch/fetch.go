package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/logger"
)

// ErrDownloadExhausted means no valid file was obtained after every attempt.
var ErrDownloadExhausted = errors.New("fetch: download attempts exhausted")

const (
	defaultSettleDelay = 60 * time.Second
	defaultMinWait     = 10 * time.Second
	defaultStep        = 10 * time.Second
	defaultMaxAttempts = 5
	defaultMinSize     = 1024

	chunkSize = 32 * 1024
)

type Config struct {
	Client *http.Client
	Logger *log.Logger

	// SettleDelay is waited before the first attempt, artifacts aren't
	// available right after the provider reports completion.
	SettleDelay time.Duration
	MinWait     time.Duration
	Step        time.Duration
	MaxAttempts int
	// MinSize is the minimum size in bytes of a valid file.
	MinSize int64

	Sleep func(context.Context, time.Duration) error
}

type Fetcher struct {
	client      *http.Client
	log         *log.Logger
	settleDelay time.Duration
	minWait     time.Duration
	step        time.Duration
	maxAttempts int
	minSize     int64
	sleep       func(context.Context, time.Duration) error
}

func New(cfg *Config) *Fetcher {
	client := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	// Redirects usually point to a placeholder while the file is rendered.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f := &Fetcher{
		client:      client,
		log:         logger.Or(cfg.Logger),
		settleDelay: defaultSettleDelay,
		minWait:     defaultMinWait,
		step:        defaultStep,
		maxAttempts: defaultMaxAttempts,
		minSize:     defaultMinSize,
		sleep:       cfg.Sleep,
	}
	if cfg.SettleDelay > 0 {
		f.settleDelay = cfg.SettleDelay
	}
	if cfg.MinWait > 0 {
		f.minWait = cfg.MinWait
	}
	if cfg.Step > 0 {
		f.step = cfg.Step
	}
	if cfg.MaxAttempts > 0 {
		f.maxAttempts = cfg.MaxAttempts
	}
	if cfg.MinSize > 0 {
		f.minSize = cfg.MinSize
	}
	if f.sleep == nil {
		f.sleep = sleep
	}
	return f
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the wait before the next attempt given the previous one.
func Backoff(prev, step, floor time.Duration) time.Duration {
	next := prev - step
	if next < floor {
		return floor
	}
	return next
}

// Filename returns the sanitized file name used for an artifact.
func Filename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "song"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".mp3") {
		name += ".mp3"
	}
	return name
}

// Download retrieves url into dir and returns the path of the file. The
// caller owns the file once it is returned.
func (f *Fetcher) Download(ctx context.Context, url, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("fetch: couldn't create output directory: %w", err)
	}
	path := filepath.Join(dir, Filename(name))

	wait := f.settleDelay
	if err := f.sleep(ctx, wait); err != nil {
		return "", err
	}
	var err error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		err = f.downloadAttempt(ctx, url, path)
		if err == nil {
			return path, nil
		}
		_ = os.Remove(path)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == f.maxAttempts {
			break
		}
		wait = Backoff(wait, f.step, f.minWait)
		f.log.Debug("fetch: download attempt failed", "url", url, "attempt", attempt, "wait", wait, "err", err)
		if err := f.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	f.log.Warn("fetch: couldn't download file", "url", url, "attempts", f.maxAttempts, "err", err)
	return "", fmt.Errorf("%w: %s: %v", ErrDownloadExhausted, url, err)
}

func (f *Fetcher) downloadAttempt(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: couldn't create request: %w", err)
	}
	req.Header.Set("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: couldn't download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: bad status: %s", resp.Status)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fetch: couldn't create file: %w", err)
	}
	n, err := io.CopyBuffer(file, resp.Body, make([]byte, chunkSize))
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetch: couldn't write file: %w", err)
	}
	if n < f.minSize {
		return fmt.Errorf("fetch: file too small (%d bytes)", n)
	}
	return nil
}
