package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/ratelimit"
	"github.com/igolaizola/sunobot/pkg/session"
)

const (
	DefaultClerkURL = "https://clerk.suno.ai"
	DefaultAPIURL   = "https://studio-api.suno.ai"

	defaultPollWait      = 10 * time.Second
	defaultPollErrorWait = 2 * time.Second
	defaultMaxPolls      = 6
	defaultMaxRenewals   = 3
)

var (
	// ErrAuth means the cookie couldn't be exchanged for a token.
	ErrAuth = errors.New("suno: authentication failed")
	// ErrSubmission means the generation request was rejected.
	ErrSubmission = errors.New("suno: submission failed")
	// ErrPollExhausted means the clips weren't ready after every poll.
	ErrPollExhausted = errors.New("suno: poll attempts exhausted")
	// ErrClipFailed means the provider reported an error for a clip.
	ErrClipFailed = errors.New("suno: clip generation failed")
)

// Client is an authenticated session bound to a single cookie.
type Client struct {
	client          *http.Client
	debug           bool
	log             *log.Logger
	ratelimit       ratelimit.Lock
	cookie          string
	clerkURL        string
	apiURL          string
	session         string
	token           string
	tokenExpiration time.Time
	renewFailures   int
	maxRenewals     int
	pollWait        time.Duration
	pollErrorWait   time.Duration
	maxPolls        int
	backoff         []time.Duration
	sleep           func(context.Context, time.Duration) error
}

type Config struct {
	Wait   time.Duration
	Debug  bool
	Client *http.Client
	Logger *log.Logger
	Cookie string

	// Endpoints, overridable for testing.
	ClerkURL string
	APIURL   string

	PollWait      time.Duration
	PollErrorWait time.Duration
	MaxPolls      int
	MaxRenewals   int

	// Sleep waits for the given duration or until the context is done.
	Sleep func(context.Context, time.Duration) error
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Client != nil {
		// Copy the client so each session gets its own cookie jar.
		c := *cfg.Client
		c.Jar = nil
		client = &c
	}
	clerkURL := strings.TrimSuffix(cfg.ClerkURL, "/")
	if clerkURL == "" {
		clerkURL = DefaultClerkURL
	}
	apiURL := strings.TrimSuffix(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	pollWait := defaultPollWait
	if cfg.PollWait > 0 {
		pollWait = cfg.PollWait
	}
	pollErrorWait := defaultPollErrorWait
	if cfg.PollErrorWait > 0 {
		pollErrorWait = cfg.PollErrorWait
	}
	maxPolls := defaultMaxPolls
	if cfg.MaxPolls > 0 {
		maxPolls = cfg.MaxPolls
	}
	maxRenewals := defaultMaxRenewals
	if cfg.MaxRenewals > 0 {
		maxRenewals = cfg.MaxRenewals
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return &Client{
		client:        client,
		ratelimit:     ratelimit.New(wait),
		debug:         cfg.Debug,
		log:           logger.Or(cfg.Logger),
		cookie:        cfg.Cookie,
		clerkURL:      clerkURL,
		apiURL:        apiURL,
		pollWait:      pollWait,
		pollErrorWait: pollErrorWait,
		maxPolls:      maxPolls,
		maxRenewals:   maxRenewals,
		backoff:       backoff,
		sleep:         sleep,
	}
}

// Sleep waits for d or until the context is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start loads the cookie and authenticates the session.
func (c *Client) Start(ctx context.Context) error {
	cookie := strings.TrimSpace(c.cookie)
	if cookie == "" {
		return fmt.Errorf("%w: cookie is empty", ErrAuth)
	}
	if err := session.SetCookies(c.client, c.clerkURL, cookie, nil); err != nil {
		return fmt.Errorf("%w: couldn't set cookie: %v", ErrAuth, err)
	}
	return c.Authenticate(ctx)
}

// Cookie returns the current cookies of the session, which the provider may
// have rotated.
func (c *Client) Cookie() (string, error) {
	cookie, err := session.GetCookies(c.client, c.clerkURL)
	if err != nil {
		return "", fmt.Errorf("suno: couldn't get cookie: %w", err)
	}
	return cookie, nil
}

var backoff = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	maxAttempts := 3
	attempts := 0
	var err error
	for {
		if err != nil {
			c.log.Debug("suno: retrying request", "method", method, "path", path, "err", err)
		}
		var b []byte
		b, err = c.doAttempt(ctx, method, path, in, out)
		if err == nil {
			return b, nil
		}
		// Increase attempts and check if we should stop
		attempts++
		if attempts >= maxAttempts {
			return nil, err
		}
		// If the error is temporary retry
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}

		// Check if we should retry after waiting
		var retry bool
		var wait bool

		// Check status code
		var errStatus errStatusCode
		if errors.As(err, &errStatus) {
			switch int(errStatus) {
			case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests, 520:
				// Retry on these status codes
				retry = true
				wait = true
			case http.StatusUnauthorized:
				// Token exchange calls can't be fixed by renewing
				if strings.HasPrefix(path, c.clerkURL) {
					return nil, err
				}
				if err := c.Renew(ctx); err != nil {
					return nil, err
				}
				retry = true
			default:
				return nil, err
			}
		}
		if !retry {
			return nil, err
		}

		// Wait before retrying
		if wait {
			idx := attempts - 1
			if idx >= len(c.backoff) {
				idx = len(c.backoff) - 1
			}
			waitTime := c.backoff[idx]
			c.log.Warn("suno: server seems to be down", "wait", waitTime, "err", err)
			if err := c.sleep(ctx, waitTime); err != nil {
				return nil, err
			}
		}
	}
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (c *Client) doAttempt(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("suno: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	logBody := string(body)
	if len(logBody) > 100 {
		logBody = logBody[:100] + "..."
	}
	if c.debug {
		c.log.Debug("suno: do", "method", method, "path", path, "body", logBody)
	}

	// Check if path is absolute
	u := fmt.Sprintf("%s/api/%s", c.apiURL, path)
	if strings.HasPrefix(path, "http") {
		u = path
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't create request: %w", err)
	}
	c.addHeaders(req, path)

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't read response body: %w", err)
	}
	if c.debug {
		c.log.Debug("suno: response", "method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return nil, fmt.Errorf("suno: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}

func (c *Client) addHeaders(req *http.Request, path string) {
	// Custom headers for different paths
	var token string
	var contentType string
	switch {
	case strings.HasPrefix(path, c.clerkURL):
		contentType = "application/x-www-form-urlencoded"
	case strings.HasPrefix(path, "feed"):
		token = c.token
	default:
		token = c.token
		contentType = "text/plain;charset=UTF-8"
	}
	// Set headers
	req.Header.Set("accept", "*/*")
	req.Header.Set("accept-language", "en-US,en;q=0.9")
	if token != "" {
		req.Header.Set("authorization", fmt.Sprintf("Bearer %s", token))
	}
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	req.Header.Set("origin", "https://app.suno.ai")
	req.Header.Set("referer", "https://app.suno.ai/")
	req.Header.Set("sec-ch-ua", `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
	req.Header.Set("sec-fetch-dest", "empty")
	req.Header.Set("sec-fetch-mode", "cors")
	req.Header.Set("sec-fetch-site", "same-site")
	req.Header.Set("user-agent", `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36`)
}
