package suno

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TODO: obtain this version from redirect response of https://clerk.suno.ai/npm/@clerk/clerk-js@4/dist/clerk.browser.js
const clerkVersion = "4.70.5"

type clerkClientResponse struct {
	Response *clientResponse `json:"response"`
	Client   any             `json:"client"`
}

type clientResponse struct {
	Object              string          `json:"object"`
	ID                  string          `json:"id"`
	Sessions            []clientSession `json:"sessions"`
	LastActiveSessionID string          `json:"last_active_session_id"`
	CreatedAt           int64           `json:"created_at"`
	UpdatedAt           int64           `json:"updated_at"`
}

type clientSession struct {
	Object       string `json:"object"`
	ID           string `json:"id"`
	Status       string `json:"status"`
	ExpireAt     int64  `json:"expire_at"`
	AbandonAt    int64  `json:"abandon_at"`
	LastActiveAt int64  `json:"last_active_at"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

type clerkTokenResponse struct {
	JWT    string `json:"jwt"`
	Object string `json:"object"`
}

// Authenticate obtains the session id from the client bootstrap endpoint
// and exchanges it for a bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.clerkClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.Response == nil || resp.Response.LastActiveSessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrAuth)
	}
	c.session = resp.Response.LastActiveSessionID

	token, err := c.sessionToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if token == "" {
		return fmt.Errorf("%w: empty clerk token", ErrAuth)
	}
	c.setToken(token)
	c.renewFailures = 0
	return nil
}

// Renew exchanges the held session id for a new bearer token. If the
// response has no token the previous one is kept. After too many
// consecutive failures ErrAuth is returned.
func (c *Client) Renew(ctx context.Context) error {
	if c.session == "" {
		return fmt.Errorf("%w: no session to renew", ErrAuth)
	}
	token, err := c.sessionToken(ctx)
	if err == nil && token != "" {
		c.setToken(token)
		c.renewFailures = 0
		return nil
	}
	if err == nil {
		err = errors.New("no jwt in response")
	}
	c.renewFailures++
	c.log.Warn("suno: couldn't renew token, keeping the previous one", "failures", c.renewFailures, "err", err)
	if c.renewFailures >= c.maxRenewals {
		return fmt.Errorf("%w: token renewal failed %d times: %v", ErrAuth, c.renewFailures, err)
	}
	return nil
}

// SessionExpiry returns the expiry of the active session. The boolean is
// false if the provider didn't report one.
func (c *Client) SessionExpiry(ctx context.Context) (time.Time, bool, error) {
	resp, err := c.clerkClient(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if resp.Response == nil || len(resp.Response.Sessions) == 0 {
		return time.Time{}, false, nil
	}
	s := resp.Response.Sessions[0]
	for _, candidate := range resp.Response.Sessions {
		if candidate.ID == resp.Response.LastActiveSessionID {
			s = candidate
			break
		}
	}
	if s.ExpireAt <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(s.ExpireAt).UTC(), true, nil
}

// TokenExpired reports whether the bearer token is known to be expired.
func (c *Client) TokenExpired() bool {
	return !c.tokenExpiration.IsZero() && time.Now().After(c.tokenExpiration)
}

func (c *Client) setToken(token string) {
	c.token = token
	c.tokenExpiration = time.Time{}
	claims, err := toClaims(token)
	if err != nil {
		c.log.Debug("suno: couldn't parse token claims", "err", err)
		return
	}
	exp := time.Unix(claims.Exp, 0)
	// Set token expiration to 90% of the actual expiration
	c.tokenExpiration = time.Now().Add(time.Until(exp) * 90 / 100).UTC()
}

func (c *Client) clerkClient(ctx context.Context) (*clerkClientResponse, error) {
	var resp clerkClientResponse
	u := fmt.Sprintf("%s/v1/client?_clerk_js_version=%s", c.clerkURL, clerkVersion)
	if _, err := c.do(ctx, "GET", u, nil, &resp); err != nil {
		return nil, fmt.Errorf("suno: couldn't get client: %w", err)
	}
	return &resp, nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	u := fmt.Sprintf("%s/v1/client/sessions/%s/tokens?_clerk_js_version=%s", c.clerkURL, c.session, clerkVersion)
	var resp clerkTokenResponse
	if _, err := c.do(ctx, "POST", u, nil, &resp); err != nil {
		return "", fmt.Errorf("suno: couldn't get clerk token: %w", err)
	}
	return resp.JWT, nil
}

type claims struct {
	Azp string `json:"azp"`
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat"`
	Iss string `json:"iss"`
	Nbf int64  `json:"nbf"`
	Sid string `json:"sid"`
	Sub string `json:"sub"`
}

func toClaims(token string) (*claims, error) {
	// Split the JWT into its three parts
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("suno: invalid access token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't decode access token: %w", err)
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("suno: couldn't unmarshal access token: %w", err)
	}
	if c.Exp == 0 {
		return nil, errors.New("suno: access token without expiration")
	}
	return &c, nil
}
