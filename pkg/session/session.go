package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

// UnmarshalCookies parses a raw "name=value; name2=value2" cookie header as
// copied from a browser. The optional edit function can modify or drop
// (by returning nil) each cookie.
func UnmarshalCookies(rawCookies string, edit func(*http.Cookie) *http.Cookie) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	for _, cookie := range strings.Split(rawCookies, ";") {
		cookie = strings.TrimSpace(cookie)
		if cookie == "" {
			continue
		}
		parts := strings.SplitN(cookie, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("session: invalid cookie: %v", cookie)
		}
		value := parts[1]
		// URL encode the cookie value if it contains an invalid character.
		if strings.Contains(value, "\"") {
			value = url.QueryEscape(value)
		}
		c := &http.Cookie{Name: strings.TrimSpace(parts[0]), Value: value}
		if edit != nil {
			c = edit(c)
		}
		if c == nil {
			continue
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}

// MarshalCookies returns the cookies as a raw cookie header.
func MarshalCookies(cookies []*http.Cookie) string {
	var rawCookies []string
	for _, cookie := range cookies {
		rawCookies = append(rawCookies, fmt.Sprintf("%s=%s", cookie.Name, cookie.Value))
	}
	return strings.Join(rawCookies, "; ")
}

// SetCookies loads raw cookies into the client jar for the given URL,
// creating the jar if needed.
func SetCookies(client *http.Client, rawURL, rawCookies string, edit func(*http.Cookie) *http.Cookie) error {
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return fmt.Errorf("session: couldn't create cookie jar: %w", err)
		}
		client.Jar = jar
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("session: invalid url %q: %w", rawURL, err)
	}
	cookies, err := UnmarshalCookies(rawCookies, edit)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return fmt.Errorf("session: no cookies found")
	}
	client.Jar.SetCookies(u, cookies)
	return nil
}

// GetCookies returns the cookies the client jar holds for the given URL.
func GetCookies(client *http.Client, rawURL string) (string, error) {
	if client.Jar == nil {
		return "", fmt.Errorf("session: missing cookie jar")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("session: invalid url %q: %w", rawURL, err)
	}
	return MarshalCookies(client.Jar.Cookies(u)), nil
}
