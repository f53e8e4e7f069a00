package fhttp

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// NewClient returns a standard http client. If impersonate is set, requests
// go through a tls-client transport that mimics the Chrome TLS fingerprint,
// which the provider's bot protection expects from browser sessions.
func NewClient(timeout time.Duration, proxy string, impersonate bool) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &http.Client{
		Timeout: timeout,
	}
	switch {
	case impersonate:
		t, err := NewTransport(timeout, proxy)
		if err != nil {
			return nil, err
		}
		client.Transport = t
	case proxy != "":
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("fhttp: invalid proxy URL %q: %w", proxy, err)
		}
		client.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	return client, nil
}

type transport struct {
	client tlsclient.HttpClient
}

// NewTransport returns a round tripper backed by tls-client. Cookies and
// redirects are left to the wrapping http.Client.
func NewTransport(timeout time.Duration, proxy string) (http.RoundTripper, error) {
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 30
	}
	options := []tlsclient.HttpClientOption{
		tlsclient.WithTimeoutSeconds(secs),
		tlsclient.WithClientProfile(profiles.Chrome_120),
		tlsclient.WithNotFollowRedirects(),
	}
	if proxy != "" {
		options = append(options, tlsclient.WithProxyUrl(proxy))
	}
	c, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("fhttp: couldn't create tls client: %w", err)
	}
	return &transport{client: c}, nil
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	freq, err := toRequest(req)
	if err != nil {
		return nil, err
	}
	fresp, err := t.client.Do(freq)
	if err != nil {
		return nil, err
	}
	return toResponse(fresp, req), nil
}

func toRequest(req *http.Request) (*fhttp.Request, error) {
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("fhttp: couldn't create request: %w", err)
	}
	freq.Header = fhttp.Header(req.Header.Clone())
	freq.ContentLength = req.ContentLength
	if req.Host != "" {
		freq.Host = req.Host
	}
	return freq, nil
}

func toResponse(fresp *fhttp.Response, req *http.Request) *http.Response {
	return &http.Response{
		Status:        fresp.Status,
		StatusCode:    fresp.StatusCode,
		Proto:         fresp.Proto,
		ProtoMajor:    fresp.ProtoMajor,
		ProtoMinor:    fresp.ProtoMinor,
		Header:        http.Header(fresp.Header),
		Body:          fresp.Body,
		ContentLength: fresp.ContentLength,
		Uncompressed:  fresp.Uncompressed,
		Request:       req,
	}
}
