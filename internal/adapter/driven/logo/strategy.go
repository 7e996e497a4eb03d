package logo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds each favicon provider request.
const DefaultTimeout = 5 * time.Second

const acceptImages = "image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"

// Strategy is one step of the resolution chain. Lookup reports ok=false to
// pass the host on to the next strategy.
type Strategy interface {
	Name() string
	Lookup(ctx context.Context, host string) (logoURL string, ok bool)
}

// StaticTable maps hostnames to fixed logo URLs without any network call.
type StaticTable map[string]string

// KnownLogos is the built-in override table.
var KnownLogos = StaticTable{
	"github.com":  "https://github.githubassets.com/favicons/favicon.svg",
	"mongodb.com": "https://www.mongodb.com/assets/images/global/favicon.ico",
}

// Name implements Strategy.
func (StaticTable) Name() string { return "static" }

// Lookup implements Strategy.
func (t StaticTable) Lookup(_ context.Context, host string) (string, bool) {
	u, ok := t[host]
	return u, ok
}

// FaviconProvider asks a third-party favicon service whether it can serve a
// logo for a host. Only the response status is checked; the image itself is
// never downloaded.
type FaviconProvider struct {
	name    string
	client  *http.Client
	timeout time.Duration
	build   func(host string) string
}

// NewIconHorse returns a provider keyed by path: {baseURL}/icon/{host}.
func NewIconHorse(client *http.Client, baseURL string, timeout time.Duration) *FaviconProvider {
	if baseURL == "" {
		baseURL = "https://icon.horse"
	}
	return &FaviconProvider{
		name:    "icon.horse",
		client:  client,
		timeout: timeout,
		build: func(host string) string {
			return baseURL + "/icon/" + url.PathEscape(host)
		},
	}
}

// NewGoogleFavicons returns a provider keyed by query:
// {baseURL}/s2/favicons?domain={host}&sz=128.
func NewGoogleFavicons(client *http.Client, baseURL string, timeout time.Duration) *FaviconProvider {
	if baseURL == "" {
		baseURL = "https://www.google.com"
	}
	return &FaviconProvider{
		name:    "google-favicons",
		client:  client,
		timeout: timeout,
		build: func(host string) string {
			return fmt.Sprintf("%s/s2/favicons?domain=%s&sz=128", baseURL, url.QueryEscape(host))
		},
	}
}

// Name implements Strategy.
func (p *FaviconProvider) Name() string { return p.name }

// Lookup implements Strategy. The request is abandoned once the provider
// timeout elapses.
func (p *FaviconProvider) Lookup(ctx context.Context, host string) (string, bool) {
	logoURL := p.build(host)

	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Accept", acceptImages)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false
	}
	return logoURL, true
}
