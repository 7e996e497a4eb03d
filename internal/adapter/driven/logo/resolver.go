// Package logo implements the LogoResolver port as an ordered chain of
// strategies ending in a generated text avatar.
package logo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LogoResolver = (*Resolver)(nil)

// Config selects provider endpoints. Empty URLs use the public services.
type Config struct {
	Timeout      time.Duration
	IconHorseURL string
	GoogleURL    string
	AvatarURL    string
}

// Resolver walks its strategies in order and returns the first hit. When
// every strategy misses, or the website cannot be parsed, it returns a text
// avatar URL. Resolve never fails.
type Resolver struct {
	strategies []Strategy
	avatarURL  string
	logger     *slog.Logger
}

// NewResolver creates a Resolver over an explicit strategy chain.
func NewResolver(avatarURL string, logger *slog.Logger, strategies ...Strategy) *Resolver {
	if avatarURL == "" {
		avatarURL = "https://ui-avatars.com"
	}
	return &Resolver{
		strategies: strategies,
		avatarURL:  avatarURL,
		logger:     logger,
	}
}

// New creates the standard chain: static table, icon.horse, Google favicons.
func New(client *http.Client, cfg Config, logger *slog.Logger) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewResolver(cfg.AvatarURL, logger,
		KnownLogos,
		NewIconHorse(client, cfg.IconHorseURL, timeout),
		NewGoogleFavicons(client, cfg.GoogleURL, timeout),
	)
}

// Resolve returns a logo URL for website.
func (r *Resolver) Resolve(ctx context.Context, website string) (logoURL string) {
	raw := strings.TrimSpace(website)
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("logo resolution panicked", "website", raw, "panic", v)
			logoURL = r.placeholder(stripScheme(raw))
		}
	}()

	host, ok := hostOf(raw)
	if !ok {
		r.logger.Info("invalid website URL, using text logo", "website", raw)
		return r.placeholder(stripScheme(raw))
	}

	for _, s := range r.strategies {
		if u, ok := r.try(ctx, s, host); ok {
			r.logger.Info("logo resolved", "host", host, "strategy", s.Name(), "logo", u)
			return u
		}
		r.logger.Debug("logo strategy missed", "host", host, "strategy", s.Name())
	}

	r.logger.Info("no favicon found, using text logo", "host", host)
	return r.placeholder(host)
}

// try runs one strategy, treating a panic as a miss.
func (r *Resolver) try(ctx context.Context, s Strategy, host string) (u string, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("logo strategy panicked", "strategy", s.Name(), "host", host, "panic", v)
			u, ok = "", false
		}
	}()
	if ctx.Err() != nil {
		return "", false
	}
	return s.Lookup(ctx, host)
}

func (r *Resolver) placeholder(label string) string {
	return fmt.Sprintf("%s/api/?name=%s&background=random&size=128", r.avatarURL, url.QueryEscape(label))
}

// hostOf normalizes raw to an https URL when it has no http(s) scheme and
// returns its lower-cased hostname.
func hostOf(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	candidate := raw
	if !hasHTTPScheme(raw) {
		candidate = "https://" + raw
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return "", false
	}
	return host, true
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func stripScheme(s string) string {
	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			return s[len(scheme):]
		}
	}
	return s
}
