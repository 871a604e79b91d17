package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrRedirectBlocked is returned when a redirect URI is not acceptable.
var ErrRedirectBlocked = errors.New("security: redirect URI blocked")

// RedirectPolicy lists where OAuth flows may send the user back to.
type RedirectPolicy struct {
	// AllowDomains restricts redirect hosts. Subdomains match: allowing
	// "example.com" also allows "app.example.com". Empty allows any host.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains takes precedence over AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`

	// AllowLoopback permits plain http to localhost and loopback IPs, for
	// local development.
	AllowLoopback bool `yaml:"allow_loopback"`
}

// RedirectFilter validates redirect URIs before a state is issued.
type RedirectFilter struct {
	allow    []string
	deny     []string
	loopback bool
}

// NewRedirectFilter creates a filter from the given policy.
func NewRedirectFilter(p RedirectPolicy) *RedirectFilter {
	return &RedirectFilter{
		allow:    normalizeDomains(p.AllowDomains),
		deny:     normalizeDomains(p.DenyDomains),
		loopback: p.AllowLoopback,
	}
}

// Check returns nil if rawURL may be used as a redirect URI. Only absolute
// https URLs without a fragment pass, plus http loopback when allowed.
func (f *RedirectFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrRedirectBlocked, err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrRedirectBlocked)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("%w: fragment not allowed", ErrRedirectBlocked)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: userinfo not allowed", ErrRedirectBlocked)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !f.loopback || !isLoopback(host) {
			return fmt.Errorf("%w: http only allowed for loopback", ErrRedirectBlocked)
		}
	default:
		return fmt.Errorf("%w: scheme %q", ErrRedirectBlocked, parsed.Scheme)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrRedirectBlocked, host)
		}
	}
	if len(f.allow) == 0 || (f.loopback && isLoopback(host)) {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrRedirectBlocked, host)
}

// IsConfigured reports whether any domain list is set.
func (f *RedirectFilter) IsConfigured() bool {
	return len(f.allow) > 0 || len(f.deny) > 0
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// matchDomain checks if host equals domain or is a subdomain of it.
// "notexample.com" does not match "example.com".
func matchDomain(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
