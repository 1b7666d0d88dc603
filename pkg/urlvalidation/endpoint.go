package urlvalidation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrInvalidEndpoint is returned for URLs that can never be used: bad
// syntax, a non-HTTP scheme or no host.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// ErrPrivateAddress is returned when an endpoint resolves or connects to
// a private or reserved address.
var ErrPrivateAddress = errors.New("private or reserved address")

// maxRedirects bounds redirects followed by clients from NewClient.
const maxRedirects = 5

// Option configures endpoint validation.
type Option func(*validationConfig)

type validationConfig struct {
	allowPrivate bool
	allowedHosts map[string]bool
	lookup       func(ctx context.Context, host string) ([]string, error)
}

// AllowPrivateIPs disables the private address check. Local model servers
// and tests need it.
func AllowPrivateIPs() Option {
	return func(c *validationConfig) {
		c.allowPrivate = true
	}
}

// AllowHosts exempts the named hosts from the private address check.
func AllowHosts(hosts ...string) Option {
	return func(c *validationConfig) {
		if c.allowedHosts == nil {
			c.allowedHosts = make(map[string]bool, len(hosts))
		}
		for _, h := range hosts {
			c.allowedHosts[strings.ToLower(h)] = true
		}
	}
}

// WithLookup replaces the DNS lookup.
func WithLookup(fn func(ctx context.Context, host string) ([]string, error)) Option {
	return func(c *validationConfig) {
		c.lookup = fn
	}
}

// ValidateEndpoint checks that a URL is safe to send recognized screen text
// to. It rejects non-HTTP schemes and hosts resolving to private or
// reserved addresses.
func ValidateEndpoint(ctx context.Context, rawURL string, opts ...Option) error {
	cfg := validationConfig{lookup: net.DefaultResolver.LookupHost}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("%w: scheme %q not allowed, use http or https", ErrInvalidEndpoint, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: URL has no hostname", ErrInvalidEndpoint)
	}
	if cfg.allowPrivate || cfg.allowedHosts[strings.ToLower(host)] {
		return nil
	}

	ips, err := cfg.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname %q: %w", host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if IsPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, ipStr)
		}
	}
	return nil
}

// DialControl is a net.Dialer Control function refusing connections to
// private or reserved addresses. It sees the resolved address of every
// connection, so redirects and DNS answers that change after
// ValidateEndpoint are checked too.
func DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || IsPrivateIP(ip) {
		return fmt.Errorf("dial %s: %w", address, ErrPrivateAddress)
	}
	return nil
}

// NewClient returns an HTTP client whose connections all pass
// DialControl. Redirects must stay on http or https and are capped.
func NewClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   DialControl,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     60 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if s := req.URL.Scheme; s != "http" && s != "https" {
				return fmt.Errorf("%w: redirect to scheme %q", ErrInvalidEndpoint, s)
			}
			return nil
		},
	}
}

var reservedNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

// IsPrivateIP reports whether ip is loopback, private, link-local,
// multicast or otherwise reserved.
func IsPrivateIP(ip net.IP) bool {
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", s, err))
		}
		nets = append(nets, n)
	}
	return nets
}
