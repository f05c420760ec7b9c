// -----------------------------------------------------------------------
// Package validation decides whether a URL may be fetched: scheme, private
// network destinations and robots.txt policy.
// -----------------------------------------------------------------------

package validation

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/gleaner/internal/models"
)

// privateCIDRs are parsed once at package init
var privateCIDRs []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",  // CGNAT
		"169.254.0.0/16", // link-local
		"0.0.0.0/8",      // this network
		"198.18.0.0/15",  // benchmarking
		"224.0.0.0/4",    // multicast
		"240.0.0.0/4",    // reserved, includes broadcast
		"fc00::/7",       // IPv6 ULA
		"ff00::/8",       // IPv6 multicast
	} {
		_, parsed, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad CIDR %q: %v", cidr, err))
		}
		privateCIDRs = append(privateCIDRs, parsed)
	}
}

// IsPrivateIP reports whether ip is loopback, link-local, multicast,
// unspecified or in a private or reserved range
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// LookupFunc resolves a host to its addresses
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// URLValidator checks scheme and destination address of crawl targets
type URLValidator struct {
	allowPrivate bool
	lookup       LookupFunc
}

// NewURLValidator creates a validator. allowPrivate disables the private
// network check and must only be set for local development.
func NewURLValidator(allowPrivate bool) *URLValidator {
	return &URLValidator{
		allowPrivate: allowPrivate,
		lookup:       net.DefaultResolver.LookupHost,
	}
}

// WithLookup replaces the resolver, used by tests
func (v *URLValidator) WithLookup(lookup LookupFunc) *URLValidator {
	v.lookup = lookup
	return v
}

// Validate parses rawURL and rejects unsupported schemes (InvalidURL) and
// hosts resolving to private or reserved addresses (Blocked). A resolution
// failure is a transient network error.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, models.NewInvalidURLError(rawURL, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, models.NewInvalidURLError(rawURL, fmt.Errorf("unsupported scheme %q (only http/https allowed)", parsed.Scheme))
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, models.NewInvalidURLError(rawURL, fmt.Errorf("missing hostname"))
	}
	if v.allowPrivate {
		return parsed, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return nil, models.NewBlockedError(rawURL, fmt.Sprintf("address %s is private or reserved", host))
		}
		return parsed, nil
	}

	ips, err := v.lookup(ctx, host)
	if err != nil {
		return nil, models.NewNetworkError(rawURL, 0, fmt.Errorf("dns lookup failed for %s: %w", host, err))
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if IsPrivateIP(ip) {
			return nil, models.NewBlockedError(rawURL, fmt.Sprintf("%s resolves to private address %s", host, ipStr))
		}
	}
	return parsed, nil
}

// NewTransport returns the transport used for every outbound crawl request.
// Unless private networks are allowed, its dialer re-checks the resolved
// addresses and connects to the checked IP so DNS rebinding cannot slip a
// private destination past Validate.
func NewTransport(allowPrivate bool) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext:         dialer.DialContext,
	}
	if allowPrivate {
		return transport
	}

	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("ssrf dialer: invalid address %q: %w", addr, err)
		}

		ips, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("ssrf dialer: dns lookup %s: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("ssrf dialer: no addresses for %s", host)
		}

		for _, ipStr := range ips {
			ip := net.ParseIP(ipStr)
			if ip == nil {
				continue
			}
			if IsPrivateIP(ip) {
				return nil, models.NewBlockedError(addr, fmt.Sprintf("%s resolves to private address %s", host, ipStr))
			}
		}

		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
	return transport
}
