// Package security guards outbound HTTP done on behalf of operators: webhook
// fan-out and remote media fetches both dial URLs taken from configuration or
// channel payloads, so every connection is checked against internal address
// ranges before it is made.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// dnsTimeout bounds name resolution during dial and redirect checks.
const dnsTimeout = 500 * time.Millisecond

var (
	// ErrBlockedAddress is returned when a request targets an internal range.
	ErrBlockedAddress = errors.New("outbound request to blocked address")
	// ErrTooManyRedirects is returned when the redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrResolveFailed is returned when name resolution fails or times out.
	ErrResolveFailed = errors.New("host resolution failed")
)

// blockedCIDRs covers loopback, RFC 1918, link-local (including cloud
// metadata endpoints), CGNAT and their IPv6 equivalents.
var blockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedNets = mustParseCIDRs(blockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("security: bad builtin CIDR %q: %v", cidr, err))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

func isBlocked(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SafeTransport is an http.RoundTripper whose dialer refuses connections to
// blocked ranges. Validation happens on the resolved addresses at dial time,
// so DNS answers pointing into private space are caught even when the URL
// itself looks public.
type SafeTransport struct {
	base     *http.Transport
	resolver Resolver
}

// NewSafeTransport wraps base (or a fresh http.Transport when nil) with
// address validation. resolver may be nil to use net.DefaultResolver.
func NewSafeTransport(base *http.Transport, resolver Resolver) *SafeTransport {
	if base == nil {
		base = &http.Transport{}
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	st := &SafeTransport{base: base, resolver: resolver}
	base.DialContext = st.dial
	return st
}

// RoundTrip implements http.RoundTripper.
func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.base.RoundTrip(req)
}

// dial resolves addr, validates every answer, and connects to the first.
// Validating all answers before dialing any closes the rebinding window where
// a safe address is mixed with a private one.
func (st *SafeTransport) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("security: invalid address %q: %w", addr, err)
	}

	dialer := &net.Dialer{}

	if ip := net.ParseIP(host); ip != nil {
		if isBlocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return dialer.DialContext(ctx, network, addr)
	}

	ips, err := resolveChecked(ctx, st.resolver, host)
	if err != nil {
		return nil, err
	}

	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

// resolveChecked resolves host with a bounded timeout and rejects the whole
// answer set if any address is blocked.
func resolveChecked(ctx context.Context, resolver Resolver, host string) ([]net.IPAddr, error) {
	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: host %q: %v", ErrResolveFailed, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: host %q has no addresses", ErrResolveFailed, host)
	}
	for _, ipAddr := range ips {
		if isBlocked(ipAddr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedAddress, ipAddr.IP, host)
		}
	}
	return ips, nil
}

// CheckRedirect builds an http.Client redirect policy that re-validates every
// redirect target and caps the chain length.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlockedAddress)
		}
		if ip := net.ParseIP(host); ip != nil {
			if isBlocked(ip) {
				return fmt.Errorf("%w: redirect to %s", ErrBlockedAddress, ip)
			}
			return nil
		}

		_, err := resolveChecked(req.Context(), resolver, host)
		return err
	}
}

// ValidateURL checks a URL before it is accepted into configuration, giving
// operators early feedback instead of a delivery-time failure. It resolves
// the host and applies the same rules the transport enforces at dial time.
func ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("%w: unable to extract host from URL", ErrBlockedAddress)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedAddress, parsed.Scheme)
	}

	host := parsed.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isBlocked(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return nil
	}

	_, err = resolveChecked(ctx, net.DefaultResolver, host)
	return err
}

// NewSafeHTTPClient builds the http.Client used for webhook fan-out and
// remote media fetches.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := NewSafeTransport(nil, nil)
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, transport.resolver),
	}
}
